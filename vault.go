package stronghold

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultworks/stronghold/internal/firewall"
	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/procedures"
	"github.com/vaultworks/stronghold/internal/telemetry"
	"github.com/vaultworks/stronghold/internal/vaultview"
)

// ClientVault is a handle to one vault within a Client's working copy,
// scoped to the vault path it was opened with.
type ClientVault struct {
	client  *Client
	vaultID idhash.ID
}

// ensureKey returns the vault's key, creating both the keystore entry and
// the vault view entry on first use.
func (v *ClientVault) ensureKey() ([]byte, error) {
	data := v.client.requireData()
	if !data.Keystore.ContainsKey(v.vaultID) {
		if err := data.Keystore.CreateKey(v.vaultID); err != nil {
			return nil, err
		}
	}
	var key []byte
	err := data.Keystore.GetKey(v.vaultID, func(k []byte) error {
		key = append([]byte(nil), k...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !data.Vault.VaultExists(v.vaultID) {
		if err := data.Vault.CreateVault(v.vaultID, key); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// WriteSecret seals payload under location, creating the record if absent
// or overwriting it (under a fresh blob id) if present.
func (v *ClientVault) WriteSecret(location Location, payload []byte) error {
	key, err := v.ensureKey()
	if err != nil {
		return err
	}
	defer zero(key)

	_, recordID := location.Resolve()
	var hint vaultview.RecordHint
	copy(hint[:], location.RecordPath)

	if v.client.requireData().Vault.ContainsRecord(v.vaultID, recordID) {
		err = v.client.requireData().Vault.Update(key, v.vaultID, recordID, payload)
	} else {
		err = v.client.requireData().Vault.Write(key, v.vaultID, recordID, payload, hint)
	}
	if err != nil {
		return err
	}
	return v.client.markDirty()
}

// ReadSecret decrypts the record at location into a guarded buffer and
// passes it to f, closing the buffer the instant f returns.
func (v *ClientVault) ReadSecret(location Location, f func(plaintext []byte) error) error {
	return v.client.vaultGetGuard(location, f)
}

// RevokeSecret marks location's record for deletion without erasing its
// ciphertext (see VaultExists/RecordExists and GarbageCollect).
func (v *ClientVault) RevokeSecret(location Location) error {
	key, err := v.keyOrFail()
	if err != nil {
		return err
	}
	defer zero(key)
	_, recordID := location.Resolve()
	if err := v.client.requireData().Vault.Revoke(key, v.vaultID, recordID); err != nil {
		return err
	}
	return v.client.markDirty()
}

// GarbageCollect permanently drops every revoked record in this vault.
func (v *ClientVault) GarbageCollect() error {
	key, err := v.keyOrFail()
	if err != nil {
		return err
	}
	defer zero(key)
	if err := v.client.requireData().Vault.GarbageCollectVault(key, v.vaultID); err != nil {
		return err
	}
	return v.client.markDirty()
}

func (v *ClientVault) keyOrFail() ([]byte, error) {
	data := v.client.requireData()
	var key []byte
	err := data.Keystore.GetKey(v.vaultID, func(k []byte) error {
		key = append([]byte(nil), k...)
		return nil
	})
	return key, err
}

// VaultExists reports whether this vault has been created in the working
// copy.
func (v *ClientVault) VaultExists() bool {
	return v.client.requireData().Vault.VaultExists(v.vaultID)
}

// RecordExists reports whether location's record exists (and is not
// revoked).
func (v *ClientVault) RecordExists(location Location) bool {
	_, recordID := location.Resolve()
	return v.client.requireData().Vault.ContainsRecord(v.vaultID, recordID)
}

// ListRecords returns the id and hint of every non-revoked record in this
// vault, in no particular order.
func (v *ClientVault) ListRecords() ([]vaultview.HintEntry, error) {
	key, err := v.keyOrFail()
	if err != nil {
		return nil, err
	}
	defer zero(key)
	return v.client.requireData().Vault.ListHintsAndIDs(key, v.vaultID)
}

// ExecuteProcedure runs a single procedure against this client's working
// copy and reports the outcome through the client's metrics, if any.
func (c *Client) ExecuteProcedure(p procedures.Procedure) (any, error) {
	data := c.requireData()
	runner := procedures.NewRunner(data.Vault, data.Keystore)

	timer := telemetry.NewTimer()
	results, err := runner.Run([]procedures.Procedure{p})
	if c.strong.metrics != nil {
		c.strong.metrics.ObserveProcedure(fmt.Sprintf("%T", p), timer, err)
	}
	if err != nil {
		return nil, err
	}
	if markErr := c.markDirty(); markErr != nil {
		return nil, markErr
	}
	return results[0], nil
}

// ExecuteProcedureAsPeer runs p on behalf of a named remote peer, first
// consulting the Stronghold's firewall gate (if one was configured) with
// the given vault path and required capabilities. It denies the request
// outright, without touching the vault, if no gate is configured.
func (c *Client) ExecuteProcedureAsPeer(ctx context.Context, peer, vaultPath string, capabilities []firewall.Capability, p procedures.Procedure) (any, error) {
	if c.strong.firewall == nil {
		return nil, fmt.Errorf("stronghold: no firewall configured, denying peer %q by default", peer)
	}

	allowed, err := c.strong.firewall.Allow(ctx, firewall.Request{
		Peer:         peer,
		Procedure:    fmt.Sprintf("%T", p),
		VaultPath:    vaultPath,
		Capabilities: capabilities,
	})
	if c.strong.metrics != nil {
		c.strong.metrics.FirewallDecision(allowed)
	}
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("stronghold: peer %q is not permitted to run %T on %q", peer, p, vaultPath)
	}
	return c.ExecuteProcedure(p)
}

// Store returns the client's general-purpose key/value Store.
func (c *Client) Store() *StoreHandle {
	return &StoreHandle{client: c}
}

// StoreHandle exposes a client's store.Store as part of the external
// surface, so callers don't reach into internal packages directly.
type StoreHandle struct {
	client *Client
}

// Insert files value under key with an optional ttl (zero means no
// expiry).
func (h *StoreHandle) Insert(key string, value []byte, ttl time.Duration) error {
	h.client.requireData().Store.Insert(key, value, ttl)
	return h.client.markDirty()
}

// Get retrieves key's value.
func (h *StoreHandle) Get(key string) ([]byte, bool) {
	return h.client.requireData().Store.Get(key)
}

// ContainsKey reports whether key is present and unexpired.
func (h *StoreHandle) ContainsKey(key string) bool {
	return h.client.requireData().Store.ContainsKey(key)
}

// Delete removes key.
func (h *StoreHandle) Delete(key string) error {
	h.client.requireData().Store.Delete(key)
	return h.client.markDirty()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
