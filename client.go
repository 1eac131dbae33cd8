package stronghold

import (
	"github.com/vaultworks/stronghold/internal/clientstate"
	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/memguard"
)

// Client is a handle to one client's working copy inside a Stronghold
// instance.
type Client struct {
	strong *Stronghold
	id     idhash.ID
	data   *clientstate.Data
}

// ID returns the client's stable identifier, derived from the path it was
// created or loaded with.
func (c *Client) ID() idhash.ID { return c.id }

// requireData fetches the live working copy from the manager every call
// rather than trusting c.data, since Unload/Load/Purge mutate it out from
// under any previously returned *Client.
func (c *Client) requireData() *clientstate.Data {
	handle, ok := c.strong.clients.Lookup(c.id)
	if !ok {
		return c.data
	}
	if d := handle.Data(); d != nil {
		c.data = d
	}
	return c.data
}

func (c *Client) markDirty() error {
	handle, ok := c.strong.clients.Lookup(c.id)
	if !ok {
		return nil
	}
	err := handle.MarkDirty()
	if err == nil {
		c.strong.logLifecycle("Dirty")
	}
	return err
}

// Vault returns a handle scoped to the vault named by vaultPath.
func (c *Client) Vault(vaultPath string) *ClientVault {
	return &ClientVault{client: c, vaultID: idhash.Derive([]byte(vaultPath))}
}

// vaultGetGuard decrypts location's record into a guarded buffer scoped to
// f, used both by ClientVault.ReadSecret and by storedKeyProvider.
func (c *Client) vaultGetGuard(location Location, f func(plain []byte) error) error {
	data := c.requireData()
	vaultID, recordID := location.Resolve()
	var key []byte
	err := data.Keystore.GetKey(vaultID, func(k []byte) error {
		key = append([]byte(nil), k...)
		return nil
	})
	if err != nil {
		return err
	}
	defer zero(key)

	return data.Vault.GetGuard(key, vaultID, recordID, func(buf *memguard.Buffer) error {
		return buf.View(f)
	})
}
