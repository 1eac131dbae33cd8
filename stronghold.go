// Package stronghold is the external surface of the vault engine: a
// process-local handle managing clients, each holding a keystore, a record
// vault and a general-purpose store, all periodically committed into an
// encrypted snapshot container and, from there, to disk.
package stronghold

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vaultworks/stronghold/internal/clientstate"
	"github.com/vaultworks/stronghold/internal/firewall"
	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/snapshotcodec"
	"github.com/vaultworks/stronghold/internal/snapshotstore"
	"github.com/vaultworks/stronghold/internal/telemetry"
	"github.com/vaultworks/stronghold/internal/vaulterrors"
)

// Stronghold is a handle over a snapshot container and the clients loaded
// against it. Multiple independent instances may coexist in one process;
// Default() is a convenience constructor, not a process-wide singleton.
type Stronghold struct {
	clients   *clientstate.Manager
	container *snapshotstore.Container

	metrics  *telemetry.Metrics
	logger   *log.Logger
	firewall *firewall.Gate

	snapshotKeyLocation *Location
	snapshotKeyClient   *Client
}

// Option configures a Stronghold built with New.
type Option func(*Stronghold)

// WithRegistry registers this instance's counters and histograms against
// reg instead of leaving metrics disabled.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Stronghold) { s.metrics = telemetry.New(reg) }
}

// WithLogger attaches a structured logger used for lifecycle and commit
// events. Without this option, logging is a no-op.
func WithLogger(logger *log.Logger) Option {
	return func(s *Stronghold) { s.logger = logger }
}

// WithFirewall attaches a policy gate that ExecuteProcedureAsPeer consults
// before running a procedure on behalf of a named remote peer.
func WithFirewall(gate *firewall.Gate) Option {
	return func(s *Stronghold) { s.firewall = gate }
}

// New builds a Stronghold with no clients and an empty snapshot container.
func New(opts ...Option) *Stronghold {
	s := &Stronghold{
		clients:   clientstate.NewManager(),
		container: snapshotstore.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Default returns a zero-configuration Stronghold: no metrics registry, no
// logger, no firewall. Distinct calls return independent instances.
func Default() *Stronghold {
	return New()
}

func (s *Stronghold) logLifecycle(state string) {
	if s.logger != nil {
		s.logger.Debug("client lifecycle transition", "state", state)
	}
	if s.metrics != nil {
		s.metrics.LifecycleTransition(state)
	}
}

// CreateClient moves path's client Absent -> Empty.
func (s *Stronghold) CreateClient(path string) (*Client, error) {
	id := idhash.Derive([]byte(path))
	handle, err := s.clients.CreateClient(id)
	if err != nil {
		return nil, err
	}
	s.logLifecycle("Empty")
	return &Client{strong: s, id: id, data: handle.Data()}, nil
}

// LoadClient returns path's existing in-memory client. It fails with
// ClientDataNotPresent if the client has no working copy (never created, or
// Unloaded/Purged).
func (s *Stronghold) LoadClient(path string) (*Client, error) {
	id := idhash.Derive([]byte(path))
	handle, ok := s.clients.Lookup(id)
	if !ok || handle.Data() == nil {
		return nil, vaulterrors.New(vaulterrors.KindClientDataNotPresent, "stronghold: load client", fmt.Errorf("client %q has no working copy", path))
	}
	return &Client{strong: s, id: id, data: handle.Data()}, nil
}

// LoadClientFromSnapshot decrypts snapshotPath with keyProvider, replaces
// s's snapshot container with the one read from the file, and attaches path's client (Absent or Unloaded) to its
// restored working copy.
func (s *Stronghold) LoadClientFromSnapshot(path string, keyProvider KeyProvider, snapshotPath string) (*Client, error) {
	if err := s.readSnapshotInto(snapshotPath, keyProvider); err != nil {
		return nil, err
	}

	id := idhash.Derive([]byte(path))
	data, err := s.container.GetState(id)
	if err != nil {
		return nil, err
	}

	if handle, ok := s.clients.Lookup(id); ok {
		if handle.State() == clientstate.Unloaded {
			if err := s.clients.Load(id, &clientstate.Data{Keystore: data.Keystore, Vault: data.Vault, Store: data.Store}); err != nil {
				return nil, err
			}
			return &Client{strong: s, id: id, data: handle.Data()}, nil
		}
		return nil, vaulterrors.New(vaulterrors.KindAlreadyExists, "stronghold: load client from snapshot", fmt.Errorf("client %q is %s, not Absent or Unloaded", path, handle.State()))
	}

	handle, err := s.clients.LoadFromAbsent(id, &clientstate.Data{Keystore: data.Keystore, Vault: data.Vault, Store: data.Store})
	if err != nil {
		return nil, err
	}
	s.logLifecycle("Committed")
	return &Client{strong: s, id: id, data: handle.Data()}, nil
}

// WriteClient promotes path's working copy into the snapshot container
// without writing to disk (Empty/Dirty/Committed -> Committed).
func (s *Stronghold) WriteClient(path string) error {
	id := idhash.Derive([]byte(path))
	handle, ok := s.clients.Lookup(id)
	if !ok {
		return vaulterrors.New(vaulterrors.KindClientDataNotPresent, "stronghold: write client", fmt.Errorf("client %q is unknown", path))
	}
	data := handle.Data()
	if data == nil {
		return vaulterrors.New(vaulterrors.KindClientDataNotPresent, "stronghold: write client", fmt.Errorf("client %q has no working copy", path))
	}
	if err := s.container.AddData(id, data.Keystore, data.Vault, data.Store); err != nil {
		return err
	}
	if err := s.clients.Commit(id); err != nil {
		return err
	}
	s.logLifecycle("Committed")
	return nil
}

// UnloadClient drops path's working copy, retaining only its snapshot copy.
func (s *Stronghold) UnloadClient(client *Client) error {
	if err := s.clients.Unload(client.id); err != nil {
		return err
	}
	s.logLifecycle("Unloaded")
	return nil
}

// PurgeClient destructively removes both the working copy and the snapshot
// copy of client.
func (s *Stronghold) PurgeClient(client *Client) error {
	if err := s.clients.Purge(client.id); err != nil {
		return err
	}
	s.container.PurgeClient(client.id)
	s.logLifecycle("Purged")
	return nil
}

// Commit writes every Committed client into snapshotPath, sealed under
// keyProvider's key. A nil keyProvider falls back to the key bound by a
// prior StoreSnapshotKeyAtLocation call, and fails if none was made.
func (s *Stronghold) Commit(snapshotPath string, keyProvider KeyProvider) error {
	return s.CommitWithKeyProvider(snapshotPath, keyProvider)
}

// CommitWithKeyProvider is the named long form of Commit.
func (s *Stronghold) CommitWithKeyProvider(snapshotPath string, keyProvider KeyProvider) error {
	timer := telemetry.NewTimer()

	if keyProvider == nil {
		if s.snapshotKeyLocation == nil {
			return fmt.Errorf("stronghold: commit: no key provider given and no snapshot key bound via StoreSnapshotKeyAtLocation")
		}
		keyProvider = StoredKeyProvider(s.snapshotKeyClient, *s.snapshotKeyLocation)
	}

	key, err := keyProvider.Key()
	if err != nil {
		return fmt.Errorf("stronghold: commit: obtain key: %w", err)
	}
	defer key.Close()

	blob, err := s.container.Export()
	if err != nil {
		return fmt.Errorf("stronghold: commit: export container: %w", err)
	}

	err = key.View(func(raw []byte) error {
		return snapshotcodec.WriteFile(snapshotPath, blob, raw, nil)
	})
	zero(blob)
	if s.metrics != nil {
		s.metrics.ObserveSnapshotWrite(timer)
		s.metrics.CommitResult(err == nil)
	}
	if err != nil {
		return fmt.Errorf("stronghold: commit: write snapshot: %w", err)
	}
	if s.logger != nil {
		s.logger.Info("committed snapshot", "path", snapshotPath)
	}
	return nil
}

func (s *Stronghold) readSnapshotInto(snapshotPath string, keyProvider KeyProvider) error {
	key, err := keyProvider.Key()
	if err != nil {
		return fmt.Errorf("stronghold: read snapshot: obtain key: %w", err)
	}
	defer key.Close()

	var blob []byte
	err = key.View(func(raw []byte) error {
		b, err := snapshotcodec.ReadFile(snapshotPath, raw, nil)
		if err != nil {
			return err
		}
		blob = b
		return nil
	})
	if err != nil {
		kind := vaulterrors.KindIO
		if strings.Contains(err.Error(), "authentication failed") {
			kind = vaulterrors.KindDecryption
		}
		return vaulterrors.New(kind, "stronghold: read snapshot", err)
	}
	defer zero(blob)

	if err := s.container.Import(blob); err != nil {
		return fmt.Errorf("stronghold: read snapshot: import container: %w", err)
	}
	return nil
}

// Reset discards every in-memory client and container entry, as if the
// process had just started, without touching any file on disk.
func (s *Stronghold) Reset() {
	s.clients = clientstate.NewManager()
	s.container = snapshotstore.New()
}

// Clear discards everything in memory, exactly as Reset does. It does not
// itself overwrite key material, container ciphertext or store values: the
// discarded guarded buffers are zeroed only when they are closed or
// finalized, and the rest is left to the garbage collector.
func (s *Stronghold) Clear() {
	s.Reset()
}

// StoreSnapshotKeyAtLocation writes keyProvider's key material into a vault
// record, and remembers that location so a future Commit without an
// explicit KeyProvider can be satisfied by reading it back.
func (s *Stronghold) StoreSnapshotKeyAtLocation(client *Client, keyProvider KeyProvider, location Location) error {
	key, err := keyProvider.Key()
	if err != nil {
		return err
	}
	defer key.Close()

	vault := client.Vault(string(location.VaultPath))
	err = key.View(func(raw []byte) error {
		return vault.WriteSecret(location, raw)
	})
	if err != nil {
		return err
	}
	s.snapshotKeyLocation = &location
	s.snapshotKeyClient = client
	return nil
}

// StoredKeyProvider returns a KeyProvider that reads the key bound by a
// prior StoreSnapshotKeyAtLocation call on client.
func StoredKeyProvider(client *Client, location Location) KeyProvider {
	return storedKeyProvider{client: client, location: location}
}
