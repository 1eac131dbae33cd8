// Package clientstate aggregates one keystore, one vault view and one store
// under a stable client id, and tracks the per-client lifecycle state
// machine: Absent -> Empty -> Dirty -> Committed -> Unloaded -> Purged.
package clientstate

import (
	"fmt"
	"sync"

	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/keystore"
	"github.com/vaultworks/stronghold/internal/store"
	"github.com/vaultworks/stronghold/internal/vaulterrors"
	"github.com/vaultworks/stronghold/internal/vaultview"
)

// ClientID identifies a client across its entire lifetime, including across
// unload/reload and snapshot round-trips.
type ClientID = idhash.ID

// State is a node in the per-client lifecycle state machine.
type State int

const (
	Absent State = iota
	Empty
	Dirty
	Committed
	Unloaded
	Purged
)

func (s State) String() string {
	switch s {
	case Absent:
		return "Absent"
	case Empty:
		return "Empty"
	case Dirty:
		return "Dirty"
	case Committed:
		return "Committed"
	case Unloaded:
		return "Unloaded"
	case Purged:
		return "Purged"
	default:
		return "Unknown"
	}
}

// Data is the in-memory working copy of a client's state: its keystore,
// record view and general-purpose store. It exists whenever the client is
// in Empty, Dirty or Committed; Unloaded drops it (retaining only the
// snapshot container's serialized copy) and Absent/Purged never have one.
type Data struct {
	Keystore *keystore.Store
	Vault    *vaultview.View
	Store    *store.Store
}

func newData() *Data {
	s, _ := store.New() // ristretto.NewCache only fails on invalid config constants
	return &Data{Keystore: keystore.New(), Vault: vaultview.New(), Store: s}
}

// Client is one client's lifecycle state plus its working copy, when one
// exists.
type Client struct {
	mu    sync.RWMutex
	id    ClientID
	state State
	data  *Data
}

// ID returns the client's stable identifier.
func (c *Client) ID() ClientID { return c.id }

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Data returns the client's working copy, or nil if it has none (Unloaded,
// Absent or Purged).
func (c *Client) Data() *Data {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// MarkDirty transitions Empty/Committed -> Dirty, reflecting that a caller
// just mutated the working copy. It is a no-op from Dirty and an error from
// any state without a working copy.
func (c *Client) MarkDirty() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Empty, Committed, Dirty:
		c.state = Dirty
		return nil
	default:
		return vaulterrors.New(vaulterrors.KindClientDataNotPresent, "clientstate: mark dirty", fmt.Errorf("client is %s", c.state))
	}
}

// Manager owns every client's lifecycle state, keyed by ClientID.
type Manager struct {
	mu      sync.RWMutex
	clients map[ClientID]*Client
}

// NewManager returns a manager with no clients.
func NewManager() *Manager {
	return &Manager{clients: make(map[ClientID]*Client)}
}

// CreateClient moves id Absent -> Empty, allocating a fresh working copy.
// It fails if id is already known.
func (m *Manager) CreateClient(id ClientID) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[id]; exists {
		return nil, vaulterrors.New(vaulterrors.KindAlreadyExists, "clientstate: create client", fmt.Errorf("client %x already exists", id))
	}
	c := &Client{id: id, state: Empty, data: newData()}
	m.clients[id] = c
	return c, nil
}

// Lookup returns id's Client, if known (in any state including Purged).
func (m *Manager) Lookup(id ClientID) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok
}

// Commit moves id Empty or Dirty -> Committed. It is a no-op if already
// Committed.
func (m *Manager) Commit(id ClientID) error {
	c, err := m.require(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Empty, Dirty, Committed:
		c.state = Committed
		return nil
	default:
		return vaulterrors.New(vaulterrors.KindClientDataNotPresent, "clientstate: commit", fmt.Errorf("client is %s, not Empty, Dirty or Committed", c.state))
	}
}

// Unload moves id Committed -> Unloaded, dropping the working copy. The
// caller is responsible for having already persisted the working copy
// (e.g. into a snapshot container) before calling Unload.
func (m *Manager) Unload(id ClientID) error {
	c, err := m.require(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Committed {
		return vaulterrors.New(vaulterrors.KindClientDataNotPresent, "clientstate: unload", fmt.Errorf("client is %s, not Committed", c.state))
	}
	c.state = Unloaded
	c.data = nil
	return nil
}

// Load moves id Unloaded -> Committed, attaching a freshly restored working
// copy (typically decoded from a snapshot container).
func (m *Manager) Load(id ClientID, data *Data) error {
	c, err := m.require(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Unloaded {
		return vaulterrors.New(vaulterrors.KindClientDataNotPresent, "clientstate: load", fmt.Errorf("client is %s, not Unloaded", c.state))
	}
	c.data = data
	c.state = Committed
	return nil
}

// Refresh replaces id's working copy in place without changing its lifecycle
// state, for callers that merge external state (e.g. a synchronization
// import) directly into an already-loaded client. It fails if the client has
// no working copy to replace (Absent, Unloaded or Purged).
func (m *Manager) Refresh(id ClientID, data *Data) error {
	c, err := m.require(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Empty, Dirty, Committed:
		c.data = data
		return nil
	default:
		return vaulterrors.New(vaulterrors.KindClientDataNotPresent, "clientstate: refresh", fmt.Errorf("client is %s", c.state))
	}
}

// LoadFromAbsent registers a brand-new client directly into Committed state
// with a restored working copy, for load_client_from_snapshot on a client
// id the manager has never seen in this process.
func (m *Manager) LoadFromAbsent(id ClientID, data *Data) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[id]; exists {
		return nil, vaulterrors.New(vaulterrors.KindAlreadyExists, "clientstate: load from absent", fmt.Errorf("client %x already exists", id))
	}
	c := &Client{id: id, state: Committed, data: data}
	m.clients[id] = c
	return c, nil
}

// Purge moves id to Purged from any state, dropping the working copy. The
// caller is responsible for zeroizing any snapshot-container ciphertext
// separately.
func (m *Manager) Purge(id ClientID) error {
	c, err := m.require(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.state = Purged
	c.data = nil
	c.mu.Unlock()
	return nil
}

func (m *Manager) require(id ClientID) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, vaulterrors.New(vaulterrors.KindClientDataNotPresent, "clientstate", fmt.Errorf("client %x is unknown", id))
	}
	return c, nil
}
