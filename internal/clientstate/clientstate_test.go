package clientstate_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vaultworks/stronghold/internal/clientstate"
	"github.com/vaultworks/stronghold/internal/idhash"
	"github.com/vaultworks/stronghold/internal/vaulterrors"
)

func TestLifecycleHappyPath(t *testing.T) {
	m := clientstate.NewManager()
	id := idhash.Derive([]byte("alice"))

	c, err := m.CreateClient(id)
	require.NoError(t, err)
	require.Equal(t, clientstate.Empty, c.State())

	require.NoError(t, c.MarkDirty())
	require.Equal(t, clientstate.Dirty, c.State())

	require.NoError(t, m.Commit(id))
	require.Equal(t, clientstate.Committed, c.State())

	require.NoError(t, m.Unload(id))
	require.Equal(t, clientstate.Unloaded, c.State())
	require.Nil(t, c.Data())

	data := c.Data()
	_ = data
	restored := &clientstate.Data{}
	require.NoError(t, m.Load(id, restored))
	require.Equal(t, clientstate.Committed, c.State())
}

func TestCreateClientRejectsDuplicate(t *testing.T) {
	m := clientstate.NewManager()
	id := idhash.Derive([]byte("bob"))
	_, err := m.CreateClient(id)
	require.NoError(t, err)

	_, err = m.CreateClient(id)
	require.Error(t, err)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindAlreadyExists))
}

func TestPurgeThenLoadFails(t *testing.T) {
	m := clientstate.NewManager()
	id := idhash.Derive([]byte("carol"))
	_, err := m.CreateClient(id)
	require.NoError(t, err)

	require.NoError(t, m.Purge(id))
	err = m.Load(id, &clientstate.Data{})
	require.Error(t, err)
	require.True(t, vaulterrors.Is(err, vaulterrors.KindClientDataNotPresent))
}

func TestMarkDirtyWithoutWorkingCopyFails(t *testing.T) {
	m := clientstate.NewManager()
	id := idhash.Derive([]byte("dave"))
	c, err := m.CreateClient(id)
	require.NoError(t, err)
	require.NoError(t, c.MarkDirty())
	require.NoError(t, m.Commit(id))
	require.NoError(t, m.Unload(id))

	err = c.MarkDirty()
	require.Error(t, err)
}
