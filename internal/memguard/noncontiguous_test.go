package memguard_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vaultworks/stronghold/internal/memguard"
)

func randomSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, memguard.Size)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

func TestNonContiguousUnlockRecoversSecret(t *testing.T) {
	secret := randomSecret(t)
	original := append([]byte(nil), secret...)

	nc, err := memguard.New(secret)
	require.NoError(t, err)
	defer nc.Close()

	buf, err := nc.Unlock()
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.View(func(p []byte) error {
		require.True(t, bytes.Equal(p, original))
		return nil
	}))
}

func TestNonContiguousRefreshPreservesSecretAndChangesShards(t *testing.T) {
	secret := randomSecret(t)
	nc, err := memguard.New(secret)
	require.NoError(t, err)
	defer nc.Close()

	before1 := snapshotBuffer(t, nc)

	require.NoError(t, nc.Refresh())

	after1 := snapshotBuffer(t, nc)
	require.False(t, bytes.Equal(before1, after1), "refresh must change the shard values")

	buf, err := nc.Unlock()
	require.NoError(t, err)
	defer buf.Close()
	require.NoError(t, buf.View(func(p []byte) error {
		require.True(t, bytes.Equal(p, secret))
		return nil
	}))
}

// snapshotBuffer reads the current shard-1 bytes without mutating state,
// used only to assert refresh actually changes the underlying shard.
func snapshotBuffer(t *testing.T, nc *memguard.NonContiguousMemory) []byte {
	t.Helper()
	var out []byte
	require.NoError(t, nc.PeekShard1(func(p []byte) error {
		out = append([]byte(nil), p...)
		return nil
	}))
	return out
}

func TestNonContiguousRejectsWrongSize(t *testing.T) {
	_, err := memguard.New(make([]byte, memguard.Size-1))
	require.Error(t, err)
}
