package snapshotcodec_test

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vaultworks/stronghold/internal/snapshotcodec"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, snapshotcodec.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestWriteReadRoundTrips(t *testing.T) {
	key := randomKey(t)
	plain := []byte("the quick brown fox jumps over the lazy dog")
	ad := []byte("client-id-or-other-context")

	var buf bytes.Buffer
	require.NoError(t, snapshotcodec.Write(&buf, plain, key, ad))

	got, err := snapshotcodec.Read(&buf, key, ad)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestReadRejectsWrongAssociatedData(t *testing.T) {
	key := randomKey(t)
	var buf bytes.Buffer
	require.NoError(t, snapshotcodec.Write(&buf, []byte("payload"), key, []byte("ad-a")))

	_, err := snapshotcodec.Read(&buf, key, []byte("ad-b"))
	require.Error(t, err)
}

func TestReadRejectsCorruptedCiphertext(t *testing.T) {
	key := randomKey(t)
	var buf bytes.Buffer
	require.NoError(t, snapshotcodec.Write(&buf, []byte("payload"), key, nil))

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err := snapshotcodec.Read(bytes.NewReader(corrupted), key, nil)
	require.Error(t, err)
}

func TestReadRejectsBadMagic(t *testing.T) {
	key := randomKey(t)
	var buf bytes.Buffer
	require.NoError(t, snapshotcodec.Write(&buf, []byte("payload"), key, nil))

	corrupted := buf.Bytes()
	corrupted[0] ^= 0xFF

	_, err := snapshotcodec.Read(bytes.NewReader(corrupted), key, nil)
	require.Error(t, err)
}

func TestWriteFileReadFileAtomicRoundTrip(t *testing.T) {
	key := randomKey(t)
	plain := []byte("snapshot body that will be compressed and encrypted")
	ad := []byte("ad")

	path := filepath.Join(t.TempDir(), "snapshot")
	require.NoError(t, snapshotcodec.WriteFile(path, plain, key, ad))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the final renamed file should remain, no leftover temp file")

	got, err := snapshotcodec.ReadFile(path, key, ad)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestWriteFileOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot")
	require.NoError(t, snapshotcodec.WriteFile(path, []byte("first"), randomKey(t), nil))

	key := randomKey(t)
	require.NoError(t, snapshotcodec.WriteFile(path, []byte("second"), key, nil))

	got, err := snapshotcodec.ReadFile(path, key, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
}
