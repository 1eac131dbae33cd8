package stronghold_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vaultworks/stronghold"
	"golang.org/x/crypto/curve25519"
)

func TestSyncExportImportMergesMissingRecords(t *testing.T) {
	src := stronghold.Default()
	srcClient, err := src.CreateClient("sender")
	require.NoError(t, err)
	loc := stronghold.NewLocation("shared", "note")
	require.NoError(t, srcClient.Vault("shared").WriteSecret(loc, []byte("from sender")))
	require.NoError(t, src.WriteClient("sender"))

	dst := stronghold.Default()
	dstClient, err := dst.CreateClient("sender")
	require.NoError(t, err)
	require.NoError(t, dst.WriteClient("sender"))

	remoteHierarchy, err := src.GetHierarchy(stronghold.AllClients)
	require.NoError(t, err)
	localHierarchy, err := dst.GetHierarchy(stronghold.AllClients)
	require.NoError(t, err)

	missing := dst.DiffHierarchy(localHierarchy, remoteHierarchy)
	require.NotEmpty(t, missing)

	exported, err := src.ExportForSync(missing)
	require.NoError(t, err)
	require.NoError(t, dst.ImportFromSync(exported, stronghold.ReplaceWithImported))

	var got []byte
	require.NoError(t, dstClient.Vault("shared").ReadSecret(loc, func(plain []byte) error {
		got = append([]byte(nil), plain...)
		return nil
	}))
	require.Equal(t, "from sender", string(got))
}

func TestSyncPeerBundleRoundTrips(t *testing.T) {
	src := stronghold.Default()
	srcClient, err := src.CreateClient("alice")
	require.NoError(t, err)
	loc := stronghold.NewLocation("v", "r")
	require.NoError(t, srcClient.Vault("v").WriteSecret(loc, []byte("payload")))
	require.NoError(t, src.WriteClient("alice"))

	hierarchy, err := src.GetHierarchy(stronghold.AllClients)
	require.NoError(t, err)
	exported, err := src.ExportForSync(hierarchy)
	require.NoError(t, err)

	var remotePriv, remotePub [32]byte
	for i := range remotePriv {
		remotePriv[i] = byte(i + 1)
	}
	pub, err := curve25519.X25519(remotePriv[:], curve25519.Basepoint)
	require.NoError(t, err)
	copy(remotePub[:], pub)

	bundle, err := src.ExportToPeer(exported, remotePub)
	require.NoError(t, err)

	dst := stronghold.Default()
	recovered, err := dst.ImportFromPeer(bundle, remotePriv)
	require.NoError(t, err)
	require.Contains(t, recovered, srcClient.ID())
}
