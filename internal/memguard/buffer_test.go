package memguard_test

import (
	"bytes"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vaultworks/stronghold/internal/memguard"
)

func TestAllocFromBytesRoundTrip(t *testing.T) {
	payload := []byte("super secret seed material")
	original := append([]byte(nil), payload...)

	buf, err := memguard.AllocFromBytes(payload)
	require.NoError(t, err)
	defer buf.Close()

	for _, b := range payload {
		require.Equal(t, byte(0), b, "caller's slice must be zeroed after AllocFromBytes")
	}

	require.NoError(t, buf.View(func(p []byte) error {
		require.True(t, bytes.Equal(p, original))
		return nil
	}))
}

func TestBufferCopyIsIndependent(t *testing.T) {
	buf, err := memguard.AllocFromBytes([]byte("0123456789"))
	require.NoError(t, err)
	defer buf.Close()

	cp, err := buf.Copy()
	require.NoError(t, err)
	defer cp.Close()

	require.NoError(t, cp.Modify(func(p []byte) error {
		p[0] = 'X'
		return nil
	}))

	require.NoError(t, buf.View(func(p []byte) error {
		require.Equal(t, byte('0'), p[0])
		return nil
	}))
}

func TestBufferCloseIsIdempotent(t *testing.T) {
	buf, err := memguard.Alloc(16)
	require.NoError(t, err)
	buf.Close()
	buf.Close() // must not panic or double-free
}

func TestAllocRejectsNonPositiveLength(t *testing.T) {
	_, err := memguard.Alloc(0)
	require.Error(t, err)
}

// TestGuardPageTraps verifies property #4: touching the page immediately
// before or after a guarded allocation's data region raises a memory
// violation. Since that must crash the process, the check runs in a
// subprocess dedicated to exactly one touch, and the parent asserts the
// subprocess did not exit successfully (the Go runtime turns the fault into
// a fatal error).
func TestGuardPageTraps(t *testing.T) {
	if os.Getenv("MEMGUARD_TRAP_HELPER") != "" {
		runTrapHelper()
		return
	}

	for _, mode := range []string{"before", "after"} {
		t.Run(mode, func(t *testing.T) {
			cmd := exec.Command(os.Args[0], "-test.run=TestGuardPageTraps")
			cmd.Env = append(os.Environ(), "MEMGUARD_TRAP_HELPER=1", "MEMGUARD_TRAP_MODE="+mode)
			err := cmd.Run()
			require.Error(t, err, "touching a guard page must crash the process")
			var exitErr *exec.ExitError
			require.ErrorAs(t, err, &exitErr)
			require.False(t, exitErr.Success())
		})
	}
}

func runTrapHelper() {
	buf, err := memguard.Alloc(64)
	if err != nil {
		os.Exit(2)
	}
	defer buf.Close()
	memguard.TouchGuardPage(buf, os.Getenv("MEMGUARD_TRAP_MODE") == "after")
}
