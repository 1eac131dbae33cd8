package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vaultworks/stronghold/internal/store"
)

func TestInsertGetDelete(t *testing.T) {
	s, err := store.New()
	require.NoError(t, err)

	s.Insert("a", []byte("1"), 0)
	v, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	require.True(t, s.ContainsKey("a"))
	s.Delete("a")
	require.False(t, s.ContainsKey("a"))
}

func TestMergePrefersNewerInsertion(t *testing.T) {
	a, err := store.New()
	require.NoError(t, err)
	b, err := store.New()
	require.NoError(t, err)

	a.Insert("k", []byte("old"), 0)
	time.Sleep(2 * time.Millisecond)
	b.Insert("k", []byte("new"), 0)
	b.Insert("only-in-b", []byte("x"), 0)

	a.Merge(b)

	v, ok := a.Get("k")
	require.True(t, ok)
	require.Equal(t, "new", string(v))

	v, ok = a.Get("only-in-b")
	require.True(t, ok)
	require.Equal(t, "x", string(v))
}
