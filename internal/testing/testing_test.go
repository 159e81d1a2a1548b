package testing

import (
	"testing"

	"bookshelf/internal/remote"
	"bookshelf/internal/remote/memory"

	"github.com/stretchr/testify/require"
)

func TestPairs(t *testing.T) {
	require.Equal(t, [][2]string{{"a", "b"}, {"a", "c"}}, Pairs([]string{"a", "b", "c"}))
	require.Nil(t, Pairs([]string{"a"}))
	require.Equal(t, [2]string{"b", "a"}, Swap([2]string{"a", "b"}))
}

func TestRandString(t *testing.T) {
	s := RandString()
	require.Len(t, s, 10)
	require.NotEqual(t, s, RandString())
}

func TestSeedLibrary(t *testing.T) {
	store := memory.New()
	lib := SeedLibrary(store)

	require.Len(t, store.Rows(remote.Books), len(lib.Books))
	require.Len(t, store.Rows(remote.Communities), len(lib.Communities))
	require.Len(t, store.Rows(remote.CommunityMembers), 2)
}
