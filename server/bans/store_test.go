package bans

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bans.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AddContainsRemove(t *testing.T) {
	s := openTestStore(t)

	banned, err := s.Contains("10.0.0.1")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, s.Add("10.0.0.1", "Jeb"))
	banned, err = s.Contains("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, banned)

	removed, err := s.Remove("10.0.0.1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove("10.0.0.1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStore_NormalizesMappedIPv4(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Add("::ffff:192.168.1.5", ""))

	banned, err := s.Contains("192.168.1.5")
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestStore_InvalidIP(t *testing.T) {
	s := openTestStore(t)
	assert.ErrorIs(t, s.Add("not-an-ip", ""), ErrInvalidIP)

	banned, err := s.Contains("not-an-ip")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestStore_ClearAndList(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Add("10.0.0.1", "Jeb"))
	require.NoError(t, s.Add("10.0.0.2", "Bill"))
	require.NoError(t, s.Add("10.0.0.1", "Bob"))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)

	byIP := map[string]string{}
	for _, b := range list {
		byIP[b.IP] = b.Username
	}
	assert.Equal(t, "Bob", byIP["10.0.0.1"])

	require.NoError(t, s.Clear())
	list, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bans.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Add("10.1.1.1", ""))
	require.NoError(t, s.Close())

	s, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	banned, err := s.Contains("10.1.1.1")
	require.NoError(t, err)
	assert.True(t, banned)
}
