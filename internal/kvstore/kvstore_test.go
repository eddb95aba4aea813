package kvstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, ok := s.Get("anything")
	assert.False(t, ok)
}

func TestSetGetDelete_PersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("gba_access_token", "tok123"))
	require.NoError(t, s.Set("gba_user_email", "player@example.com"))
	require.NoError(t, s.Delete("gba_user_email"))

	reopened, err := Open(dir)
	require.NoError(t, err)

	v, ok := reopened.Get("gba_access_token")
	assert.True(t, ok)
	assert.Equal(t, "tok123", v)

	_, ok = reopened.Get("gba_user_email")
	assert.False(t, ok)
}

func TestOpen_CorruptFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keyvalue.json"), []byte("{not json"), 0600))

	s, err := Open(dir)
	require.NoError(t, err)

	_, ok := s.Get("gba_access_token")
	assert.False(t, ok)
}

func TestBytes_RoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	payload := []byte{0, 1, 2, 254, 255}
	require.NoError(t, s.SetBytes("Pokemon", payload))
	assert.Equal(t, payload, s.Bytes("Pokemon"))

	// The on-disk format is a JSON array of byte values.
	raw, ok := s.Get("Pokemon")
	require.True(t, ok)
	assert.Equal(t, "[0,1,2,254,255]", raw)
}

func TestKeys_Sorted(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, s.Keys())

	require.NoError(t, s.Set("Zelda", "z"))
	require.NoError(t, s.Set("Pokemon", "p"))
	require.NoError(t, s.Set("gba_access_token", "tok"))
	assert.Equal(t, []string{"Pokemon", "Zelda", "gba_access_token"}, s.Keys())
}

func TestBytes_MissingOrMalformed(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.Nil(t, s.Bytes("missing"))

	require.NoError(t, s.Set("notanarray", "hello"))
	assert.Nil(t, s.Bytes("notanarray"))
}
