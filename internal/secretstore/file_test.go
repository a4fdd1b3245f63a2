package secretstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_GetMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "secrets"), nil)

	v, err := s.Get("credential.gdrive")
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "secrets")
	s := NewFileStore(dir, nil)

	require.NoError(t, s.Put("credential.dropbox", []byte(`{"a":1}`)))

	v, err := s.Get("credential.dropbox")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(v))

	info, err := os.Stat(filepath.Join(dir, "credential.dropbox.secret"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirPerms), dirInfo.Mode().Perm())
}

func TestFileStore_PutOverwrites(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)

	require.NoError(t, s.Put("k", []byte("one")))
	require.NoError(t, s.Put("k", []byte("two")))

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(v))
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil)

	require.NoError(t, s.Put("k", []byte("v")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k.secret", entries[0].Name())
}

func TestFileStore_DeleteIdempotent(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)

	require.NoError(t, s.Put("k", []byte("v")))
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"))

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestFileStore_InvalidKey(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)

	for _, key := range []string{"", "../escape", "UPPER", "a/b"} {
		_, err := s.Get(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestFileStore_UnreadableIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil)

	// A directory where the secret file should be makes ReadFile fail
	// with something other than ErrNotExist.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "k.secret"), 0o700))

	_, err := s.Get("k")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Put("k", []byte("v")))

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	s.SetUnavailable(true)

	_, err = s.Get("k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.Put("k", nil), ErrUnavailable)
	assert.ErrorIs(t, s.Delete("k"), ErrUnavailable)

	s.SetUnavailable(false)
	require.NoError(t, s.Delete("k"))

	v, err = s.Get("k")
	require.NoError(t, err)
	assert.Nil(t, v)
}
