package storage

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	return store
}

func TestSaveAndOpen(t *testing.T) {
	store := newTestStore(t)

	size, err := store.Save("item-1", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	rc, gotSize, err := store.Open("item-1")
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, int64(10), gotSize)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestOpenUnknownID(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Open("missing")
	assert.Error(t, err)
}

func TestDeleteReleasesPayload(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("item-1", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, store.Delete("item-1"))
	_, _, err = store.Open("item-1")
	assert.Error(t, err)

	assert.Error(t, store.Delete("item-1"))
}

func TestClearRemovesEverything(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Save(id, strings.NewReader("data-"+id))
		require.NoError(t, err)
	}

	require.NoError(t, store.Clear())

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := store.Open(id)
		assert.Error(t, err)
	}
}
