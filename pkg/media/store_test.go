package media

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentKey(t *testing.T) {
	key := DocumentKey("abcdef1234", "pdf")
	assert.Equal(t, "ab/abcdef1234.pdf", key)

	assert.Equal(t, "ab/abcdef1234.pdf", DocumentKey("abcdef1234", ".PDF"))
	assert.Equal(t, "ab/abcdef1234", DocumentKey("abcdef1234", ""))
	assert.Equal(t, "a.bin", DocumentKey("a", "bin"))
}

func TestStorePutOpenRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	written, digest, err := store.Put(ctx, "ab/abc123.pdf", strings.NewReader("document bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("document bytes")), written)
	assert.Len(t, digest, 64)

	exists, err := store.Exists(ctx, "ab/abc123.pdf")
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := store.Open(ctx, "ab/abc123.pdf")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "document bytes", string(data))
}

func TestStoreMissingObject(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "zz/missing.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Open(ctx, "zz/missing.pdf")
	assert.Error(t, err)
}

func TestStoreDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Put(ctx, "cd/cdef.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "cd/cdef.pdf"))

	exists, err := store.Exists(ctx, "cd/cdef.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting an absent object is not an error.
	assert.NoError(t, store.Delete(ctx, "cd/cdef.pdf"))
}

func TestStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "/absolute", "../outside", "ab/../../outside"} {
		_, _, err := store.Put(ctx, key, strings.NewReader("x"))
		assert.Error(t, err, key)
	}
}

func TestStorePutOverwriteIsAtomic(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Put(ctx, "ef/efab.pdf", strings.NewReader("first"))
	require.NoError(t, err)
	_, _, err = store.Put(ctx, "ef/efab.pdf", strings.NewReader("second"))
	require.NoError(t, err)

	r, err := store.Open(ctx, "ef/efab.pdf")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}
