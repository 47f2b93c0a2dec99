package blobstore

import (
	"context"
	"testing"

	"github.com/italolelis/fileloader/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

func TestBucket_WriteExistsReadDelete(t *testing.T) {
	ctx := context.Background()
	b := New(memblob.OpenBucket(nil))
	t.Cleanup(func() { b.Close() })

	ok, err := b.Exists(ctx, "abc.png")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Write(ctx, "abc.png", []byte("test data")))

	ok, err = b.Exists(ctx, "abc.png")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := b.Read(ctx, "abc.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("test data"), data)

	require.NoError(t, b.Delete(ctx, "abc.png"))
	require.NoError(t, b.Delete(ctx, "abc.png"), "deleting a missing blob is not an error")

	_, err = b.Read(ctx, "abc.png")
	assert.ErrorIs(t, err, cache.ErrRecordNotFound)
}

func TestOpen_FileBucket(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, "file://"+t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.NoError(t, b.Write(ctx, "payload.bin", []byte{1, 2, 3}))

	ok, err := b.Exists(ctx, "payload.bin")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_UnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "nope://bucket")
	assert.Error(t, err)
}
