// Package blobstore stores cached payloads in a gocloud.dev blob bucket.
//
// Supported bucket URLs are file:///dir and mem://.
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// Bucket drivers.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/italolelis/fileloader/internal/cache"
)

// Bucket implements cache.Payload.
type Bucket struct {
	bucket *blob.Bucket
}

// Open opens the bucket at bucketURL.
func Open(ctx context.Context, bucketURL string) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", bucketURL, err)
	}

	return New(b), nil
}

// New wraps an already opened bucket.
func New(b *blob.Bucket) *Bucket {
	return &Bucket{bucket: b}
}

func (b *Bucket) Exists(ctx context.Context, path string) (bool, error) {
	return b.bucket.Exists(ctx, path)
}

// Write stores data at path. The blob only becomes visible once the write is committed.
func (b *Bucket) Write(ctx context.Context, path string, data []byte) error {
	if err := b.bucket.WriteAll(ctx, path, data, nil); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// Delete removes the blob at path. Missing blobs are not an error.
func (b *Bucket) Delete(ctx context.Context, path string) error {
	err := b.bucket.Delete(ctx, path)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	return nil
}

// Read returns the payload stored at path.
func (b *Bucket) Read(ctx context.Context, path string) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, path)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, errors.Join(cache.ErrRecordNotFound, err)
	}

	return data, err
}

func (b *Bucket) Close() error {
	return b.bucket.Close()
}

var _ cache.Payload = (*Bucket)(nil)
