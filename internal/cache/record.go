package cache

import (
	"context"
	"fmt"
	"time"
)

// Record is the metadata of one cached URL.
//
// A record with an empty Checksum has never been written and is always expired.
type Record struct {
	URL           string
	LocalPath     string
	Checksum      string
	ETag          string
	LastValidated time.Time

	cache *Cache
}

// Exists reports whether a payload has been durably written for this record.
func (r *Record) Exists(ctx context.Context) (bool, error) {
	if r.Checksum == "" {
		return false, nil
	}

	ok, err := r.cache.payload.Exists(ctx, r.LocalPath)
	if err != nil {
		return false, fmt.Errorf("failed to check payload: %w", err)
	}

	return ok, nil
}

// Expired reports whether the record must be revalidated: it has no payload,
// it was never validated, or the freshness policy says it is stale.
func (r *Record) Expired(ctx context.Context) (bool, error) {
	ok, err := r.Exists(ctx)
	if err != nil {
		return true, err
	}

	if !ok {
		return true, nil
	}

	return !r.cache.policy.Fresh(r, r.cache.now()), nil
}

// Write persists data as the record payload. Checksum and LastValidated are
// only updated once the payload write succeeded; Save must follow to persist them.
func (r *Record) Write(ctx context.Context, data []byte) error {
	if err := r.cache.payload.Write(ctx, r.LocalPath, data); err != nil {
		return err
	}

	r.Checksum = r.cache.digest(data)
	r.LastValidated = r.cache.now()

	return nil
}

// Touch marks the record as validated now without changing its payload.
func (r *Record) Touch() {
	r.LastValidated = r.cache.now()
}

// Save persists the record metadata.
func (r *Record) Save(ctx context.Context) error {
	if err := r.cache.store.Put(ctx, r); err != nil {
		return fmt.Errorf("failed to save cache record: %w", err)
	}

	return nil
}

// Entity returns the caller-facing view of the record.
func (r *Record) Entity() *Entity {
	return &Entity{
		URL:       r.URL,
		LocalPath: r.LocalPath,
		Checksum:  r.Checksum,
	}
}
