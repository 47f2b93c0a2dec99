package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// ErrRecordNotFound is returned by a Store when no record exists for a URL.
var ErrRecordNotFound = errors.New("cache record not found")

const maxExtLen = 8

// Store persists record metadata keyed by URL.
type Store interface {
	Get(ctx context.Context, url string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, url string) error
	List(ctx context.Context) ([]*Record, error)
}

// Payload persists the downloaded bytes at a local path.
type Payload interface {
	Exists(ctx context.Context, path string) (bool, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
}

// DigestFunc computes the checksum of a payload.
type DigestFunc func(data []byte) string

// Digest is the default DigestFunc, producing canonical "sha256:<hex>" digests.
func Digest(data []byte) string {
	return digest.FromBytes(data).String()
}

// Policy decides whether a validated record may be served without revalidation.
type Policy interface {
	Fresh(rec *Record, now time.Time) bool
}

// TTL is a Policy that keeps records fresh for a fixed duration after their last validation.
type TTL time.Duration

// Fresh implements Policy. A zero or negative TTL never considers a record fresh.
func (t TTL) Fresh(rec *Record, now time.Time) bool {
	if t <= 0 || rec.LastValidated.IsZero() {
		return false
	}

	return now.Sub(rec.LastValidated) < time.Duration(t)
}

// Entity is what a successful download hands back to the caller.
type Entity struct {
	URL       string `json:"url"`
	LocalPath string `json:"local_path"`
	Checksum  string `json:"checksum"`
}

// Cache binds records to their metadata store, payload storage and freshness policy.
type Cache struct {
	store   Store
	payload Payload
	digest  DigestFunc
	policy  Policy
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithDigest overrides the checksum function.
func WithDigest(fn DigestFunc) Option {
	return func(c *Cache) { c.digest = fn }
}

// WithPolicy overrides the freshness policy.
func WithPolicy(p Policy) Option {
	return func(c *Cache) { c.policy = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache. Without WithPolicy every record is considered stale.
func New(store Store, payload Payload, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		payload: payload,
		digest:  Digest,
		policy:  TTL(0),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Digest computes the checksum of data with the configured DigestFunc.
func (c *Cache) Digest(data []byte) string {
	return c.digest(data)
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.now()
}

// Load looks up the persisted record for url. It returns ErrRecordNotFound when none exists.
func (c *Cache) Load(ctx context.Context, url string) (*Record, error) {
	rec, err := c.store.Get(ctx, url)
	if err != nil {
		return nil, err
	}

	rec.cache = c

	return rec, nil
}

// Open returns the persisted record for url, or a new unsaved record when there is none.
func (c *Cache) Open(ctx context.Context, url string) (*Record, error) {
	rec, err := c.Load(ctx, url)
	if err == nil {
		return rec, nil
	}

	if !errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load cache record: %w", err)
	}

	return &Record{URL: url, LocalPath: LocalPath(url), cache: c}, nil
}

// Remove deletes the payload and the metadata of rec.
func (c *Cache) Remove(ctx context.Context, rec *Record) error {
	if err := c.payload.Delete(ctx, rec.LocalPath); err != nil {
		return fmt.Errorf("failed to delete payload: %w", err)
	}

	if err := c.store.Delete(ctx, rec.URL); err != nil {
		return fmt.Errorf("failed to delete cache record: %w", err)
	}

	return nil
}

// Records lists every persisted record.
func (c *Cache) Records(ctx context.Context) ([]*Record, error) {
	recs, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		rec.cache = c
	}

	return recs, nil
}

// LocalPath derives the payload location for a URL: the hex digest of the URL,
// keeping a short file extension from the URL path when there is one.
func LocalPath(rawURL string) string {
	name := digest.FromString(rawURL).Encoded()

	u, err := url.Parse(rawURL)
	if err != nil {
		return name
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if len(ext) < 2 || len(ext) > maxExtLen || strings.ContainsAny(ext, `/\`) {
		return name
	}

	return name + ext
}
