// Package cachetest provides in-memory cache collaborators for tests.
package cachetest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/italolelis/fileloader/internal/cache"
)

// Store is an in-memory cache.Store.
type Store struct {
	mu      sync.Mutex
	records map[string]cache.Record

	PutErr error
	Puts   int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]cache.Record)}
}

func (s *Store) Get(_ context.Context, url string) (*cache.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[url]
	if !ok {
		return nil, cache.ErrRecordNotFound
	}

	return &rec, nil
}

func (s *Store) Put(_ context.Context, rec *cache.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Puts++

	if s.PutErr != nil {
		return s.PutErr
	}

	s.records[rec.URL] = cache.Record{
		URL:           rec.URL,
		LocalPath:     rec.LocalPath,
		Checksum:      rec.Checksum,
		ETag:          rec.ETag,
		LastValidated: rec.LastValidated,
	}

	return nil
}

func (s *Store) Delete(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, url)

	return nil
}

func (s *Store) List(_ context.Context) ([]*cache.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*cache.Record, 0, len(s.records))
	for _, rec := range s.records {
		rec := rec
		recs = append(recs, &rec)
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].URL < recs[j].URL })

	return recs, nil
}

// ErrWrite is returned by Payload.Write when WriteFails is set.
var ErrWrite = errors.New("cachetest: write failed")

// Payload is an in-memory cache.Payload that counts writes.
type Payload struct {
	mu    sync.Mutex
	files map[string][]byte

	WriteFails bool
	Writes     int
}

// NewPayload creates an empty Payload.
func NewPayload() *Payload {
	return &Payload{files: make(map[string][]byte)}
}

func (p *Payload) Exists(_ context.Context, path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.files[path]

	return ok, nil
}

func (p *Payload) Write(_ context.Context, path string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Writes++

	if p.WriteFails {
		return ErrWrite
	}

	p.files[path] = append([]byte(nil), data...)

	return nil
}

func (p *Payload) Delete(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.files, path)

	return nil
}

// Data returns the bytes stored at path.
func (p *Payload) Data(path string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, ok := p.files[path]

	return data, ok
}

// WriteCount returns the number of Write calls so far.
func (p *Payload) WriteCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.Writes
}

// Seed stores a payload and a matching saved record for url, as if it had been downloaded before.
func Seed(ctx context.Context, c *cache.Cache, url string, data []byte) (*cache.Record, error) {
	rec, err := c.Open(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := rec.Write(ctx, data); err != nil {
		return nil, err
	}

	if err := rec.Save(ctx); err != nil {
		return nil, err
	}

	return rec, nil
}
