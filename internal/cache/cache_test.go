package cache_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/fileloader/internal/cache"
	"github.com/italolelis/fileloader/internal/cache/cachetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newCache(t *testing.T, ttl time.Duration) (*cache.Cache, *cachetest.Payload, *clock) {
	t.Helper()

	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	payload := cachetest.NewPayload()
	c := cache.New(cachetest.NewStore(), payload, cache.WithPolicy(cache.TTL(ttl)), cache.WithClock(clk.Now))

	return c, payload, clk
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantExt string
	}{
		{name: "keeps image extension", url: "http://example.com/test_file.png", wantExt: ".png"},
		{name: "lowercases extension", url: "http://example.com/a/IMAGE.JPG", wantExt: ".jpg"},
		{name: "no extension", url: "http://example.com/feed", wantExt: ""},
		{name: "extension too long", url: "http://example.com/file.superlongext", wantExt: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cache.LocalPath(tt.url)
			assert.Equal(t, got, cache.LocalPath(tt.url), "must be deterministic")
			assert.Len(t, strings.TrimSuffix(got, tt.wantExt), 64)
			assert.True(t, strings.HasSuffix(got, tt.wantExt))
		})
	}

	assert.NotEqual(t, cache.LocalPath("http://a/x.png"), cache.LocalPath("http://b/x.png"))
}

func TestOpen_NewRecordIsExpired(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t, time.Hour)

	_, err := c.Load(ctx, "http://example.com/a.png")
	require.ErrorIs(t, err, cache.ErrRecordNotFound)

	rec, err := c.Open(ctx, "http://example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, cache.LocalPath("http://example.com/a.png"), rec.LocalPath)

	exists, err := rec.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	expired, err := rec.Expired(ctx)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestRecord_WriteThenFreshUntilTTL(t *testing.T) {
	ctx := context.Background()
	c, payload, clk := newCache(t, time.Hour)

	rec, err := cachetest.Seed(ctx, c, "http://example.com/a.png", []byte("test data"))
	require.NoError(t, err)
	assert.Equal(t, cache.Digest([]byte("test data")), rec.Checksum)
	assert.Equal(t, clk.now, rec.LastValidated)
	assert.Equal(t, 1, payload.WriteCount())

	loaded, err := c.Load(ctx, "http://example.com/a.png")
	require.NoError(t, err)

	expired, err := loaded.Expired(ctx)
	require.NoError(t, err)
	assert.False(t, expired)

	clk.now = clk.now.Add(time.Hour)

	expired, err = loaded.Expired(ctx)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestRecord_NeverValidatedIsExpired(t *testing.T) {
	ctx := context.Background()
	c, payload, _ := newCache(t, time.Hour)

	rec, err := c.Open(ctx, "http://example.com/a.png")
	require.NoError(t, err)
	require.NoError(t, payload.Write(ctx, rec.LocalPath, []byte("x")))
	rec.Checksum = cache.Digest([]byte("x"))

	exists, err := rec.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	expired, err := rec.Expired(ctx)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestRecord_ChecksumWithoutPayloadDoesNotExist(t *testing.T) {
	ctx := context.Background()
	c, payload, _ := newCache(t, time.Hour)

	rec, err := cachetest.Seed(ctx, c, "http://example.com/a.png", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, payload.Delete(ctx, rec.LocalPath))

	exists, err := rec.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecord_FailedWriteKeepsMetadata(t *testing.T) {
	ctx := context.Background()
	c, payload, _ := newCache(t, time.Hour)
	payload.WriteFails = true

	rec, err := c.Open(ctx, "http://example.com/a.png")
	require.NoError(t, err)

	require.ErrorIs(t, rec.Write(ctx, []byte("x")), cachetest.ErrWrite)
	assert.Empty(t, rec.Checksum)
	assert.True(t, rec.LastValidated.IsZero())
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c, payload, _ := newCache(t, time.Hour)

	rec, err := cachetest.Seed(ctx, c, "http://example.com/a.png", []byte("x"))
	require.NoError(t, err)

	recs, err := c.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, c.Remove(ctx, recs[0]))

	_, ok := payload.Data(rec.LocalPath)
	assert.False(t, ok)

	_, err = c.Load(ctx, rec.URL)
	assert.ErrorIs(t, err, cache.ErrRecordNotFound)
}

func TestTTL_ZeroNeverFresh(t *testing.T) {
	rec := &cache.Record{LastValidated: time.Now()}
	assert.False(t, cache.TTL(0).Fresh(rec, time.Now()))
	assert.True(t, cache.TTL(time.Minute).Fresh(rec, rec.LastValidated.Add(time.Second)))
}
