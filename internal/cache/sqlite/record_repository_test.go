package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/fileloader/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *RecordRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewRecordRepository(db)
}

func TestRecordRepository_GetMissing(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.Get(context.Background(), "http://example.com/missing")
	require.ErrorIs(t, err, cache.ErrRecordNotFound)
}

func TestRecordRepository_PutGetUpsert(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	validated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := &cache.Record{
		URL:           "http://example.com/a.png",
		LocalPath:     "abc.png",
		Checksum:      "sha256:1",
		ETag:          `"v1"`,
		LastValidated: validated,
	}
	require.NoError(t, repo.Put(ctx, rec))

	got, err := repo.Get(ctx, rec.URL)
	require.NoError(t, err)
	assert.Equal(t, rec.LocalPath, got.LocalPath)
	assert.Equal(t, rec.Checksum, got.Checksum)
	assert.Equal(t, rec.ETag, got.ETag)
	assert.True(t, validated.Equal(got.LastValidated))

	rec.Checksum = "sha256:2"
	rec.ETag = ""
	require.NoError(t, repo.Put(ctx, rec))

	got, err = repo.Get(ctx, rec.URL)
	require.NoError(t, err)
	assert.Equal(t, "sha256:2", got.Checksum)
	assert.Empty(t, got.ETag)
}

func TestRecordRepository_ZeroValidationRoundTrips(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.Put(ctx, &cache.Record{URL: "http://example.com/a", LocalPath: "a"}))

	got, err := repo.Get(ctx, "http://example.com/a")
	require.NoError(t, err)
	assert.True(t, got.LastValidated.IsZero())
}

func TestRecordRepository_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	for _, u := range []string{"http://b", "http://a", "http://c"} {
		require.NoError(t, repo.Put(ctx, &cache.Record{URL: u, LocalPath: u}))
	}

	require.NoError(t, repo.Delete(ctx, "http://b"))

	recs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "http://a", recs[0].URL)
	assert.Equal(t, "http://c", recs[1].URL)
}

func TestInstrumentedRecordRepository_NilTelemetry(t *testing.T) {
	ctx := context.Background()

	db, err := InitDB(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewInstrumentedRecordRepository(db, nil)

	require.NoError(t, repo.Put(ctx, &cache.Record{URL: "http://a", LocalPath: "a", Checksum: "sha256:1"}))

	got, err := repo.Get(ctx, "http://a")
	require.NoError(t, err)
	assert.Equal(t, "sha256:1", got.Checksum)

	_, err = repo.Get(ctx, "http://missing")
	assert.ErrorIs(t, err, cache.ErrRecordNotFound)
}
