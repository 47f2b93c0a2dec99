package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/fileloader/internal/cache"
)

// RecordRepository implements cache.Store on SQLite.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(dbConn *sql.DB) *RecordRepository {
	return &RecordRepository{db: dbConn}
}

func (r *RecordRepository) Get(ctx context.Context, url string) (*cache.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT url, local_path, checksum, etag, last_validated FROM cache_records WHERE url = ?`, url)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrRecordNotFound
	}

	return rec, err
}

// Put upserts the record keyed by its URL.
func (r *RecordRepository) Put(ctx context.Context, rec *cache.Record) error {
	var validated sql.NullTime
	if !rec.LastValidated.IsZero() {
		validated = sql.NullTime{Time: rec.LastValidated.UTC(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_records (url, local_path, checksum, etag, last_validated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			local_path = excluded.local_path,
			checksum = excluded.checksum,
			etag = excluded.etag,
			last_validated = excluded.last_validated
	`, rec.URL, rec.LocalPath, rec.Checksum, rec.ETag, validated)

	return err
}

func (r *RecordRepository) Delete(ctx context.Context, url string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cache_records WHERE url = ?`, url)

	return err
}

func (r *RecordRepository) List(ctx context.Context) ([]*cache.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT url, local_path, checksum, etag, last_validated FROM cache_records ORDER BY url`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*cache.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*cache.Record, error) {
	var (
		rec       cache.Record
		validated sql.NullTime
	)

	if err := s.Scan(&rec.URL, &rec.LocalPath, &rec.Checksum, &rec.ETag, &validated); err != nil {
		return nil, err
	}

	if validated.Valid {
		rec.LastValidated = validated.Time.In(time.UTC)
	}

	return &rec, nil
}
