package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/fileloader/internal/cache"
	"github.com/italolelis/fileloader/internal/telemetry"
)

// InstrumentedRecordRepository wraps RecordRepository with telemetry.
type InstrumentedRecordRepository struct {
	repo      *RecordRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRecordRepository creates a new instrumented record repository.
func NewInstrumentedRecordRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedRecordRepository {
	return &InstrumentedRecordRepository{
		repo:      NewRecordRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedRecordRepository) Get(ctx context.Context, url string) (*cache.Record, error) {
	var result *cache.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "get_record", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Get(ctx, url)

		return err
	})

	return result, err
}

func (r *InstrumentedRecordRepository) Put(ctx context.Context, rec *cache.Record) error {
	return r.telemetry.InstrumentDBOperation(ctx, "put_record", func(ctx context.Context) error {
		return r.repo.Put(ctx, rec)
	})
}

func (r *InstrumentedRecordRepository) Delete(ctx context.Context, url string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_record", func(ctx context.Context) error {
		return r.repo.Delete(ctx, url)
	})
}

func (r *InstrumentedRecordRepository) List(ctx context.Context) ([]*cache.Record, error) {
	var result []*cache.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "list_records", func(ctx context.Context) error {
		var err error

		result, err = r.repo.List(ctx)

		return err
	})

	return result, err
}

var (
	_ cache.Store = (*RecordRepository)(nil)
	_ cache.Store = (*InstrumentedRecordRepository)(nil)
)
