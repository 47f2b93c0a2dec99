package cleanup

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/fileloader/internal/cache"
	"github.com/italolelis/fileloader/internal/logctx"
)

// Sweeper deletes cached payloads and their records once they have not been
// revalidated for longer than the retention period.
type Sweeper struct {
	cache     *cache.Cache
	retention time.Duration
}

// NewSweeper creates a Sweeper. A retention of zero or less disables it.
func NewSweeper(c *cache.Cache, retention time.Duration) *Sweeper {
	return &Sweeper{cache: c, retention: retention}
}

// DeleteExpired removes every record whose LastValidated is older than the
// retention period and returns how many were removed. Records that were never
// validated are left alone. A failing record does not stop the sweep.
func (s *Sweeper) DeleteExpired(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	logger := logctx.LoggerFromContext(ctx)

	recs, err := s.cache.Records(ctx)
	if err != nil {
		return 0, err
	}

	now := s.cache.Now()

	var (
		removed int
		errs    []error
	)

	for _, rec := range recs {
		if rec.LastValidated.IsZero() || now.Sub(rec.LastValidated) <= s.retention {
			continue
		}

		if err := s.cache.Remove(ctx, rec); err != nil {
			logger.Error("Failed to delete expired file", "url", rec.URL, "local_path", rec.LocalPath, "err", err)
			errs = append(errs, err)

			continue
		}

		removed++

		logger.Info("Deleted expired file",
			"url", rec.URL,
			"local_path", rec.LocalPath,
			"last_validated", humanize.Time(rec.LastValidated),
		)
	}

	return removed, errors.Join(errs...)
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if s.retention <= 0 || interval <= 0 {
		logger.Debug("cleanup disabled")

		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-ticker.C:
			if _, err := s.DeleteExpired(ctx); err != nil {
				logger.Error("failed to delete expired cached files", "err", err)
			}
		}
	}
}
