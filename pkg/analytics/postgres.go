package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imalyk/squnch/pkg/job"
)

const schema = `
CREATE TABLE IF NOT EXISTS compression_events (
	id              BIGSERIAL PRIMARY KEY,
	file_id         TEXT        NOT NULL,
	kind            TEXT        NOT NULL,
	status          TEXT        NOT NULL,
	quality_preset  TEXT        NOT NULL,
	original_size   BIGINT      NOT NULL,
	compressed_size BIGINT      NOT NULL,
	format_changed  BOOLEAN     NOT NULL DEFAULT FALSE,
	duration_ms     BIGINT      NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
)`

// PostgresRecorder keeps one row per finished job, so history survives and
// can be queried beyond the running totals.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPool opens a pgx pool and checks connectivity, retrying while the
// database is still starting.
func NewPool(ctx context.Context, dsn string, attempts int) (*pgxpool.Pool, error) {
	var (
		pool *pgxpool.Pool
		err  error
	)
	for i := 0; i < attempts; i++ {
		pool, err = pgxpool.New(ctx, dsn)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect postgres: %w", err)
}

func NewPostgresRecorder(ctx context.Context, pool *pgxpool.Pool) (*PostgresRecorder, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create analytics schema: %w", err)
	}
	return &PostgresRecorder{pool: pool}, nil
}

func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO compression_events
		 (file_id, kind, status, quality_preset, original_size, compressed_size, format_changed, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.FileID, string(e.Kind), string(e.Status), e.QualityPreset,
		e.OriginalSize, e.CompressedSize, e.FormatChanged, e.Duration.Milliseconds(), e.At,
	)
	if err != nil {
		return fmt.Errorf("record analytics for %s: %w", e.FileID, err)
	}
	return nil
}

func (r *PostgresRecorder) Summary(ctx context.Context) (Summary, error) {
	var (
		s            Summary
		processingMs int64
	)
	row := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status <> $1),
			COUNT(*) FILTER (WHERE kind = $2),
			COUNT(*) FILTER (WHERE kind = $3),
			COALESCE(SUM(original_size) FILTER (WHERE status = $1), 0),
			COALESCE(SUM(compressed_size) FILTER (WHERE status = $1), 0),
			COALESCE(SUM(GREATEST(original_size - compressed_size, 0)) FILTER (WHERE status = $1), 0),
			COALESCE(SUM(duration_ms), 0)
		 FROM compression_events`,
		string(job.StatusCompleted), string(job.KindImage), string(job.KindVideo),
	)
	err := row.Scan(
		&s.TotalFiles, &s.CompletedFiles, &s.FailedFiles, &s.ImageFiles, &s.VideoFiles,
		&s.TotalOriginalBytes, &s.TotalCompressedBytes, &s.TotalSavedBytes, &processingMs,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("read analytics summary: %w", err)
	}
	s.finish(processingMs)
	return s, nil
}
