package compress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imalyk/squnch/pkg/job"
	"github.com/imalyk/squnch/pkg/store"
)

func (s *Service) StartBatch(ctx context.Context, fileCount int, totalSize int64) (job.BatchJob, error) {
	if fileCount <= 0 {
		return job.BatchJob{}, invalid("fileCount must be a positive number")
	}
	if totalSize < 0 {
		return job.BatchJob{}, invalid("totalSize must not be negative")
	}
	b := job.BatchJob{
		BatchID:   uuid.NewString(),
		Status:    job.BatchProcessing,
		FileCount: fileCount,
		TotalSize: totalSize,
		Files:     []job.FileSummary{},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return job.BatchJob{}, fmt.Errorf("start batch: %w", err)
	}
	s.logger.Info("batch started", "batch_id", b.BatchID, "file_count", fileCount, "total_size", totalSize)
	return b, nil
}

func (s *Service) BatchProgress(ctx context.Context, batchID string) (job.BatchJob, error) {
	b, err := s.batches.Get(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return job.BatchJob{}, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return b, err
}
