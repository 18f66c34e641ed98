// Package analytics records one entry per finished compression and serves
// aggregate totals over them.
package analytics

import (
	"context"
	"time"

	"github.com/imalyk/squnch/pkg/job"
)

type Entry struct {
	FileID         string
	Kind           job.Kind
	Status         job.Status
	QualityPreset  string
	OriginalSize   int64
	CompressedSize int64
	FormatChanged  bool
	Duration       time.Duration
	At             time.Time
}

type Summary struct {
	TotalFiles              int64 `json:"totalFiles"`
	CompletedFiles          int64 `json:"completedFiles"`
	FailedFiles             int64 `json:"failedFiles"`
	ImageFiles              int64 `json:"imageFiles"`
	VideoFiles              int64 `json:"videoFiles"`
	TotalOriginalBytes      int64 `json:"totalOriginalBytes"`
	TotalCompressedBytes    int64 `json:"totalCompressedBytes"`
	TotalSavedBytes         int64 `json:"totalSavedBytes"`
	AverageCompressionRatio int   `json:"averageCompressionRatio"`
	AverageProcessingMs     int64 `json:"averageProcessingMs"`
}

// Recorder is implemented by the Redis and Postgres backends.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Summary(ctx context.Context) (Summary, error)
}

// finish derives the averaged fields once the raw totals are filled in.
func (s *Summary) finish(processingMs int64) {
	s.AverageCompressionRatio = job.CompressionRatio(s.TotalOriginalBytes, s.TotalCompressedBytes)
	if s.TotalFiles > 0 {
		s.AverageProcessingMs = processingMs / s.TotalFiles
	}
}
