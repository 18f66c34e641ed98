// Package compress is the job controller: it validates uploads, runs image
// compression inline, drives one transcode per video job and is the only
// writer of job and batch records.
package compress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/imalyk/squnch/pkg/analytics"
	"github.com/imalyk/squnch/pkg/codec"
	"github.com/imalyk/squnch/pkg/job"
	"github.com/imalyk/squnch/pkg/preset"
	"github.com/imalyk/squnch/pkg/storage"
	"github.com/imalyk/squnch/pkg/store"
)

// DownloadPath is the URL prefix under which completed outputs are served.
const DownloadPath = "/api/download/"

var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type JobStore interface {
	Upsert(ctx context.Context, j job.CompressionJob) error
	Patch(ctx context.Context, id string, fields store.Fields) error
	Get(ctx context.Context, id string) (job.CompressionJob, error)
}

type BatchStore interface {
	Create(ctx context.Context, b job.BatchJob) error
	Get(ctx context.Context, id string) (job.BatchJob, error)
	RecordFile(ctx context.Context, batchID string, f job.FileSummary) (int, error)
}

type ImageCodec interface {
	Compress(ctx context.Context, data []byte, outputFormat string, params preset.ImageParams) ([]byte, error)
}

type VideoCodec interface {
	Start(ctx context.Context, inputPath, outputPath string, params preset.VideoParams) (<-chan codec.Event, error)
}

type Archiver interface {
	Archive(ctx context.Context, objectName, path, contentType string) error
}

// Upload is one file received from a client.
type Upload struct {
	FileID        string
	FileName      string
	ContentType   string
	Body          io.Reader
	QualityPreset string
	BatchID       string
}

type Service struct {
	jobs    JobStore
	batches BatchStore
	files   *storage.Local
	images  ImageCodec
	videos  VideoCodec
	logger  *slog.Logger

	archiver  Archiver
	analytics analytics.Recorder

	maxImageBytes int64
	maxVideoBytes int64
	retention     time.Duration
	sem           *semaphore.Weighted

	mu       sync.Mutex
	running  map[string]struct{}
	cleanups map[string]*time.Timer
	wg       sync.WaitGroup
}

type Option func(*Service)

func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

func WithAnalytics(r analytics.Recorder) Option {
	return func(s *Service) { s.analytics = r }
}

func WithMaxImageBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxImageBytes = n
		}
	}
}

func WithMaxVideoBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxVideoBytes = n
		}
	}
}

// WithMaxConcurrentJobs bounds how many transcodes run at once. Jobs over the
// limit stay at 0% until a slot frees up.
func WithMaxConcurrentJobs(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithDownloadRetention sets how long a downloaded output stays on disk.
func WithDownloadRetention(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retention = d
		}
	}
}

func New(jobs JobStore, batches BatchStore, files *storage.Local, images ImageCodec, videos VideoCodec, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		jobs:          jobs,
		batches:       batches,
		files:         files,
		images:        images,
		videos:        videos,
		logger:        logger,
		maxImageBytes: 50 << 20,
		maxVideoBytes: 500 << 20,
		retention:     5 * time.Minute,
		sem:           semaphore.NewWeighted(2),
		running:       make(map[string]struct{}),
		cleanups:      make(map[string]*time.Timer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Progress returns the job record for fileID.
func (s *Service) Progress(ctx context.Context, fileID string) (job.CompressionJob, error) {
	j, err := s.jobs.Get(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return job.CompressionJob{}, fmt.Errorf("job %s: %w", fileID, ErrNotFound)
	}
	return j, err
}

func (s *Service) Presets() []preset.Preset {
	return preset.All()
}

func (s *Service) AnalyticsSummary(ctx context.Context) (analytics.Summary, error) {
	if s.analytics == nil {
		return analytics.Summary{}, nil
	}
	return s.analytics.Summary(ctx)
}

// Shutdown waits for running jobs to finish or ctx to end. Outputs still
// inside their retention window were already delivered, so they are removed
// now rather than left behind by the exiting process.
func (s *Service) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() { defer close(done); s.wg.Wait() }()

	select {
	case <-ctx.Done():
		s.logger.Warn("shutdown interrupted with jobs still running")
	case <-done:
		s.logger.Info("all jobs finished")
	}

	s.mu.Lock()
	for id, t := range s.cleanups {
		if t.Stop() {
			s.removeBestEffort(id, s.files.OutputPath(id))
		}
		delete(s.cleanups, id)
	}
	s.mu.Unlock()
}

// readLimited reads at most limit bytes and reports whether the body was
// longer than that.
func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return nil, true, nil
	}
	return data, false, nil
}

func validateFileID(id string) error {
	if id == "" {
		return invalid("fileId is required")
	}
	if !fileIDPattern.MatchString(id) {
		return invalid("fileId must be 1-128 characters of letters, digits, '-' or '_'")
	}
	return nil
}

// recordAnalytics and recordBatch are best effort: a failure is logged and
// never changes the outcome of the job.
func (s *Service) recordAnalytics(ctx context.Context, e analytics.Entry) {
	if s.analytics == nil {
		return
	}
	if err := s.analytics.Record(ctx, e); err != nil {
		s.logger.Warn("failed to record analytics", "file_id", e.FileID, "error", err)
	}
}

func (s *Service) recordBatch(ctx context.Context, batchID string, f job.FileSummary) {
	if batchID == "" {
		return
	}
	processed, err := s.batches.RecordFile(ctx, batchID, f)
	if err != nil {
		s.logger.Warn("failed to update batch", "batch_id", batchID, "file_id", f.FileID, "error", err)
		return
	}
	s.logger.Debug("batch updated", "batch_id", batchID, "processed_files", processed)
}
