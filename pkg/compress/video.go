package compress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/imalyk/squnch/pkg/analytics"
	"github.com/imalyk/squnch/pkg/codec"
	"github.com/imalyk/squnch/pkg/job"
	"github.com/imalyk/squnch/pkg/preset"
	"github.com/imalyk/squnch/pkg/storage"
	"github.com/imalyk/squnch/pkg/store"
)

var allowedVideoExts = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".avi": true, ".m4v": true,
}

type VideoAccepted struct {
	FileID        string `json:"fileId"`
	OriginalSize  int64  `json:"originalSize"`
	QualityPreset string `json:"qualityPreset"`
}

// SubmitVideo stores the upload, writes the initial processing record and
// starts the transcode in the background. It returns before the transcode
// finishes.
func (s *Service) SubmitVideo(ctx context.Context, u Upload) (VideoAccepted, error) {
	if u.Body == nil {
		return VideoAccepted{}, invalid("no file uploaded")
	}
	if err := validateFileID(u.FileID); err != nil {
		return VideoAccepted{}, err
	}
	ext := strings.ToLower(filepath.Ext(u.FileName))
	if !allowedVideoExts[ext] {
		if !strings.HasPrefix(u.ContentType, "video/") {
			return VideoAccepted{}, invalid("unsupported video type, expected one of mp4, mov, mkv, webm, avi, m4v")
		}
		ext = ""
	}

	if !s.reserve(u.FileID) {
		return VideoAccepted{}, fmt.Errorf("job %s: %w", u.FileID, ErrConflict)
	}
	started := false
	defer func() {
		if !started {
			s.release(u.FileID)
		}
	}()

	inputPath, size, err := s.files.SaveInput(u.FileID, ext, io.LimitReader(u.Body, s.maxVideoBytes+1))
	if err != nil {
		return VideoAccepted{}, fmt.Errorf("save upload %s: %w", u.FileID, err)
	}
	if size == 0 || size > s.maxVideoBytes {
		s.removeBestEffort(u.FileID, inputPath)
		if size == 0 {
			return VideoAccepted{}, invalid("file is empty")
		}
		return VideoAccepted{}, invalid("file too large, maximum size is %d bytes", s.maxVideoBytes)
	}

	p := preset.Lookup(u.QualityPreset)
	record := job.CompressionJob{
		FileID:        u.FileID,
		Kind:          job.KindVideo,
		FileName:      baseName(u.FileName),
		Status:        job.StatusProcessing,
		Progress:      0,
		OriginalSize:  size,
		QualityPreset: p.Name,
		BatchID:       u.BatchID,
		StartTime:     time.Now().UTC(),
	}
	if err := s.jobs.Upsert(ctx, record); err != nil {
		s.removeBestEffort(u.FileID, inputPath)
		return VideoAccepted{}, fmt.Errorf("create job %s: %w", u.FileID, err)
	}

	started = true
	jobsInFlight.Inc()
	s.wg.Add(1)
	go s.run(record, inputPath, p)

	s.logger.Info("video compression started", "file_id", u.FileID, "preset", p.Name, "original_size", size)
	return VideoAccepted{FileID: u.FileID, OriginalSize: size, QualityPreset: p.Name}, nil
}

// run is the single task that owns a video job's record from the first
// transcode event to the terminal one.
func (s *Service) run(record job.CompressionJob, inputPath string, p preset.Preset) {
	defer s.wg.Done()
	defer jobsInFlight.Dec()
	defer s.release(record.FileID)

	ctx := context.Background()
	outputPath := s.files.OutputPath(record.FileID)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.fail(ctx, record, inputPath, outputPath, err.Error())
		return
	}
	defer s.sem.Release(1)

	events, err := s.videos.Start(ctx, inputPath, outputPath, p.Video)
	if err != nil {
		s.fail(ctx, record, inputPath, outputPath, err.Error())
		return
	}

	last := 0
	terminal := false
	for e := range events {
		if terminal {
			continue
		}
		switch e.Type {
		case codec.EventProgress:
			if e.Percent < last {
				continue
			}
			last = e.Percent
			s.patch(ctx, record.FileID, store.Fields{
				"progress":    e.Percent,
				"currentFps":  e.FPS,
				"currentKbps": e.Kbps,
			})
		case codec.EventCompleted:
			terminal = true
			s.complete(ctx, record, inputPath, outputPath, e.OutputSize)
		case codec.EventFailed:
			terminal = true
			s.fail(ctx, record, inputPath, outputPath, e.Reason)
		}
	}
	if !terminal {
		s.fail(ctx, record, inputPath, outputPath, "transcoder exited without a result")
	}
}

func (s *Service) complete(ctx context.Context, record job.CompressionJob, inputPath, outputPath string, compressedSize int64) {
	end := time.Now().UTC()
	ratio := job.CompressionRatio(record.OriginalSize, compressedSize)
	s.patch(ctx, record.FileID, store.Fields{
		"status":           job.StatusCompleted,
		"progress":         100,
		"compressedSize":   compressedSize,
		"compressionRatio": ratio,
		"endTime":          end,
		"downloadUrl":      DownloadPath + record.FileID,
	})
	s.removeBestEffort(record.FileID, inputPath)

	elapsed := end.Sub(record.StartTime)
	s.logger.Info("video compression completed",
		"file_id", record.FileID,
		"original_size", record.OriginalSize,
		"compressed_size", compressedSize,
		"compression_ratio", ratio,
		"duration_ms", elapsed.Milliseconds(),
	)
	observeJob(job.KindVideo, job.StatusCompleted, elapsed, job.Saved(record.OriginalSize, compressedSize))

	if s.archiver != nil {
		object := storage.ObjectName(record.FileID, codec.FormatMP4)
		if err := s.archiver.Archive(ctx, object, outputPath, codec.ContentType(codec.FormatMP4)); err != nil {
			s.logger.Warn("failed to archive output", "file_id", record.FileID, "error", err)
		}
	}
	s.recordBatch(ctx, record.BatchID, job.FileSummary{
		FileID:           record.FileID,
		Kind:             job.KindVideo,
		OriginalSize:     record.OriginalSize,
		CompressedSize:   compressedSize,
		CompressionRatio: ratio,
		CompletedAt:      end,
	})
	s.recordAnalytics(ctx, analytics.Entry{
		FileID:         record.FileID,
		Kind:           job.KindVideo,
		Status:         job.StatusCompleted,
		QualityPreset:  record.QualityPreset,
		OriginalSize:   record.OriginalSize,
		CompressedSize: compressedSize,
		Duration:       elapsed,
		At:             end,
	})
}

func (s *Service) fail(ctx context.Context, record job.CompressionJob, inputPath, outputPath, reason string) {
	end := time.Now().UTC()
	s.patch(ctx, record.FileID, store.Fields{
		"status":  job.StatusError,
		"error":   reason,
		"endTime": end,
	})
	s.removeBestEffort(record.FileID, inputPath)
	s.removeBestEffort(record.FileID, outputPath)

	elapsed := end.Sub(record.StartTime)
	s.logger.Error("video compression failed", "file_id", record.FileID, "error", reason)
	observeJob(job.KindVideo, job.StatusError, elapsed, 0)
	s.recordAnalytics(ctx, analytics.Entry{
		FileID:        record.FileID,
		Kind:          job.KindVideo,
		Status:        job.StatusError,
		QualityPreset: record.QualityPreset,
		OriginalSize:  record.OriginalSize,
		Duration:      elapsed,
		At:            end,
	})
}

// patch applies a record update from the job task. Store failures are
// logged and swallowed so they never abort a running transcode.
func (s *Service) patch(ctx context.Context, fileID string, fields store.Fields) {
	if err := s.jobs.Patch(ctx, fileID, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("job record vanished, update dropped", "file_id", fileID)
			return
		}
		s.logger.Warn("failed to update job record", "file_id", fileID, "error", err)
	}
}

func (s *Service) removeBestEffort(fileID, path string) {
	if err := s.files.Remove(path); err != nil {
		s.logger.Warn("failed to remove temporary file", "file_id", fileID, "path", path, "error", err)
	}
}

// reserve marks fileID as running. A pending cleanup of an earlier output
// with the same id is cancelled so it cannot delete the new job's output.
func (s *Service) reserve(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[fileID]; ok {
		return false
	}
	s.running[fileID] = struct{}{}
	if t, ok := s.cleanups[fileID]; ok {
		t.Stop()
		delete(s.cleanups, fileID)
	}
	return true
}

func (s *Service) release(fileID string) {
	s.mu.Lock()
	delete(s.running, fileID)
	s.mu.Unlock()
}

func baseName(name string) string {
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}
