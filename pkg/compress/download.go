package compress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imalyk/squnch/pkg/codec"
	"github.com/imalyk/squnch/pkg/job"
)

// Artifact is an open compressed output. The caller must Close it and call
// Delivered once the bytes reached the client.
type Artifact struct {
	*os.File
	FileID      string
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time

	delivered func()
}

// Delivered starts the retention window after which the output is deleted.
func (a *Artifact) Delivered() {
	if a.delivered != nil {
		a.delivered()
	}
}

// OpenDownload opens the output of a completed job. The output location is
// derived from fileID alone.
func (s *Service) OpenDownload(ctx context.Context, fileID string) (*Artifact, error) {
	j, err := s.Progress(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusCompleted {
		return nil, fmt.Errorf("job %s is %s: %w", fileID, j.Status, ErrNotReady)
	}

	path := s.files.OutputPath(fileID)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("output for %s: %w", fileID, ErrNotFound)
		}
		return nil, fmt.Errorf("open output for %s: %w", fileID, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat output for %s: %w", fileID, err)
	}

	return &Artifact{
		File:        f,
		FileID:      fileID,
		Name:        downloadName(j),
		ContentType: codec.ContentType(codec.FormatMP4),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		delivered:   func() { s.scheduleCleanup(fileID, path) },
	}, nil
}

// scheduleCleanup deletes path after the retention window. Only the first
// delivery starts the window; later downloads inside it are still served.
func (s *Service) scheduleCleanup(fileID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cleanups[fileID]; ok {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(s.retention, func() {
		s.removeBestEffort(fileID, path)
		s.mu.Lock()
		if s.cleanups[fileID] == t {
			delete(s.cleanups, fileID)
		}
		s.mu.Unlock()
		s.logger.Debug("downloaded output removed", "file_id", fileID)
	})
	s.cleanups[fileID] = t
}

func downloadName(j job.CompressionJob) string {
	base := j.FileID
	if j.FileName != "" {
		base = strings.TrimSuffix(j.FileName, filepath.Ext(j.FileName))
	}
	return fmt.Sprintf("compressed_%s.%s", base, codec.FormatMP4)
}
