package compress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imalyk/squnch/pkg/analytics"
	"github.com/imalyk/squnch/pkg/codec"
	"github.com/imalyk/squnch/pkg/job"
	"github.com/imalyk/squnch/pkg/preset"
)

type ImageResult struct {
	FileID           string
	Data             []byte
	ContentType      string
	SourceFormat     string
	OutputFormat     string
	OriginalSize     int64
	CompressedSize   int64
	CompressionRatio int
	QualityPreset    string
	Duration         time.Duration
}

func (r ImageResult) FormatChanged() bool {
	return r.SourceFormat != r.OutputFormat
}

// SubmitImage compresses an image synchronously and returns the bytes.
func (s *Service) SubmitImage(ctx context.Context, u Upload) (ImageResult, error) {
	if u.Body == nil {
		return ImageResult{}, invalid("no file uploaded")
	}
	fileID := u.FileID
	if fileID == "" {
		fileID = uuid.NewString()
	} else if err := validateFileID(fileID); err != nil {
		return ImageResult{}, err
	}

	data, tooLarge, err := readLimited(u.Body, s.maxImageBytes)
	if err != nil {
		return ImageResult{}, invalid("failed to read upload: %v", err)
	}
	if tooLarge {
		return ImageResult{}, invalid("file too large, maximum size is %d bytes", s.maxImageBytes)
	}
	if len(data) == 0 {
		return ImageResult{}, invalid("file is empty")
	}

	sourceFormat, err := codec.DetectImageFormat(data)
	if err != nil {
		return ImageResult{}, invalid("unsupported image type, expected JPEG or PNG")
	}

	p := preset.Lookup(u.QualityPreset)
	originalSize := int64(len(data))
	outputFormat := p.OutputFormat(sourceFormat, originalSize)

	start := time.Now()
	out, err := s.images.Compress(ctx, data, outputFormat, p.Image)
	elapsed := time.Since(start)
	if err != nil {
		s.logger.Error("image compression failed", "file_id", fileID, "error", err)
		observeJob(job.KindImage, job.StatusError, elapsed, 0)
		s.recordAnalytics(ctx, analytics.Entry{
			FileID:        fileID,
			Kind:          job.KindImage,
			Status:        job.StatusError,
			QualityPreset: p.Name,
			OriginalSize:  originalSize,
			Duration:      elapsed,
			At:            time.Now().UTC(),
		})
		return ImageResult{}, &CodecError{Err: fmt.Errorf("image %s: %w", fileID, err)}
	}

	res := ImageResult{
		FileID:           fileID,
		Data:             out,
		ContentType:      codec.ContentType(outputFormat),
		SourceFormat:     sourceFormat,
		OutputFormat:     outputFormat,
		OriginalSize:     originalSize,
		CompressedSize:   int64(len(out)),
		CompressionRatio: job.CompressionRatio(originalSize, int64(len(out))),
		QualityPreset:    p.Name,
		Duration:         elapsed,
	}

	s.logger.Info("image compressed",
		"file_id", fileID,
		"preset", p.Name,
		"original_size", res.OriginalSize,
		"compressed_size", res.CompressedSize,
		"output_format", outputFormat,
		"duration_ms", elapsed.Milliseconds(),
	)
	observeJob(job.KindImage, job.StatusCompleted, elapsed, job.Saved(res.OriginalSize, res.CompressedSize))
	s.recordAnalytics(ctx, analytics.Entry{
		FileID:         fileID,
		Kind:           job.KindImage,
		Status:         job.StatusCompleted,
		QualityPreset:  p.Name,
		OriginalSize:   res.OriginalSize,
		CompressedSize: res.CompressedSize,
		FormatChanged:  res.FormatChanged(),
		Duration:       elapsed,
		At:             time.Now().UTC(),
	})
	s.recordBatch(ctx, u.BatchID, job.FileSummary{
		FileID:           fileID,
		Kind:             job.KindImage,
		OriginalSize:     res.OriginalSize,
		CompressedSize:   res.CompressedSize,
		CompressionRatio: res.CompressionRatio,
		CompletedAt:      time.Now().UTC(),
	})
	return res, nil
}
