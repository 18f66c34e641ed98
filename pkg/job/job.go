package job

import (
	"math"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// CompressionJob is the progress record polled by clients, keyed by FileID.
type CompressionJob struct {
	FileID           string     `json:"fileId"`
	Kind             Kind       `json:"kind"`
	FileName         string     `json:"fileName,omitempty"`
	Status           Status     `json:"status"`
	Progress         int        `json:"progress"`
	OriginalSize     int64      `json:"originalSize"`
	CompressedSize   int64      `json:"compressedSize,omitempty"`
	CompressionRatio int        `json:"compressionRatio"`
	QualityPreset    string     `json:"qualityPreset"`
	BatchID          string     `json:"batchId,omitempty"`
	CurrentFPS       float64    `json:"currentFps,omitempty"`
	CurrentKbps      float64    `json:"currentKbps,omitempty"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	Error            string     `json:"error,omitempty"`
	DownloadURL      string     `json:"downloadUrl,omitempty"`
}

type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// BatchJob aggregates the jobs a client grouped under one BatchID.
type BatchJob struct {
	BatchID        string        `json:"batchId"`
	Status         BatchStatus   `json:"status"`
	FileCount      int           `json:"fileCount"`
	TotalSize      int64         `json:"totalSize"`
	ProcessedFiles int           `json:"processedFiles"`
	TotalSaved     int64         `json:"totalSaved"`
	Files          []FileSummary `json:"files"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type FileSummary struct {
	FileID           string    `json:"fileId"`
	Kind             Kind      `json:"kind"`
	OriginalSize     int64     `json:"originalSize"`
	CompressedSize   int64     `json:"compressedSize"`
	CompressionRatio int       `json:"compressionRatio"`
	CompletedAt      time.Time `json:"completedAt"`
}

// CompressionRatio is round((1 - compressed/original) * 100). It is negative
// when the output grew.
func CompressionRatio(originalSize, compressedSize int64) int {
	if originalSize <= 0 {
		return 0
	}
	return int(math.Round((1 - float64(compressedSize)/float64(originalSize)) * 100))
}

// Saved is the number of bytes saved, clamped at zero for outputs that grew.
func Saved(originalSize, compressedSize int64) int64 {
	if compressedSize >= originalSize {
		return 0
	}
	return originalSize - compressedSize
}
