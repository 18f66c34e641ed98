package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imalyk/squnch/pkg/job"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestJobsUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	s := NewJobs(client, 0)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Upsert(ctx, job.CompressionJob{
		FileID:        "f1",
		Kind:          job.KindVideo,
		Status:        job.StatusProcessing,
		OriginalSize:  4096,
		QualityPreset: "balanced",
		StartTime:     start,
	}))

	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.FileID)
	assert.Equal(t, job.KindVideo, got.Kind)
	assert.Equal(t, job.StatusProcessing, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, int64(4096), got.OriginalSize)
	assert.True(t, start.Equal(got.StartTime))
	assert.Nil(t, got.EndTime)
}

func TestJobsUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	s := NewJobs(client, 0)

	require.NoError(t, s.Upsert(ctx, job.CompressionJob{FileID: "f1", Status: job.StatusError, Error: "boom"}))
	require.NoError(t, s.Upsert(ctx, job.CompressionJob{FileID: "f1", Status: job.StatusProcessing}))

	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, got.Status)
	assert.Empty(t, got.Error)
}

func TestJobsPatch(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	s := NewJobs(client, 0)
	require.NoError(t, s.Upsert(ctx, job.CompressionJob{FileID: "f1", Status: job.StatusProcessing, OriginalSize: 1000}))

	end := time.Now().UTC()
	require.NoError(t, s.Patch(ctx, "f1", Fields{
		"status":         job.StatusCompleted,
		"progress":       100,
		"compressedSize": int64(400),
		"endTime":        end,
	}))

	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, int64(400), got.CompressedSize)
	assert.Equal(t, int64(1000), got.OriginalSize)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))
}

func TestJobsPatchMissingRecord(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	s := NewJobs(client, 0)

	err := s.Patch(ctx, "ghost", Fields{"progress": 10})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobsTTL(t *testing.T) {
	ctx := context.Background()
	client, mr := newClient(t)
	s := NewJobs(client, time.Hour)
	require.NoError(t, s.Upsert(ctx, job.CompressionJob{FileID: "f1", Status: job.StatusProcessing}))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(ctx, "f1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobsIsolatedByKey(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	s := NewJobs(client, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("f%d", i)
			assert.NoError(t, s.Upsert(ctx, job.CompressionJob{FileID: id, Status: job.StatusProcessing, OriginalSize: int64(i)}))
			for p := 1; p <= 5; p++ {
				assert.NoError(t, s.Patch(ctx, id, Fields{"progress": p * 10}))
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		got, err := s.Get(ctx, fmt.Sprintf("f%d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i), got.OriginalSize)
		assert.Equal(t, 50, got.Progress)
	}
}

func TestBatchesRecordFile(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	s := NewBatches(client, 0)

	require.NoError(t, s.Create(ctx, job.BatchJob{
		BatchID:   "b1",
		Status:    job.BatchProcessing,
		FileCount: 3,
		TotalSize: 3000,
		CreatedAt: time.Now(),
	}))

	savings := []struct{ original, compressed int64 }{
		{1000, 900},
		{1000, 800},
		{1000, 1050},
	}
	var wg sync.WaitGroup
	for i, sv := range savings {
		wg.Add(1)
		go func(i int, original, compressed int64) {
			defer wg.Done()
			_, err := s.RecordFile(ctx, "b1", job.FileSummary{
				FileID:         fmt.Sprintf("f%d", i),
				OriginalSize:   original,
				CompressedSize: compressed,
			})
			assert.NoError(t, err)
		}(i, sv.original, sv.compressed)
	}
	wg.Wait()

	b, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, b.ProcessedFiles)
	assert.Equal(t, int64(300), b.TotalSaved)
	assert.Equal(t, job.BatchCompleted, b.Status)
	assert.Len(t, b.Files, 3)
}

func TestBatchesUnknown(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)
	s := NewBatches(client, 0)

	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.RecordFile(ctx, "nope", job.FileSummary{FileID: "f"})
	assert.ErrorIs(t, err, ErrNotFound)
}
