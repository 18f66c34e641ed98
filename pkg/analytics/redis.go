package analytics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/imalyk/squnch/pkg/job"
)

const summaryKey = "analytics:summary"

// RedisRecorder keeps running totals in a single hash.
type RedisRecorder struct {
	client *redis.Client
}

func NewRedisRecorder(client *redis.Client) *RedisRecorder {
	return &RedisRecorder{client: client}
}

func (r *RedisRecorder) Record(ctx context.Context, e Entry) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, summaryKey, "totalFiles", 1)
		pipe.HIncrBy(ctx, summaryKey, string(e.Kind)+"Files", 1)
		pipe.HIncrBy(ctx, summaryKey, "processingMs", e.Duration.Milliseconds())
		if e.Status == job.StatusCompleted {
			pipe.HIncrBy(ctx, summaryKey, "completedFiles", 1)
			pipe.HIncrBy(ctx, summaryKey, "originalBytes", e.OriginalSize)
			pipe.HIncrBy(ctx, summaryKey, "compressedBytes", e.CompressedSize)
			pipe.HIncrBy(ctx, summaryKey, "savedBytes", job.Saved(e.OriginalSize, e.CompressedSize))
		} else {
			pipe.HIncrBy(ctx, summaryKey, "failedFiles", 1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record analytics for %s: %w", e.FileID, err)
	}
	return nil
}

func (r *RedisRecorder) Summary(ctx context.Context) (Summary, error) {
	values, err := r.client.HGetAll(ctx, summaryKey).Result()
	if err != nil {
		return Summary{}, fmt.Errorf("read analytics summary: %w", err)
	}
	n := func(field string) int64 {
		v, _ := strconv.ParseInt(values[field], 10, 64)
		return v
	}
	s := Summary{
		TotalFiles:           n("totalFiles"),
		CompletedFiles:       n("completedFiles"),
		FailedFiles:          n("failedFiles"),
		ImageFiles:           n("imageFiles"),
		VideoFiles:           n("videoFiles"),
		TotalOriginalBytes:   n("originalBytes"),
		TotalCompressedBytes: n("compressedBytes"),
		TotalSavedBytes:      n("savedBytes"),
	}
	s.finish(n("processingMs"))
	return s, nil
}
