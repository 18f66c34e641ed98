package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imalyk/squnch/pkg/job"
)

// recordFileScript bumps the batch counters and appends the file summary in
// one step so concurrent completions never lose an increment.
var recordFileScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local processed = redis.call('HINCRBY', KEYS[1], 'processedFiles', 1)
redis.call('HINCRBY', KEYS[1], 'totalSaved', ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[2])
local count = tonumber(redis.call('HGET', KEYS[1], 'fileCount'))
if count ~= nil and processed >= count then
	redis.call('HSET', KEYS[1], 'status', ARGV[3])
end
return processed
`)

type Batches struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBatches(client *redis.Client, ttl time.Duration) *Batches {
	return &Batches{client: client, ttl: ttl}
}

func (s *Batches) Create(ctx context.Context, b job.BatchJob) error {
	key := batchKey(b.BatchID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key, batchFilesKey(b.BatchID))
		pipe.HSet(ctx, key, flatten(Fields{
			"batchId":        b.BatchID,
			"status":         b.Status,
			"fileCount":      b.FileCount,
			"totalSize":      b.TotalSize,
			"processedFiles": 0,
			"totalSaved":     0,
			"createdAt":      b.CreatedAt,
		})...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create batch %s: %w", b.BatchID, err)
	}
	return nil
}

func (s *Batches) Get(ctx context.Context, id string) (job.BatchJob, error) {
	values, err := s.client.HGetAll(ctx, batchKey(id)).Result()
	if err != nil {
		return job.BatchJob{}, fmt.Errorf("get batch %s: %w", id, err)
	}
	if len(values) == 0 {
		return job.BatchJob{}, ErrNotFound
	}
	raw, err := s.client.LRange(ctx, batchFilesKey(id), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return job.BatchJob{}, fmt.Errorf("list batch %s files: %w", id, err)
	}

	b := job.BatchJob{
		BatchID:        values["batchId"],
		Status:         job.BatchStatus(values["status"]),
		FileCount:      parseInt(values["fileCount"]),
		TotalSize:      parseInt64(values["totalSize"]),
		ProcessedFiles: parseInt(values["processedFiles"]),
		TotalSaved:     parseInt64(values["totalSaved"]),
		CreatedAt:      parseTime(values["createdAt"]),
		Files:          make([]job.FileSummary, 0, len(raw)),
	}
	for _, item := range raw {
		var f job.FileSummary
		if err := json.Unmarshal([]byte(item), &f); err != nil {
			continue
		}
		b.Files = append(b.Files, f)
	}
	return b, nil
}

// RecordFile adds one finished file to the batch: processedFiles grows by one
// and totalSaved by the clamped saving. It returns the new processed count.
func (s *Batches) RecordFile(ctx context.Context, batchID string, f job.FileSummary) (int, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return 0, fmt.Errorf("encode batch file: %w", err)
	}
	saved := job.Saved(f.OriginalSize, f.CompressedSize)
	keys := []string{batchKey(batchID), batchFilesKey(batchID)}
	processed, err := recordFileScript.Run(ctx, s.client, keys, saved, string(payload), string(job.BatchCompleted)).Int()
	if err != nil {
		return 0, fmt.Errorf("record batch %s file: %w", batchID, err)
	}
	if processed < 0 {
		return 0, fmt.Errorf("record batch %s file: %w", batchID, ErrNotFound)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, batchFilesKey(batchID), s.ttl)
	}
	return processed, nil
}
