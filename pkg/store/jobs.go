package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imalyk/squnch/pkg/job"
)

// patchScript merges fields into an existing hash and refuses to resurrect a
// record that has expired or been replaced by a delete.
var patchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// Jobs is the Job Record Store.
type Jobs struct {
	client *redis.Client
	ttl    time.Duration
}

// NewJobs returns a store writing through client. A positive ttl expires
// records that long after their creation; zero keeps them forever.
func NewJobs(client *redis.Client, ttl time.Duration) *Jobs {
	return &Jobs{client: client, ttl: ttl}
}

// Upsert creates or replaces the record for j.FileID.
func (s *Jobs) Upsert(ctx context.Context, j job.CompressionJob) error {
	key := jobKey(j.FileID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, flatten(encodeJob(j))...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", j.FileID, err)
	}
	return nil
}

// Patch merges fields into an existing record. It returns ErrNotFound when
// the record no longer exists.
func (s *Jobs) Patch(ctx context.Context, id string, fields Fields) error {
	if len(fields) == 0 {
		return nil
	}
	ok, err := patchScript.Run(ctx, s.client, []string{jobKey(id)}, flatten(fields)...).Int()
	if err != nil {
		return fmt.Errorf("patch job %s: %w", id, err)
	}
	if ok == 0 {
		return fmt.Errorf("patch job %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns the record for id or ErrNotFound.
func (s *Jobs) Get(ctx context.Context, id string) (job.CompressionJob, error) {
	values, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return job.CompressionJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(values) == 0 {
		return job.CompressionJob{}, ErrNotFound
	}
	return decodeJob(values), nil
}

func encodeJob(j job.CompressionJob) Fields {
	return Fields{
		"fileId":           j.FileID,
		"kind":             j.Kind,
		"fileName":         j.FileName,
		"status":           j.Status,
		"progress":         j.Progress,
		"originalSize":     j.OriginalSize,
		"compressedSize":   j.CompressedSize,
		"compressionRatio": j.CompressionRatio,
		"qualityPreset":    j.QualityPreset,
		"batchId":          j.BatchID,
		"currentFps":       j.CurrentFPS,
		"currentKbps":      j.CurrentKbps,
		"startTime":        j.StartTime,
		"endTime":          j.EndTime,
		"error":            j.Error,
		"downloadUrl":      j.DownloadURL,
	}
}

func decodeJob(v map[string]string) job.CompressionJob {
	j := job.CompressionJob{
		FileID:           v["fileId"],
		Kind:             job.Kind(v["kind"]),
		FileName:         v["fileName"],
		Status:           job.Status(v["status"]),
		Progress:         parseInt(v["progress"]),
		OriginalSize:     parseInt64(v["originalSize"]),
		CompressedSize:   parseInt64(v["compressedSize"]),
		CompressionRatio: parseInt(v["compressionRatio"]),
		QualityPreset:    v["qualityPreset"],
		BatchID:          v["batchId"],
		CurrentFPS:       parseFloat(v["currentFps"]),
		CurrentKbps:      parseFloat(v["currentKbps"]),
		StartTime:        parseTime(v["startTime"]),
		Error:            v["error"],
		DownloadURL:      v["downloadUrl"],
	}
	if end := parseTime(v["endTime"]); !end.IsZero() {
		j.EndTime = &end
	}
	return j
}
