// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the YAML file path.
const FileEnv = "SQUNCH_CONFIG"

type Config struct {
	HTTPAddr    string
	MetricsAddr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JobTTL        time.Duration

	DatabaseURL string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string
	MinioBucket    string

	WorkDir     string
	FFMPEGPath  string
	FFProbePath string

	MaxImageBytes     int64
	MaxVideoBytes     int64
	MaxConcurrentJobs int
	DownloadRetention time.Duration
	ProgressBackoff   time.Duration

	LogLevel slog.Level
}

// Load reads the file named by SQUNCH_CONFIG, if any, then applies
// environment overrides and defaults.
func Load() (Config, error) {
	values := map[string]string{}
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		var err error
		values, err = readFile(path)
		if err != nil {
			return Config{}, err
		}
	}
	get := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return v
		}
		return values[key]
	}

	cfg := Config{
		HTTPAddr:          valueOrDefault(get("HTTP_ADDR"), ":3000"),
		MetricsAddr:       get("METRICS_ADDR"),
		RedisAddr:         valueOrDefault(get("REDIS_ADDR"), "localhost:6379"),
		RedisPassword:     get("REDIS_PASSWORD"),
		RedisDB:           parseInt(get("REDIS_DB"), 0),
		JobTTL:            parseDuration(get("JOB_TTL"), 0),
		DatabaseURL:       get("DATABASE_URL"),
		MinioEndpoint:     get("MINIO_ENDPOINT"),
		MinioAccessKey:    valueOrDefault(get("MINIO_ACCESS_KEY"), "minio"),
		MinioSecretKey:    valueOrDefault(get("MINIO_SECRET_KEY"), "minio123"),
		MinioUseSSL:       strings.EqualFold(get("MINIO_USE_SSL"), "true"),
		MinioRegion:       get("MINIO_REGION"),
		MinioBucket:       valueOrDefault(get("MINIO_BUCKET"), "squnch"),
		WorkDir:           valueOrDefault(get("WORK_DIR"), filepath.Join(os.TempDir(), "squnch")),
		FFMPEGPath:        valueOrDefault(get("FFMPEG_PATH"), "ffmpeg"),
		FFProbePath:       valueOrDefault(get("FFPROBE_PATH"), "ffprobe"),
		MaxImageBytes:     parseInt64(get("MAX_IMAGE_BYTES"), 50<<20),
		MaxVideoBytes:     parseInt64(get("MAX_VIDEO_BYTES"), 500<<20),
		MaxConcurrentJobs: parseInt(get("MAX_CONCURRENT_JOBS"), 2),
		DownloadRetention: parseDuration(get("DOWNLOAD_RETENTION"), 5*time.Minute),
		ProgressBackoff:   parseDuration(get("PROGRESS_BACKOFF"), time.Second),
		LogLevel:          parseLevel(get("LOG_LEVEL")),
	}
	// An explicitly empty METRICS_ADDR turns the metrics listener off.
	if v, ok := os.LookupEnv("METRICS_ADDR"); !ok {
		if _, inFile := values["METRICS_ADDR"]; !inFile {
			cfg.MetricsAddr = ":9090"
		}
	} else {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_IMAGE_BYTES must be positive, got %d", c.MaxImageBytes))
	}
	if c.MaxVideoBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_VIDEO_BYTES must be positive, got %d", c.MaxVideoBytes))
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_JOBS must be positive, got %d", c.MaxConcurrentJobs))
	}
	if c.DownloadRetention < 0 {
		errs = append(errs, errors.New("DOWNLOAD_RETENTION must not be negative"))
	}
	if c.JobTTL < 0 {
		errs = append(errs, errors.New("JOB_TTL must not be negative"))
	}
	if c.MinioEndpoint != "" && c.MinioBucket == "" {
		errs = append(errs, errors.New("MINIO_BUCKET is required when MINIO_ENDPOINT is set"))
	}
	return errors.Join(errs...)
}

// readFile decodes a flat YAML mapping. Keys are matched case-insensitively
// against the environment variable names, so http_addr and HTTP_ADDR are
// the same setting.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	return values, nil
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
