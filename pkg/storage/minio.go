package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// Archiver copies finished outputs to an S3-compatible bucket so they outlive
// the local download retention window.
type Archiver struct {
	client *minio.Client
	bucket string
}

func NewArchiver(ctx context.Context, cfg MinioConfig) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Archiver{client: client, bucket: cfg.Bucket}, nil
}

// ObjectName is the key an archived output for fileID is stored under.
func ObjectName(fileID, format string) string {
	return fmt.Sprintf("compressed/%s.%s", fileID, format)
}

func (a *Archiver) Archive(ctx context.Context, objectName, path, contentType string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, a.bucket, objectName, file, stat.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
