// Package archive uploads finalized disk logs to S3-compatible object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Config holds the object storage connection settings.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Enabled reports whether archiving is configured.
func (c Config) Enabled() bool { return c.Endpoint != "" }

// Validate checks that an enabled config is complete.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Bucket == "" {
		return errors.New("archive: bucket is required when endpoint is set")
	}
	return nil
}

// Archiver stores disk log files in a bucket.
type Archiver struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// New connects to the object store and creates the bucket if it is missing.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created archive bucket", zap.String("bucket", cfg.Bucket))
	}

	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.Named("archive"),
	}, nil
}

// ObjectName is the key a disk log at path is stored under: the monitor
// directory followed by the file name.
func ObjectName(path string) string {
	return filepath.Base(filepath.Dir(path)) + "/" + filepath.Base(path)
}

// Upload stores the file at path.
func (a *Archiver) Upload(ctx context.Context, path string) error {
	name := ObjectName(path)
	info, err := a.client.FPutObject(ctx, a.bucket, name, path, minio.PutObjectOptions{
		ContentType:     "application/x-ndjson",
		ContentEncoding: "gzip",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	a.logger.Info("archived disk log",
		zap.String("object", fmt.Sprintf("%s/%s", a.bucket, info.Key)),
		zap.Int64("size", info.Size))
	return nil
}
