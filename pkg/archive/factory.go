package archive

import (
	"context"
	"fmt"
)

// Type names an archive backend.
type Type string

const (
	TypeFS  Type = "fs"
	TypeS3  Type = "s3"
	TypeGCS Type = "gcs"
)

// Config selects and configures an archive backend.
type Config struct {
	Type     Type
	Dir      string
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// NewStoreFromConfig builds the configured backend. An empty type is "fs".
func NewStoreFromConfig(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", TypeFS:
		if cfg.Dir == "" {
			cfg.Dir = "data/archive"
		}
		return NewFileStore(cfg.Dir)
	case TypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("ARCHIVE_BUCKET is required for S3 archives")
		}
		if cfg.Region == "" {
			cfg.Region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.Bucket, Region: cfg.Region, Endpoint: cfg.Endpoint, Prefix: cfg.Prefix})
	case TypeGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("ARCHIVE_BUCKET is required for GCS archives")
		}
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", cfg.Type)
	}
}
