package store

import (
	"context"
	"fmt"
	"net/http"

	"carphoto/internal/config"
)

// NewBackendFromConfig creates a Backend implementation based on the disk config backend type.
func NewBackendFromConfig(ctx context.Context, cfg config.DiskConfig) (Backend, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryBackend(""), nil
	case "http":
		if cfg.Token == "" {
			return nil, fmt.Errorf("http disk backend requires token to be set")
		}
		httpClient := &http.Client{Timeout: cfg.Timeout.Duration}
		return NewHTTPBackend(httpClient, cfg.APIURL, cfg.Token), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 disk backend requires s3_bucket to be set")
		}
		b, err := NewS3Backend(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			PresignTTL:      cfg.S3PresignTTL.Duration,
			PublicURL:       cfg.S3PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem disk backend requires fs_root to be set")
		}
		b, err := NewFileSystemBackend(cfg.FSRoot, cfg.FSPublicURL)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown disk backend: %s", cfg.Backend)
	}
}
