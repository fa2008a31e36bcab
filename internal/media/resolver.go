// Package media turns stored photo locators into URLs a browser can fetch.
package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Resolver interface {
	URL(ctx context.Context, locator string) (string, error)
}

// LocalResolver serves locators from a static prefix such as /uploads.
type LocalResolver struct {
	base string
}

func NewLocalResolver(base string) *LocalResolver {
	return &LocalResolver{base: strings.TrimRight(base, "/")}
}

func (r *LocalResolver) URL(_ context.Context, locator string) (string, error) {
	if locator == "" {
		return "", nil
	}
	return r.base + "/" + strings.TrimLeft(locator, "/"), nil
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	TTL       time.Duration
}

// MinioResolver treats locators as object keys and hands out presigned GETs.
type MinioResolver struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func NewMinioResolver(cfg MinioConfig) (*MinioResolver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		// a fixed region lets presigning skip the bucket location lookup
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MinioResolver{client: client, bucket: cfg.Bucket, ttl: ttl}, nil
}

func (r *MinioResolver) URL(ctx context.Context, locator string) (string, error) {
	if locator == "" {
		return "", nil
	}
	u, err := r.client.PresignedGetObject(ctx, r.bucket, strings.TrimLeft(locator, "/"), r.ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", locator, err)
	}
	return u.String(), nil
}
