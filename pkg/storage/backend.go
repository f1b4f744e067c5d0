// Package storage persists small blobs, such as pricing snapshots, on the local
// filesystem or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob not found")

// BlobStore defines the interface for abstract storage backends.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open returns the store addressed by rawURL: "s3://bucket/prefix" selects S3,
// "file:///dir" or a bare path selects the local filesystem.
func Open(rawURL string, cfg aws.Config) (BlobStore, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty storage url")
	}
	if !strings.Contains(rawURL, "://") {
		return NewLocalStore(rawURL), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse storage url: %w", err)
	}
	switch u.Scheme {
	case "file":
		return NewLocalStore(u.Path), nil
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("s3 url %q has no bucket", rawURL)
		}
		// Custom endpoints (LocalStack, MinIO) need path-style addressing.
		client := s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = cfg.BaseEndpoint != nil })
		return NewS3Store(client, u.Host, strings.TrimPrefix(u.Path, "/")), nil
	}
	return nil, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
}
