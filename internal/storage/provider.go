package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("object key escapes its bucket")
)

type Object struct {
	Name string
	Size int64
}

type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	PutObject(ctx context.Context, bucket, key string, data io.Reader, contentType string) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	// PublicURL is the address a public bucket serves the object from.
	PublicURL(bucket, key string) string

	SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}
