package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalProvider keeps objects on disk. It backs local development and tests,
// signed URLs carry an HMAC that is never checked by anything but tests.
type LocalProvider struct {
	dir     string
	baseURL string
	secret  []byte
}

func NewLocalProvider(dir, baseURL string) *LocalProvider {
	return &LocalProvider{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/"), secret: []byte(dir)}
}

// path maps an object to its file. Keys are built from user input, so anything
// that would land outside the bucket directory is refused.
func (p *LocalProvider) path(bucket, key string) (string, error) {
	name := filepath.FromSlash(key)
	if !filepath.IsLocal(bucket) || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%s/%s: %w", bucket, key, ErrInvalidKey)
	}
	return filepath.Join(p.dir, bucket, name), nil
}

func (p *LocalProvider) CreateBucket(ctx context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(p.dir, bucket), os.ModePerm)
}

func (p *LocalProvider) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	path, err := p.path(bucket, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, err
	}
	return data, nil
}

func (p *LocalProvider) PutObject(ctx context.Context, bucket, key string, data io.Reader, contentType string) error {
	path, err := p.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}

	dst, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, data); err != nil {
		dst.Close()
		return err
	}

	return dst.Close()
}

func (p *LocalProvider) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	root := filepath.Join(p.dir, bucket)

	var objects []Object
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{Name: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	return objects, nil
}

func (p *LocalProvider) PublicURL(bucket, key string) string {
	return publicObjectURL(p.baseURL, bucket, key)
}

func (p *LocalProvider) SignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	path, err := p.path(bucket, key)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return "", err
	}

	expires := strconv.FormatInt(time.Now().Add(expiry).Unix(), 10)
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(bucket + "/" + key + "?" + expires))

	return p.PublicURL(bucket, key) + "?expires=" + expires + "&token=" + hex.EncodeToString(mac.Sum(nil)), nil
}
