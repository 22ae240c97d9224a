// Package storage persists rendered page images in S3-compatible object
// storage. Objects are keyed document-id/generation/page-number so a whole
// document can be removed by prefix.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/patchvec/patchvec/internal/config"
)

type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(ctx context.Context, cfg config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// SourceScheme prefixes source references that live in object storage
// rather than at a public URL.
const SourceScheme = "s3://"

// IsSourceRef reports whether a document source points into object storage.
func IsSourceRef(ref string) bool {
	return strings.HasPrefix(ref, SourceScheme)
}

// PutSource stores an uploaded document body and returns its source
// reference. Keeping it under the document id lets RemovePrefix clean it up
// together with the page images.
func (s *MinioStore) PutSource(ctx context.Context, documentID uuid.UUID, filename string, data []byte) (string, error) {
	key := fmt.Sprintf("%s/source/%s", documentID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", fmt.Errorf("put source %s: %w", key, err)
	}
	return SourceScheme + key, nil
}

// GetSource reads back a stored document body by its source reference.
func (s *MinioStore) GetSource(ctx context.Context, ref string) ([]byte, error) {
	key := strings.TrimPrefix(ref, SourceScheme)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", key, err)
	}
	return data, nil
}

// PutPage stores one rendered page image and returns its object key.
func (s *MinioStore) PutPage(ctx context.Context, documentID uuid.UUID, generation int64, pageNumber int, image []byte) (string, error) {
	key := fmt.Sprintf("%s/%d/%04d.png", documentID, generation, pageNumber)
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(image), int64(len(image)),
		minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return "", fmt.Errorf("put page image %s: %w", key, err)
	}
	return key, nil
}

// PresignedURL returns a time-limited download link for a stored page image.
func (s *MinioStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// RemovePrefix deletes every object under prefix, typically a document id.
func (s *MinioStore) RemovePrefix(ctx context.Context, prefix string) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	errCh := s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{})
	for rmErr := range errCh {
		if rmErr.Err != nil {
			return fmt.Errorf("remove %s: %w", rmErr.ObjectName, rmErr.Err)
		}
	}
	return nil
}
