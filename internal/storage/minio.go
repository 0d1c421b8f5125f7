// Package storage wraps the MinIO bucket that holds stem uploads and
// rendered guides.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/localnerve/stemflow/internal/config"
	"github.com/localnerve/stemflow/internal/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore resolves stem and guide paths to objects in one bucket
type ObjectStore struct {
	client     *minio.Client
	bucket     string
	region     string
	presignTTL time.Duration
}

// NewObjectStore creates a MinIO client from configuration
func NewObjectStore(cfg *config.Config) (*ObjectStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &ObjectStore{
		client:     client,
		bucket:     cfg.MinioBucket,
		region:     cfg.MinioRegion,
		presignTTL: cfg.PresignTTL,
	}, nil
}

// Bucket returns the bucket name
func (s *ObjectStore) Bucket() string {
	return s.bucket
}

// PresignTTL is how long presigned URLs stay valid
func (s *ObjectStore) PresignTTL() time.Duration {
	return s.presignTTL
}

// EnsureBucket creates the bucket when it does not exist
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		logger.Debug("Bucket exists", logger.String("bucket", s.bucket))
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	logger.Info("Bucket created", logger.String("bucket", s.bucket))
	return nil
}

// Ping checks that the bucket is reachable
func (s *ObjectStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// PutStem uploads a stem file and returns its object key
func (s *ObjectStore) PutStem(ctx context.Context, trackID uint64, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := StemObjectKey(trackID, filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	logger.Info("Stem uploaded",
		logger.Uint64("trackID", trackID),
		logger.String("key", key),
		logger.Int64("size", info.Size))

	return key, nil
}

// PresignGet returns a time-limited download URL for an object key
func (s *ObjectStore) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, strings.TrimPrefix(key, "/"), s.presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// ResolveInput presigns stem object keys so external tools can stream them.
// Paths outside the stem key space are returned unchanged.
func (s *ObjectStore) ResolveInput(ctx context.Context, stemPath string) (string, error) {
	if !IsStemObjectKey(stemPath) {
		return stemPath, nil
	}
	return s.PresignGet(ctx, stemPath)
}

// IsStemObjectKey reports whether p was produced by StemObjectKey
func IsStemObjectKey(p string) bool {
	return strings.HasPrefix(strings.TrimPrefix(p, "/"), stemKeyPrefix)
}

const stemKeyPrefix = "tracks/"

// StemObjectKey places an upload under its track with a unique prefix
func StemObjectKey(trackID uint64, filename string) string {
	return path.Join(
		fmt.Sprintf("tracks/%d/stems", trackID),
		uuid.NewString()+"-"+SanitizeFilename(filename),
	)
}

// SanitizeFilename keeps the base name and replaces characters that are
// awkward in object keys.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "stem"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
