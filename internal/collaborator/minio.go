package collaborator

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mtlprog/reviewflow/internal/config"
)

// MinioStore resolves contract files and stores reports in MinIO or any S3 API.
type MinioStore struct {
	client         *minio.Client
	contractBucket string
	reportBucket   string
	presignExpiry  time.Duration
}

// NewMinioStore creates a client for cfg. No request is made until first use.
func NewMinioStore(cfg config.MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioStore{
		client:         client,
		contractBucket: cfg.ContractBucket,
		reportBucket:   cfg.ReportBucket,
		presignExpiry:  cfg.PresignExpiry,
	}, nil
}

// EnsureBucket creates the report bucket if it doesn't exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.reportBucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.reportBucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.reportBucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.reportBucket, err)
	}
	return nil
}

// splitRef turns "bucket/key" or a bare key into bucket and object name.
// A bare key lives in the contract bucket.
func (s *MinioStore) splitRef(ref string) (bucket, object string) {
	ref = strings.TrimPrefix(ref, "s3://")
	if b, o, ok := strings.Cut(ref, "/"); ok && b == s.contractBucket {
		return b, o
	}
	return s.contractBucket, ref
}

// PresignedURL returns a time-limited download URL for a contract file reference.
func (s *MinioStore) PresignedURL(ctx context.Context, fileRef string) (string, error) {
	bucket, object := s.splitRef(fileRef)
	u, err := s.client.PresignedGetObject(ctx, bucket, object, s.presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, object, err)
	}
	return u.String(), nil
}

// Put uploads data to the report bucket and returns its location.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.reportBucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", s.reportBucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.reportBucket, key), nil
}
