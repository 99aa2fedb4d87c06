package service

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/c54335/contract-delivery-tracker/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DocumentStorage keeps uploaded contracts and archived exports in a MinIO
// bucket, laid out as {tenant}/{session}/...
type DocumentStorage struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewDocumentStorage(cfg *config.MinioConfig) (*DocumentStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &DocumentStorage{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *DocumentStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.config.Region})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func sessionPrefix(tenant, sessionID string) string {
	return path.Join(tenant, sessionID) + "/"
}

// PutDocument stores a contract file and returns its object name
func (s *DocumentStorage) PutDocument(ctx context.Context, tenant, sessionID, filename string, data []byte, contentType string) (string, error) {
	objectName := sessionPrefix(tenant, sessionID) + "documents/" + path.Base(filename)
	if err := s.put(ctx, objectName, data, contentType); err != nil {
		return "", err
	}
	return objectName, nil
}

// ArchiveExport stores a CSV snapshot of the tracking table
func (s *DocumentStorage) ArchiveExport(ctx context.Context, tenant, sessionID string, csvData []byte, at time.Time) (string, error) {
	objectName := sessionPrefix(tenant, sessionID) + "exports/" + at.UTC().Format("20060102T150405Z") + ".csv"
	if err := s.put(ctx, objectName, csvData, "text/csv; charset=utf-8"); err != nil {
		return "", err
	}
	return objectName, nil
}

func (s *DocumentStorage) put(ctx context.Context, objectName string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	return nil
}

// PresignedURL generates a time-limited download URL for the extraction service
func (s *DocumentStorage) PresignedURL(ctx context.Context, objectName string) (string, error) {
	expiry := time.Duration(s.config.ExpireDays) * 24 * time.Hour
	url, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// RemoveSession deletes every object stored for a session
func (s *DocumentStorage) RemoveSession(ctx context.Context, tenant, sessionID string) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    sessionPrefix(tenant, sessionID),
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("failed to list session objects: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", obj.Key, err)
		}
	}
	return nil
}
