package services

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/foxxcyber/dococr/internal/models"
)

const presignExpiry = 24 * time.Hour

// StorageService archives split page images to S3-compatible storage
type StorageService struct {
	client     *minio.Client
	bucketName string
	region     string
	log        *logrus.Logger
}

// NewStorageService creates a new S3 storage service
func NewStorageService(endpoint, accessKey, secretKey, bucketName, region string, useSSL bool, log *logrus.Logger) (*StorageService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &StorageService{
		client:     client,
		bucketName: bucketName,
		region:     region,
		log:        log,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *StorageService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{
			Region: s.region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// ArchivePages uploads every page of a split run under prefix and returns
// the stored objects with presigned download URLs. A failed upload
// removes the objects already stored for this run.
func (s *StorageService) ArchivePages(ctx context.Context, prefix string, split *models.SplitResult) ([]models.StoredObject, error) {
	objects := make([]models.StoredObject, 0, len(split.Paths))
	keys := make([]string, 0, len(split.Paths))

	for _, p := range split.Paths {
		key := path.Join(prefix, filepath.Base(p))
		obj, err := s.uploadFile(ctx, key, p)
		if err != nil {
			if cleanupErr := s.DeleteMultiple(ctx, keys); cleanupErr != nil {
				s.log.WithError(cleanupErr).Warn("Failed to remove partially archived pages")
			}
			return nil, err
		}
		keys = append(keys, key)

		url, err := s.GetPresignedURL(ctx, key, presignExpiry)
		if err != nil {
			s.log.WithError(err).WithField("key", key).Warn("Failed to presign archived page")
		} else {
			obj.URL = url
		}
		objects = append(objects, *obj)
	}

	return objects, nil
}

func (s *StorageService) uploadFile(ctx context.Context, key, filePath string) (*models.StoredObject, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open page image: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat page image: %w", err)
	}

	info, err := s.client.PutObject(ctx, s.bucketName, key, f, stat.Size(), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return &models.StoredObject{
		Bucket: info.Bucket,
		Key:    info.Key,
		Size:   info.Size,
	}, nil
}

// GetPresignedURL generates a presigned URL for downloading a file
func (s *StorageService) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url.String(), nil
}

// DeleteMultiple deletes multiple files from S3
func (s *StorageService) DeleteMultiple(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo)

	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			objectsCh <- minio.ObjectInfo{Key: key}
		}
	}()

	for err := range s.client.RemoveObjects(ctx, s.bucketName, objectsCh, minio.RemoveObjectsOptions{}) {
		if err.Err != nil {
			return fmt.Errorf("failed to delete object %s: %w", err.ObjectName, err.Err)
		}
	}

	return nil
}

// GetBucketName returns the bucket name
func (s *StorageService) GetBucketName() string {
	return s.bucketName
}
