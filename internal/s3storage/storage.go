package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/ptmscout/internal/config"
	"github.com/dharsanguruparan/ptmscout/internal/model"
)

// Storage wraps MinIO/S3 interactions. Uploaded data files and the import
// stage hand-off objects live in the data bucket, export files in the
// result bucket.
type Storage struct {
	client       *minio.Client
	dataBucket   string
	resultBucket string
	region       string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:       client,
		dataBucket:   cfg.DataBucket,
		resultBucket: cfg.ResultBucket,
		region:       cfg.S3Region,
	}, nil
}

// StageInputKey is the object holding the input of an import stage.
func StageInputKey(expID, stage string) string {
	return fmt.Sprintf("experiments/%s/%s.input", expID, stage)
}

// ExportKey is the object an export job writes.
func ExportKey(expID, jobID string) string {
	return fmt.Sprintf("exports/%s/%s.tsv", expID, jobID)
}

// EnsureBuckets makes sure the data/result buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.dataBucket, s.resultBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func notFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

// open returns a reader for an object, reporting a missing object as
// model.ErrNotFound.
func (s *Storage) open(ctx context.Context, bucket, key string) (*minio.Object, int64, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if notFound(err) {
			return nil, 0, fmt.Errorf("object %s: %w", key, model.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("stat object %s: %w", key, err)
	}
	return obj, info.Size, nil
}

func (s *Storage) put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, bucket, key, r, size, opts); err != nil {
		return fmt.Errorf("upload object %s: %w", key, err)
	}
	return nil
}

// PutDataFile uploads a raw data file. A negative size streams a body of
// unknown length.
func (s *Storage) PutDataFile(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.put(ctx, s.dataBucket, key, r, size, contentType)
}

// GetDataFile opens a raw data file.
func (s *Storage) GetDataFile(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, _, err := s.open(ctx, s.dataBucket, key)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// PutStageInput stores the input of an import stage.
func (s *Storage) PutStageInput(ctx context.Context, expID, stage string, data []byte) error {
	return s.put(ctx, s.dataBucket, StageInputKey(expID, stage), bytes.NewReader(data), int64(len(data)), "application/json")
}

// GetStageInput reads the input of an import stage.
func (s *Storage) GetStageInput(ctx context.Context, expID, stage string) ([]byte, error) {
	obj, _, err := s.open(ctx, s.dataBucket, StageInputKey(expID, stage))
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read stage input: %w", err)
	}
	return buf, nil
}

// PutResult uploads a finished export.
func (s *Storage) PutResult(ctx context.Context, key string, data []byte, contentType string) error {
	return s.put(ctx, s.resultBucket, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// OpenResult opens a finished export for download.
func (s *Storage) OpenResult(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, size, err := s.open(ctx, s.resultBucket, key)
	if err != nil {
		return nil, 0, err
	}
	return obj, size, nil
}

// PresignResultURL returns a signed GET URL for an export file served
// straight from the object store.
func (s *Storage) PresignResultURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.resultBucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign result object: %w", err)
	}
	return u.String(), nil
}
