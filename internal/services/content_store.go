// internal/services/content_store.go
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/utils"
)

// ContentStore keeps blobs addressed by the hash of their bytes. Putting the
// same bytes twice yields the same id.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (*StoredContent, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
	Has(ctx context.Context, contentID string) (bool, error)
}

type StoredContent struct {
	ContentID string `json:"content_id"`
	Size      int64  `json:"size"`
}

func NewContentStore(cfg *config.Config) (ContentStore, error) {
	switch cfg.Storage.Driver {
	case "s3":
		return NewS3ContentStore(cfg.AWS)
	default:
		return NewMemoryContentStore(), nil
	}
}

// MemoryContentStore is used in development and tests.
type MemoryContentStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{blobs: make(map[string][]byte)}
}

func (m *MemoryContentStore) Put(ctx context.Context, data []byte) (*StoredContent, error) {
	id := utils.ContentID(data)
	m.mu.Lock()
	if _, ok := m.blobs[id]; !ok {
		m.blobs[id] = append([]byte(nil), data...)
	}
	m.mu.Unlock()
	return &StoredContent{ContentID: id, Size: int64(len(data))}, nil
}

func (m *MemoryContentStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[contentID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", contentID, ErrContentNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryContentStore) Has(ctx context.Context, contentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[contentID]
	return ok, nil
}

// S3ContentStore keeps blobs in a bucket under content/<id>.
type S3ContentStore struct {
	client *s3.S3
	bucket string
}

func NewS3ContentStore(cfg config.AWSConfig) (*S3ContentStore, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		// S3-compatible stores (minio, localstack) need path-style addressing
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": cfg.S3Bucket,
		"region": cfg.Region,
	}).Info("S3 content store configured")

	return &S3ContentStore{client: s3.New(sess), bucket: cfg.S3Bucket}, nil
}

func (s *S3ContentStore) Put(ctx context.Context, data []byte) (*StoredContent, error) {
	id := utils.ContentID(data)

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(contentKey(id)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/octet-stream"),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &StoredContent{ContentID: id, Size: int64(len(data))}, nil
}

func (s *S3ContentStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(contentKey(contentID)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%s: %w", contentID, ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to fetch from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	if !utils.ValidateFileHash(data, contentID) {
		return nil, fmt.Errorf("S3 object %s does not match its content address", contentID)
	}
	return data, nil
}

func (s *S3ContentStore) Has(ctx context.Context, contentID string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(contentKey(contentID)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat S3 object: %w", err)
}

func contentKey(contentID string) string {
	return "content/" + contentID
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	var reqErr awserr.RequestFailure
	return errors.As(err, &reqErr) && reqErr.StatusCode() == 404
}
