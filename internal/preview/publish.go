package preview

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the subset of the minio client used by Publisher.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Publisher uploads rendered previews to an object store bucket.
type Publisher struct {
	store  ObjectStore
	bucket string
	now    func() time.Time
}

// NewMinioPublisher connects to a minio endpoint and makes sure the bucket
// exists.
func NewMinioPublisher(ctx context.Context, cfg MinioConfig) (*Publisher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return NewPublisher(ctx, client, cfg.Bucket)
}

func NewPublisher(ctx context.Context, store ObjectStore, bucket string) (*Publisher, error) {
	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Publisher{store: store, bucket: bucket, now: time.Now}, nil
}

// Publish uploads result under previews/{pageID}/ and returns the object key.
func (p *Publisher) Publish(ctx context.Context, pageID string, result *Result) (string, error) {
	key := path.Join("previews", pageID, fmt.Sprintf("%d-%s", p.now().UTC().Unix(), result.Filename))
	_, err := p.store.PutObject(ctx, p.bucket, key, bytes.NewReader(result.Data), int64(len(result.Data)), minio.PutObjectOptions{
		ContentType: result.MimeType,
	})
	if err != nil {
		return "", fmt.Errorf("upload preview %s: %w", key, err)
	}
	return key, nil
}
