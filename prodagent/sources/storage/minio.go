package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"prodagent/prodagent/config"
	"prodagent/prodagent/utils/apperr"
)

// MinIOClient serves catalog documents and manual files from one bucket.
type MinIOClient struct {
	client *minio.Client
	bucket string
}

func NewMinIOClient(ctx context.Context, cfg config.Config) (*MinIOClient, error) {
	client, err := minio.New(
		cfg.MinIOEndpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
			Secure: cfg.MinIOSecure,
		},
	)
	if err != nil {
		return nil, err
	}
	// Create bucket if not exists
	exists, err := client.BucketExists(ctx, cfg.MinIOBucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIOBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &MinIOClient{client: client, bucket: cfg.MinIOBucket}, nil
}

// GetObjectBytes reads a whole object. A missing key is KindNotFound, any
// other failure KindProviderUnavailable.
func (m *MinIOClient) GetObjectBytes(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.ProviderUnavailable("storage.GetObjectBytes", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, apperr.New(apperr.KindNotFound, "storage.GetObjectBytes", "", err)
		}
		return nil, apperr.ProviderUnavailable("storage.GetObjectBytes", err)
	}
	return data, nil
}

// PutObjectBytes uploads data under key, replacing any previous version.
func (m *MinIOClient) PutObjectBytes(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return apperr.ProviderUnavailable("storage.PutObjectBytes", err)
	}
	return nil
}
