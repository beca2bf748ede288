package artifacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror uploads artifact copies to S3-compatible object storage.
type Mirror struct {
	conn   *minio.Client
	bucket string
}

// NewMirror establishes the object storage connection and ensures the bucket
// exists.
func NewMirror(endpoint, accessKeyID, secretAccessKey, bucket string, useSSL bool) (*Mirror, error) {
	conn, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	ctx := context.Background()
	exists, err := conn.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := conn.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Mirror{conn: conn, bucket: bucket}, nil
}

// Upload stores one artifact under its filename. Existing objects with the
// same name are overwritten.
func (m *Mirror) Upload(ctx context.Context, objectName, content string) error {
	reader := strings.NewReader(content)
	_, err := m.conn.PutObject(ctx, m.bucket, objectName, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	return nil
}
