package backup

import (
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
)

// MinIOStore implements BlobStore for MinIO and other S3-compatible
// object stores.
type MinIOStore struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ BlobStore = (*MinIOStore)(nil)

// NewMinIOStore creates a MinIO blob store.
func NewMinIOStore(client *minio.Client, bucket, rootPrefix string) *MinIOStore {
	return &MinIOStore{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

// Put writes the blob to the bucket.
func (s *MinIOStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, path.Join(s.prefix, name), r, size, minio.PutObjectOptions{})
	return err
}
