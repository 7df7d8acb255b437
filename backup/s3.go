package backup

import (
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements BlobStore for S3.
type S3Store struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ BlobStore = (*S3Store)(nil)

// NewS3Store creates an S3 blob store.
// rootPrefix is prepended to all keys (e.g. "memvault/").
func NewS3Store(client *s3.Client, bucket, rootPrefix string) *S3Store {
	return &S3Store{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   rootPrefix,
	}
}

// NewS3StoreFromEnv creates an S3 blob store using the ambient AWS
// configuration (environment, shared config files, instance role).
func NewS3StoreFromEnv(ctx context.Context, bucket, rootPrefix string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewS3Store(s3.NewFromConfig(cfg), bucket, rootPrefix), nil
}

// Put streams the blob to S3 via multipart upload.
func (s *S3Store) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join(s.prefix, name)),
		Body:   r,
	})
	return err
}
