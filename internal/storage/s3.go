package storage

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob" // S3 driver
)

// S3Store writes payload files to S3-compatible storage. Works with
// AWS S3, Backblaze B2, Cloudflare R2, and MinIO; custom endpoints and
// regions are passed as query options on the output URI, e.g.
// s3://bucket/prefix?endpoint=minio:9000&s3ForcePathStyle=true.
type S3Store struct {
	bucket     *blob.Bucket
	bucketName string
	prefix     string
}

// NewS3Store opens a store for an s3://bucket/prefix URI and verifies
// the bucket is reachable before any rows are read.
func NewS3Store(ctx context.Context, rawURI string) (*S3Store, error) {
	bucketName, prefix, params, err := splitBucketURI(rawURI)
	if err != nil {
		return nil, err
	}

	bucketURL := fmt.Sprintf("s3://%s", bucketName)
	if len(params) > 0 {
		bucketURL += "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}

	if ok, err := bucket.IsAccessible(ctx); err != nil || !ok {
		bucket.Close()
		if err == nil {
			err = fmt.Errorf("bucket does not exist or is not visible")
		}
		return nil, fmt.Errorf("access S3 bucket %s: %w", bucketName, err)
	}

	return &S3Store{
		bucket:     bucket,
		bucketName: bucketName,
		prefix:     prefix,
	}, nil
}

// Put writes data to S3 under the store's prefix.
func (s *S3Store) Put(ctx context.Context, name string, data []byte) error {
	key := s.prefix + name

	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	return nil
}

// URI returns the canonical URI for the given name.
func (s *S3Store) URI(name string) string {
	return fmt.Sprintf("s3://%s/%s%s", s.bucketName, s.prefix, name)
}

// Close releases the bucket connection.
func (s *S3Store) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// Verify S3Store implements Store.
var _ Store = (*S3Store)(nil)
