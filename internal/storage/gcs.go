package storage

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// GCSStore writes payload files to Google Cloud Storage. Bucket writes
// only become visible when the writer is closed, so no staging step is
// needed for atomicity.
type GCSStore struct {
	bucket     *blob.Bucket
	bucketName string
	prefix     string
}

// NewGCSStore opens a store for a gs://bucket/prefix URI and verifies
// the bucket is reachable before any rows are read.
func NewGCSStore(ctx context.Context, rawURI string) (*GCSStore, error) {
	bucketName, prefix, params, err := splitBucketURI(rawURI)
	if err != nil {
		return nil, err
	}

	bucketURL := fmt.Sprintf("gs://%s", bucketName)
	if len(params) > 0 {
		bucketURL += "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}

	if ok, err := bucket.IsAccessible(ctx); err != nil || !ok {
		bucket.Close()
		if err == nil {
			err = fmt.Errorf("bucket does not exist or is not visible")
		}
		return nil, fmt.Errorf("access GCS bucket %s: %w", bucketName, err)
	}

	return &GCSStore{
		bucket:     bucket,
		bucketName: bucketName,
		prefix:     prefix,
	}, nil
}

// Put writes data to GCS under the store's prefix.
func (s *GCSStore) Put(ctx context.Context, name string, data []byte) error {
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
func (s *GCSStore) URI(name string) string {
	return fmt.Sprintf("gs://%s/%s%s", s.bucketName, s.prefix, name)
}

// Close releases the bucket connection.
func (s *GCSStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// Verify GCSStore implements Store.
var _ Store = (*GCSStore)(nil)
