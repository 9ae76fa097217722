package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
)

// isRemote reports whether input names an object in a bucket.
func isRemote(input string) bool {
	return strings.HasPrefix(input, "gs://") || strings.HasPrefix(input, "s3://")
}

// splitObjectURI splits "gs://bucket/path/to/file?opt=v" into the
// bucket URL to open and the object key inside it. Driver options in
// the query string stay on the bucket URL.
func splitObjectURI(raw string) (bucketURL, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse input URI %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("input URI %q has no bucket", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("input URI %q has no object key", raw)
	}

	bucketURL = u.Scheme + "://" + u.Host
	if q := u.Query().Encode(); q != "" {
		bucketURL += "?" + q
	}
	return bucketURL, key, nil
}

// download copies a bucket object to dst.
func download(ctx context.Context, rawURI, dst string) error {
	bucketURL, key, err := splitObjectURI(rawURI)
	if err != nil {
		return err
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("open bucket for %s: %w", rawURI, err)
	}
	defer bucket.Close()

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open object %s: %w", rawURI, err)
	}
	defer r.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create staging file %s: %w", dst, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", rawURI, err)
	}
	return f.Close()
}
