// Package storage persists extracted payloads as individual files in a
// local directory or an object-store bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"gocloud.dev/gcerrors"
)

// Store persists payload files under names chosen by the caller.
// Implementations replace existing files and publish each file
// atomically: a failed Put leaves nothing visible at the final name.
//
// Stores are used from a single goroutine; they are not safe for
// concurrent Puts.
type Store interface {
	// Put writes data under name inside the output location.
	Put(ctx context.Context, name string, data []byte) error

	// URI returns the canonical URI for a stored name.
	URI(name string) string

	// Close releases resources held by the store.
	Close() error
}

// NewStore opens the store for an output location. gs:// and s3://
// URIs select bucket stores; anything else is treated as a local
// directory and created if needed.
func NewStore(ctx context.Context, output string) (Store, error) {
	switch Backend(output) {
	case "gcs":
		return NewGCSStore(ctx, output)
	case "s3":
		return NewS3Store(ctx, output)
	default:
		return NewLocalStore(output)
	}
}

// Backend names the store kind an output location selects, for logs
// and metric labels.
func Backend(output string) string {
	switch {
	case strings.HasPrefix(output, "gs://"):
		return "gcs"
	case strings.HasPrefix(output, "s3://"):
		return "s3"
	default:
		return "local"
	}
}

// IsFatal reports whether a store error means the output location
// itself is unusable, rather than a problem with one file. Fatal
// errors abort the run; anything else is recorded and skipped.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
		return true
	}
	switch gcerrors.Code(err) {
	case gcerrors.NotFound, gcerrors.PermissionDenied:
		return true
	}
	return false
}

// splitBucketURI splits "gs://bucket/some/prefix?opt=v" into the
// bucket name, a key prefix ending in "/" (or ""), and any driver
// options carried in the query string.
func splitBucketURI(raw string) (bucket, prefix string, params url.Values, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", nil, fmt.Errorf("parse output URI %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", "", nil, fmt.Errorf("output URI %q has no bucket", raw)
	}
	prefix = strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return u.Host, prefix, u.Query(), nil
}
