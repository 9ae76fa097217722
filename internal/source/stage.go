// Package source stages input datasets for reading. Remote objects are
// downloaded into a scratch directory and zstd-compressed inputs are
// decompressed there, so the columnar readers always open a plain local
// file.
package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Staged is a local, uncompressed copy of an input dataset.
type Staged struct {
	// Path is the local file to open.
	Path string

	// Original is the input location as given on the command line.
	Original string

	// Remote is true when the input was downloaded from a bucket.
	Remote bool

	// Decompressed is true when a zstd layer was stripped.
	Decompressed bool

	scratch string // temp dir removed by Close, "" when staging was a no-op
}

// Close removes any scratch files created while staging. Safe to call
// when no staging happened.
func (s *Staged) Close() error {
	if s.scratch == "" {
		return nil
	}
	return os.RemoveAll(s.scratch)
}

// Stage prepares input for local reading. Plain local files pass
// through untouched; gs:// and s3:// objects are downloaded; .zst and
// .zstd inputs are decompressed. The caller owns the result and must
// Close it once the reader is done.
func Stage(ctx context.Context, input string) (*Staged, error) {
	st := &Staged{Path: input, Original: input}

	if isRemote(input) {
		if err := st.scratchDir(); err != nil {
			return nil, err
		}
		local := filepath.Join(st.scratch, remoteBase(input))
		if err := download(ctx, input, local); err != nil {
			st.Close()
			return nil, err
		}
		st.Path = local
		st.Remote = true
	}

	if IsCompressed(st.Path) {
		if err := st.scratchDir(); err != nil {
			st.Close()
			return nil, err
		}
		plainName := TrimCompression(filepath.Base(st.Path))
		if plainName == "" {
			plainName = "input"
		}
		plain := filepath.Join(st.scratch, plainName)
		if err := decompress(st.Path, plain); err != nil {
			st.Close()
			return nil, err
		}
		st.Path = plain
		st.Decompressed = true
	}

	return st, nil
}

func (s *Staged) scratchDir() error {
	if s.scratch != "" {
		return nil
	}
	dir, err := os.MkdirTemp("", "audex-stage-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	s.scratch = dir
	return nil
}

// remoteBase returns the object's base name, or a placeholder when the
// key has none. Driver options in the query string are not part of the
// name.
func remoteBase(rawURI string) string {
	trimmed := rawURI
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	base := path.Base(trimmed)
	if base == "." || base == "/" || base == "" {
		return "input"
	}
	return base
}
