package source

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// compressedExts are the suffixes treated as zstd-compressed inputs.
var compressedExts = []string{".zst", ".zstd"}

// IsCompressed reports whether path names a zstd-compressed input.
func IsCompressed(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range compressedExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// TrimCompression removes the zstd suffix from path, if present.
func TrimCompression(path string) string {
	lower := strings.ToLower(path)
	for _, ext := range compressedExts {
		if strings.HasSuffix(lower, ext) {
			return path[:len(path)-len(ext)]
		}
	}
	return path
}

// decompress streams src through a zstd decoder into dst. Decoding is
// single-threaded to match the rest of the run.
func decompress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open compressed input %s: %w", src, err)
	}
	defer in.Close()

	dec, err := zstd.NewReader(in, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create staging file %s: %w", dst, err)
	}

	if _, err := io.Copy(out, dec); err != nil {
		out.Close()
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	return out.Close()
}
