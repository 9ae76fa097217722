package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxNameLen bounds generated file names so they stay under common
// filesystem limits with headroom for temp suffixes.
const maxNameLen = 200

// Sanitize maps an identifier to a name that is safe to create inside
// the output directory. Path separators become underscores, control
// characters are dropped, and leading dots are trimmed so a name can
// never escape the directory or hide as a dotfile. Returns "" when
// nothing printable survives.
func Sanitize(identifier string) string {
	var b strings.Builder
	b.Grow(len(identifier))
	for _, r := range identifier {
		switch {
		case r == '/' || r == '\\':
			b.WriteByte('_')
		case r < 0x20 || r == 0x7f:
			// control characters are dropped outright
		default:
			b.WriteRune(r)
		}
	}

	name := strings.TrimRight(strings.TrimLeft(b.String(), ". "), " ")
	if len(name) > maxNameLen {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		cut := maxNameLen - len(ext)
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}
	return name
}

// FileName returns the output file name for a row's identifier. Names
// already present in seen are disambiguated by appending the row index
// before the extension, and a counter on top of that if the suffixed
// form is somehow taken too. Identifiers that sanitize to nothing fall
// back to the zero-padded row index.
//
// Callers must add the returned name to seen once the file is written.
func FileName(identifier string, row int64, seen map[string]struct{}) string {
	name := Sanitize(identifier)
	if name == "" {
		name = fmt.Sprintf("%08d", row)
	}
	if _, taken := seen[name]; !taken {
		return name
	}

	cand := suffixed(name, "_"+strconv.FormatInt(row, 10))
	for n := 2; ; n++ {
		if _, taken := seen[cand]; !taken {
			return cand
		}
		cand = suffixed(name, fmt.Sprintf("_%d_%d", row, n))
	}
}

// suffixed inserts suffix before the file extension, so "take.wav"
// with "_5" becomes "take_5.wav".
func suffixed(name, suffix string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)] + suffix + ext
}
