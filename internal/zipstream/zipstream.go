// Package zipstream implements the streaming ZIP entry processor (C5):
// a single-pass reader that extracts each entry to a temp file while
// computing its SHA-256 digest inline, recursing into nested ZIPs, and
// skipping directories and platform-junk entries.
package zipstream

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// Entry is one emitted file from a ZIP stream (or a nested ZIP within
// it). TempFile is owned by the caller, who must remove it once done.
type Entry struct {
	NormalizedPath string
	TempFile       string
	SHA256Hex      string
	Size           int64
}

// junkBasenames are entries zipstream always skips regardless of
// extension, per spec.md §4.5.
var junkBasenames = map[string]bool{
	"__MACOSX":    true,
	".DS_Store":   true,
	"Thumbs.db":   true,
}

// Process reads the ZIP in r (of size size), calling emit for every
// non-skipped, non-empty entry. Nested ZIPs are recursed into
// automatically: emit is invoked for their inner entries instead of for
// the nested ZIP itself. tempDir is where extracted content is staged.
//
// Process deletes the temp files it creates for empty entries, and for
// nested ZIPs once recursion over them completes. The temp file of every
// emitted Entry is left in place for the caller to remove.
func Process(r io.ReaderAt, size int64, tempDir string, emit func(Entry) error) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("zipstream: open zip: %w", err)
	}
	for _, f := range zr.File {
		if err := processEntry(f, tempDir, emit); err != nil {
			return err
		}
	}
	return nil
}

func processEntry(f *zip.File, tempDir string, emit func(Entry) error) error {
	normalized := normalizePath(f.Name)
	if shouldSkip(normalized, f.FileInfo().IsDir()) {
		return nil
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("zipstream: open entry %s: %w", normalized, err)
	}
	defer rc.Close()

	tempFile, sum, n, err := digestToTemp(rc, tempDir, path.Base(normalized))
	if err != nil {
		return fmt.Errorf("zipstream: extract entry %s: %w", normalized, err)
	}
	if n == 0 {
		os.Remove(tempFile)
		return nil
	}

	if strings.EqualFold(path.Ext(normalized), ".zip") {
		err := recurseNested(tempFile, n, tempDir, emit)
		os.Remove(tempFile)
		return err
	}

	return emit(Entry{NormalizedPath: normalized, TempFile: tempFile, SHA256Hex: sum, Size: n})
}

func recurseNested(tempFile string, size int64, tempDir string, emit func(Entry) error) error {
	inner, err := os.Open(tempFile)
	if err != nil {
		return fmt.Errorf("zipstream: reopen nested zip: %w", err)
	}
	defer inner.Close()
	return Process(inner, size, tempDir, emit)
}

// digestToTemp streams src to a new temp file under tempDir while
// feeding a SHA-256 digest, returning the temp path, hex digest, and
// byte count. On any I/O failure the partial temp file is removed
// before the error propagates.
func digestToTemp(src io.Reader, tempDir, basename string) (string, string, int64, error) {
	tmp, err := os.CreateTemp(tempDir, "zipstream-"+sanitizeTempPrefix(basename)+"-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", 0, fmt.Errorf("write temp file: %w", err)
	}
	return tmp.Name(), hex.EncodeToString(h.Sum(nil)), n, nil
}

func sanitizeTempPrefix(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	if len(name) > 32 {
		name = name[:32]
	}
	return name
}

func normalizePath(name string) string {
	return strings.ReplaceAll(name, "\\", "/")
}

func shouldSkip(normalized string, isDir bool) bool {
	if isDir || strings.HasSuffix(normalized, "/") {
		return true
	}
	base := path.Base(normalized)
	if strings.HasPrefix(base, "._") {
		return true
	}
	if junkBasenames[base] {
		return true
	}
	for _, seg := range strings.Split(normalized, "/") {
		if junkBasenames[seg] {
			return true
		}
	}
	return false
}
