package zipstream

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestProcess_EmitsEachFileWithDigest(t *testing.T) {
	r := buildZip(t, map[string]string{
		"report.pdf": "pdf-bytes",
		"notes.txt":  "hello world",
	})

	var entries []Entry
	err := Process(r, int64(r.Len()), t.TempDir(), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byPath := map[string]Entry{}
	for _, e := range entries {
		byPath[e.NormalizedPath] = e
		content, readErr := os.ReadFile(e.TempFile)
		require.NoError(t, readErr)
		assert.Equal(t, sha256Hex(string(content)), e.SHA256Hex)
		os.Remove(e.TempFile)
	}
	assert.Equal(t, sha256Hex("pdf-bytes"), byPath["report.pdf"].SHA256Hex)
	assert.Equal(t, int64(len("hello world")), byPath["notes.txt"].Size)
}

func TestProcess_SkipsDirectoriesAndJunkEntries(t *testing.T) {
	r := buildZip(t, map[string]string{
		"folder/":                   "",
		"__MACOSX/folder/file.pdf":  "junk",
		".DS_Store":                 "junk",
		"folder/._hidden.pdf":       "junk",
		"folder/real.pdf":           "real content",
	})

	var entries []Entry
	err := Process(r, int64(r.Len()), t.TempDir(), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "folder/real.pdf", entries[0].NormalizedPath)
	os.Remove(entries[0].TempFile)
}

func TestProcess_SkipsEmptyFiles(t *testing.T) {
	r := buildZip(t, map[string]string{
		"empty.txt": "",
		"full.txt":  "content",
	})

	var entries []Entry
	err := Process(r, int64(r.Len()), t.TempDir(), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "full.txt", entries[0].NormalizedPath)
	os.Remove(entries[0].TempFile)
}

func TestProcess_NormalizesBackslashPaths(t *testing.T) {
	r := buildZip(t, map[string]string{
		`windows\style\path.pdf`: "content",
	})

	var entries []Entry
	err := Process(r, int64(r.Len()), t.TempDir(), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "windows/style/path.pdf", entries[0].NormalizedPath)
	os.Remove(entries[0].TempFile)
}

func TestProcess_RecursesIntoNestedZip(t *testing.T) {
	inner := buildZip(t, map[string]string{"inner.pdf": "inner content"})
	outer := buildZip(t, map[string]string{"nested.zip": string(mustReadAll(t, inner))})

	var entries []Entry
	err := Process(outer, int64(outer.Len()), t.TempDir(), func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "inner.pdf", entries[0].NormalizedPath)
	os.Remove(entries[0].TempFile)
}

func mustReadAll(t *testing.T, r *bytes.Reader) []byte {
	t.Helper()
	buf := make([]byte, r.Len())
	_, err := r.ReadAt(buf, 0)
	require.NoError(t, err)
	return buf
}

func TestProcess_PropagatesEmitError(t *testing.T) {
	r := buildZip(t, map[string]string{"report.pdf": "content"})

	err := Process(r, int64(r.Len()), t.TempDir(), func(e Entry) error {
		os.Remove(e.TempFile)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestShouldSkip(t *testing.T) {
	assert.True(t, shouldSkip("folder/", false))
	assert.True(t, shouldSkip("folder/", true))
	assert.True(t, shouldSkip("__MACOSX/file.pdf", false))
	assert.True(t, shouldSkip("folder/._hidden", false))
	assert.True(t, shouldSkip(".DS_Store", false))
	assert.False(t, shouldSkip("folder/real.pdf", false))
}
