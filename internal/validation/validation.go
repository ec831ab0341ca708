// Package validation implements the name/size/type admissibility rules
// (C3) applied to every file before it enters the dedup pipeline.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultSupportedExtensions is the configured set of extensions the
// document pipeline knows how to route to a handler. Callers may replace
// this with a deployment-specific set.
var DefaultSupportedExtensions = map[string]bool{
	"pdf":  true,
	"docx": true,
	"doc":  true,
	"xlsx": true,
	"xls":  true,
	"pptx": true,
	"ppt":  true,
	"msg":  true,
	"txt":  true,
	"rtf":  true,
	"html": true,
	"htm":  true,
	"csv":  true,
	"zip":  true,
}

// Validate checks name/size admissibility: rejects a zero size, an empty
// or blank basename, a basename consisting only of dots, or a hidden
// (leading-dot) basename.
func Validate(name string, size int64) error {
	if size == 0 {
		return fmt.Errorf("validation: file %q is empty", name)
	}

	base := strings.TrimSpace(filepath.Base(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return fmt.Errorf("validation: file has blank name")
	}
	if strings.Trim(base, ".") == "" {
		return fmt.Errorf("validation: file %q has a dots-only name", name)
	}
	if strings.HasPrefix(base, ".") {
		return fmt.Errorf("validation: file %q is hidden", name)
	}
	return nil
}

// IsSupported reports whether extension (without the leading dot, case
// insensitive) is in the configured supported set.
func IsSupported(extension string, supported map[string]bool) bool {
	if supported == nil {
		supported = DefaultSupportedExtensions
	}
	return supported[strings.ToLower(strings.TrimPrefix(extension, "."))]
}

// ValidateFully runs Validate and IsSupported together, returning the
// first failure.
func ValidateFully(name string, size int64, extension string, supported map[string]bool) error {
	if err := Validate(name, size); err != nil {
		return err
	}
	if !IsSupported(extension, supported) {
		return fmt.Errorf("validation: unsupported file type %q for %q", extension, name)
	}
	return nil
}

// Extension returns the lowercased extension (without the leading dot) of
// name, or "" if name has none.
func Extension(name string) string {
	ext := filepath.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
