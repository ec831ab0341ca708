package pipeline

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/kraklabs/docingest/internal/domain"
)

// Item is one output of a FileHandler: a final artifact's bytes (when
// filename == file.FileName, a transform in place; otherwise a split or
// extracted piece) per spec.md §4.7 step 7.
type Item struct {
	Filename string
	Content  io.Reader
}

// FileHandler converts the bytes of one source file into zero or more
// output items. A handler reads file's name/extension to decide how to
// process stream; it never mutates file directly.
//
// Concrete format handlers (PDF conversion, Office document extraction,
// MSG parsing, image normalization, …) are pluggable subprocess/library
// integrations outside this package's scope — it only supplies the
// interface and selection mechanism a deployment wires real handlers
// into via Registry.Register.
type FileHandler interface {
	Handle(ctx context.Context, stream io.Reader, file *domain.FileMaster) ([]Item, error)
}

// Registry selects a FileHandler by lowercased extension (no leading
// dot). Safe for concurrent registration and lookup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]FileHandler
}

// NewRegistry builds an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]FileHandler)}
}

// Register associates extension with h, replacing any prior handler for
// that extension.
func (r *Registry) Register(extension string, h FileHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(extension)] = h
}

// Lookup returns the handler registered for extension, if any.
func (r *Registry) Lookup(extension string) (FileHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.ToLower(extension)]
	return h, ok
}

// PassthroughHandler treats the source bytes as already being the final
// artifact: Handle always returns an empty item list, the "empty list"
// outcome of spec.md §4.7 step 7 (server-side copy to the final
// location, no new upload, no transformation needed).
type PassthroughHandler struct{}

// Handle implements FileHandler.
func (PassthroughHandler) Handle(ctx context.Context, stream io.Reader, file *domain.FileMaster) ([]Item, error) {
	return nil, nil
}
