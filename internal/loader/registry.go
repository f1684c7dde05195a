// Package loader extracts plain text from knowledge-base files.
//
// A Registry maps a lowercase file extension to the Loader that handles it.
// Unknown extensions resolve to nil and the caller skips the file.
package loader

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
)

// Loader extracts the text of one file.
// A failure is a per-file problem; callers skip the file and continue.
type Loader interface {
	Load(ctx context.Context, path string) (string, error)
}

// Func adapts a plain function to the Loader interface.
type Func func(ctx context.Context, path string) (string, error)

// Load calls f.
func (f Func) Load(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// Registry is an extension to Loader table. It is built once and read
// concurrently afterwards.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry creates a registry from an extension table. Keys are
// normalized to lowercase with a leading dot.
func NewRegistry(table map[string]Loader) *Registry {
	r := &Registry{loaders: make(map[string]Loader, len(table))}
	for ext, l := range table {
		r.loaders[normalizeExt(ext)] = l
	}
	return r
}

// Resolve returns the loader for path's extension, or nil if unsupported.
func (r *Registry) Resolve(path string) Loader {
	return r.loaders[normalizeExt(filepath.Ext(path))]
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	return r.Resolve(path) != nil
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Options configures the default loaders.
type Options struct {
	Transcription TranscriberConfig
}

// DefaultRegistry wires the built-in loaders: PDF, audio transcription and
// plain text.
func DefaultRegistry(opts Options) *Registry {
	pdf := NewPDFLoader()
	audio := NewTranscriber(opts.Transcription)
	text := NewTextLoader()

	return NewRegistry(map[string]Loader{
		".pdf": pdf,
		".mp3": audio,
		".wav": audio,
		".m4a": audio,
		".txt": text,
		".md":  text,
	})
}
