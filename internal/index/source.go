package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// File is one candidate document in the knowledge base.
type File struct {
	// Name is the base name; it is the chunk source and the point ID seed.
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Lister enumerates the files of one job.
type Lister interface {
	List(ctx context.Context) ([]File, error)
}

// Source is the knowledge-base directory. Only regular files directly
// inside it count; subdirectories and dot-files are ignored.
type Source struct {
	dir       string
	publicURL string
}

var _ Lister = (*Source)(nil)

// NewSource creates a Source for dir. publicURL is the externally reachable
// base of the HTTP API, used by PublicURL.
func NewSource(dir, publicURL string) *Source {
	return &Source{
		dir:       dir,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Dir returns the knowledge-base directory.
func (s *Source) Dir() string { return s.dir }

// List returns the directory's files sorted by name. A missing directory is
// ErrCodeKBDirMissing.
func (s *Source) List(ctx context.Context) ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, kberrors.New(kberrors.ErrCodeKBDirMissing,
			fmt.Sprintf("knowledge base directory %s does not exist", s.dir), err).
			WithSuggestion("Create the directory or set knowledge_base.dir")
	}
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeFileNotFound,
			fmt.Sprintf("read knowledge base directory %s", s.dir), err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, File{
			Name:    e.Name(),
			Path:    filepath.Join(s.dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Path resolves name to a file inside the directory. Names containing path
// separators or starting with a dot are rejected.
func (s *Source) Path(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", kberrors.New(kberrors.ErrCodeFileNotFound, fmt.Sprintf("invalid file name %q", name), nil)
	}
	p := filepath.Join(s.dir, name)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", kberrors.New(kberrors.ErrCodeFileNotFound, fmt.Sprintf("file %q not found", name), err)
	}
	return p, nil
}

// PublicURL returns the download link of name: <public_url>/files/<name>.
func (s *Source) PublicURL(name string) string {
	return s.publicURL + "/files/" + url.PathEscape(name)
}
