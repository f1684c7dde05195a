package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// PDFLoader extracts page text from PDF files, one page per line group.
type PDFLoader struct{}

// NewPDFLoader creates a PDF loader.
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Load returns the text of every page joined by newlines.
func (l *PDFLoader) Load(ctx context.Context, path string) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = kberrors.ExtractionError(path, fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", kberrors.ExtractionError(path, err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", kberrors.ExtractionError(path, fmt.Errorf("page %d: %w", i, err))
		}
		pages = append(pages, content)
	}
	return strings.Join(pages, "\n"), nil
}
