package loader

import (
	"context"
	"os"
	"unicode/utf8"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// TextLoader reads UTF-8 text files verbatim.
type TextLoader struct{}

// NewTextLoader creates a text loader.
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Load reads the file; invalid UTF-8 is an extraction error.
func (l *TextLoader) Load(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", kberrors.ExtractionError(path, err)
	}
	if !utf8.Valid(data) {
		return "", kberrors.New(kberrors.ErrCodeExtractionFailed, "file is not valid UTF-8", nil).
			WithDetail("path", path)
	}
	return string(data), nil
}
