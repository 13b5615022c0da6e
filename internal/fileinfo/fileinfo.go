package fileinfo

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/filegate/filegate/internal/errs"
)

// SelectedFile describes the file picked for upload. It is built once at
// selection time and never mutated; a new selection replaces it wholesale.
type SelectedFile struct {
	Name     string
	Size     int64
	MIMEType string
	Path     string
}

// Select stats the file and sniffs its content type from magic bytes.
func Select(path string) (*SelectedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect content type: %w", err)
	}

	return &SelectedFile{
		Name:     info.Name(),
		Size:     info.Size(),
		MIMEType: mtype.String(),
		Path:     path,
	}, nil
}

// Validate enforces the size ceiling. The lifecycle runs it only after a
// presign descriptor has been obtained, preserving the call-then-validate
// ordering of the original flow.
func (f *SelectedFile) Validate(maxSize int64) error {
	if f.Size > maxSize {
		return &errs.ValidationError{Filename: f.Name, Size: f.Size, Limit: maxSize}
	}
	return nil
}

// Open returns a reader over the file bytes for the PUT body.
func (f *SelectedFile) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

func (f *SelectedFile) IsImage() bool {
	return strings.HasPrefix(f.MIMEType, "image/")
}
