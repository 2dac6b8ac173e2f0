// Package upload checks client uploads before any decoding work runs.
package upload

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidContentType   = errors.New("invalid content type")
	ErrNoFilename           = errors.New("no filename provided")
	ErrUnsupportedExtension = errors.New("unsupported file extension")
	ErrEmptyFile            = errors.New("empty file")
	ErrFileTooLarge         = errors.New("file too large")
)

var allowedExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"bmp":  true,
	"webp": true,
}

// File is one uploaded image as received from the client.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (f File) String() string {
	return fmt.Sprintf("%s (%s, %d bytes)", f.Filename, f.ContentType, len(f.Data))
}

// ValidationError carries a client-facing message and one of the package sentinels.
type ValidationError struct {
	Cause   error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Cause }

func invalid(cause error, format string, args ...any) error {
	return &ValidationError{Cause: cause, Message: fmt.Sprintf(format, args...)}
}

// Validator rejects uploads that are clearly not images.
// MaxSize of zero disables the size ceiling.
type Validator struct {
	MaxSize int64
}

// Validate returns nil or a *ValidationError.
func (v Validator) Validate(f File) error {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(f.ContentType)), "image/") {
		return invalid(ErrInvalidContentType, "Invalid file type: %s. Please upload an image.", f.ContentType)
	}

	if f.Filename == "" {
		return invalid(ErrNoFilename, "No filename provided")
	}

	ext := Extension(f.Filename)
	if ext == "" {
		return invalid(ErrUnsupportedExtension, "File has no extension")
	}
	if !allowedExtensions[ext] {
		return invalid(ErrUnsupportedExtension, "File type '.%s' is not allowed. Allowed types: %s",
			ext, strings.Join(AllowedExtensions(), ", "))
	}

	if len(f.Data) == 0 {
		return invalid(ErrEmptyFile, "File %s is empty", f.Filename)
	}

	if v.MaxSize > 0 && int64(len(f.Data)) > v.MaxSize {
		return invalid(ErrFileTooLarge, "File %s is %d bytes, the limit is %d bytes", f.Filename, len(f.Data), v.MaxSize)
	}

	return nil
}

// Extension returns the lower-cased extension without the dot.
func Extension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

func AllowedExtensions() []string {
	exts := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		exts = append(exts, "."+ext)
	}
	sort.Strings(exts)
	return exts
}
