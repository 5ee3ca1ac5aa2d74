// Package filestore persists template content objects on local disk or in S3.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/nebari-dev/canvas-templates/internal/config"
	"github.com/spf13/afero"
)

// ErrInvalidDocument is returned when a document is saved before its
// metadata.fileUrl has been assigned.
var ErrInvalidDocument = errors.New("invalid data: metadata or fileUrl is missing")

// ErrInvalidName is returned when a document's category would place its
// content object outside the storage directory.
var ErrInvalidName = errors.New("invalid data: category must not contain path separators")

// ErrInvalidUpload is returned for uploads without a usable file name.
var ErrInvalidUpload = errors.New("invalid upload: file name is missing")

// ErrNotExist is wrapped by GetFile errors when no content object exists
// under the reference.
var ErrNotExist = errors.New("content object does not exist")

// Error is a backend failure. Message is safe to return to clients.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Document is a content object: a template's metadata together with its content.
type Document struct {
	Metadata map[string]any `json:"metadata"`
	Content  any            `json:"content"`
}

// FileURL returns metadata.fileUrl. The reference must be assigned by the
// caller before the document is saved.
func (d Document) FileURL() (string, error) {
	if d.Metadata == nil {
		return "", ErrInvalidDocument
	}
	fileURL, ok := d.Metadata["fileUrl"].(string)
	if !ok || fileURL == "" {
		return "", ErrInvalidDocument
	}
	return fileURL, nil
}

// Category returns metadata.category, or "" when unset.
func (d Document) Category() string {
	category, _ := d.Metadata["category"].(string)
	return category
}

// FileUpload is a raw file submitted by a client.
type FileUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// FileStore persists and retrieves content objects.
type FileStore interface {
	// SaveFile stores a raw upload and returns the reference clients pass back as fileUrl.
	SaveFile(ctx context.Context, upload FileUpload) (string, error)
	// SaveJSON stores doc under a name derived from doc.Metadata["fileUrl"] and
	// returns the final storage location.
	SaveJSON(ctx context.Context, doc Document) (string, error)
	// GetFile loads and decodes the document stored at fileURL.
	GetFile(ctx context.Context, fileURL string) (*Document, error)
}

// New returns the backend selected by configuration. The choice is made once
// per process.
func New(ctx context.Context, cfg *config.Config) (FileStore, error) {
	switch backend := cfg.StorageBackend(); backend {
	case config.BackendLocal:
		return NewLocalStore(afero.NewOsFs(), cfg.Storage.UploadsDir)
	case config.BackendS3:
		return NewS3Store(ctx, cfg.Storage.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: local, s3)", backend)
	}
}

// baseName returns the last element of a path or URL reference.
func baseName(ref string) string {
	ref = strings.TrimRight(ref, "/")
	if i := strings.IndexAny(ref, "?#"); i >= 0 && strings.Contains(ref, "://") {
		ref = ref[:i]
	}
	return path.Base(ref)
}
