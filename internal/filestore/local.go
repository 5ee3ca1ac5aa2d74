package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// UploadsPrefix is the URL path under which locally stored uploads are served.
const UploadsPrefix = "/uploads/"

// LocalStore keeps content objects in a directory.
type LocalStore struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// NewLocalStore creates the uploads directory if needed.
func NewLocalStore(fs afero.Fs, dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads dir: %w", err)
	}
	if err := fs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &LocalStore{fs: fs, dir: abs, now: time.Now}, nil
}

// Dir returns the absolute uploads directory.
func (s *LocalStore) Dir() string { return s.dir }

// SaveFile writes the upload as "<unix-millis>-<name>" so same-named uploads
// do not overwrite each other, and returns its /uploads/ path.
func (s *LocalStore) SaveFile(ctx context.Context, upload FileUpload) (string, error) {
	name := filepath.Base(upload.Filename)
	if upload.Filename == "" || name == "." || name == string(filepath.Separator) {
		return "", ErrInvalidUpload
	}
	filename := fmt.Sprintf("%d-%s", s.now().UnixMilli(), name)

	if err := s.write(filename, func(w io.Writer) error {
		_, err := io.Copy(w, upload.Body)
		return err
	}); err != nil {
		slog.Error("Error saving upload", "filename", filename, "error", err)
		return "", &Error{Message: "Failed to save file", Err: err}
	}
	return UploadsPrefix + filename, nil
}

// SaveJSON writes doc as indented JSON to "<category>_<base of fileUrl>" and
// returns the absolute path of the written file.
func (s *LocalStore) SaveJSON(ctx context.Context, doc Document) (string, error) {
	fileURL, err := doc.FileURL()
	if err != nil {
		return "", err
	}
	category := doc.Category()
	if strings.ContainsAny(category, `/\`) {
		return "", ErrInvalidName
	}
	filename := category + "_" + baseName(fileURL)
	target := filepath.Join(s.dir, filename)
	if filepath.Dir(target) != s.dir {
		return "", ErrInvalidName
	}

	data, err := json.MarshalIndent(Document{Metadata: doc.Metadata, Content: doc.Content}, "", "  ")
	if err != nil {
		return "", &Error{Message: "Failed to save template content", Err: err}
	}
	if err := s.write(filename, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		slog.Error("Error saving template content", "filename", filename, "error", err)
		return "", &Error{Message: "Failed to save template content", Err: err}
	}
	return target, nil
}

// GetFile reads the document named by the base of fileURL from the uploads
// directory.
func (s *LocalStore) GetFile(ctx context.Context, fileURL string) (*Document, error) {
	filename := baseName(fileURL)
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, filename))
	if err != nil {
		slog.Error("Error reading template content", "filename", filename, "error", err)
		if os.IsNotExist(err) {
			err = fmt.Errorf("%w: %w", ErrNotExist, err)
		}
		return nil, &Error{Message: "Failed to read template content", Err: err}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Error("Error decoding template content", "filename", filename, "error", err)
		return nil, &Error{Message: "Failed to read template content", Err: err}
	}
	return &doc, nil
}

// FileSystem exposes stored files for read-only HTTP serving. Directories
// are not listed.
func (s *LocalStore) FileSystem() http.FileSystem {
	return filesOnly{afero.NewHttpFs(s.fs).Dir(s.dir)}
}

func (s *LocalStore) write(filename string, fill func(io.Writer) error) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := s.fs.Create(filepath.Join(s.dir, filename))
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
