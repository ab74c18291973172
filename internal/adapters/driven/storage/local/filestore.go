// Package local resolves uploaded documents on the local filesystem, laid
// out as <upload dir>/<owner>/<name>.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
)

// Ensure FileStore implements the interface.
var _ driven.FileStore = (*FileStore)(nil)

// extensionTypes covers office formats that system mime tables often miss.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".xml":  "application/xml",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".doc":  "application/msword",
	".rtf":  "application/rtf",
	".odt":  "application/vnd.oasis.opendocument.text",
	".xls":  "application/vnd.ms-excel",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".odp":  "application/vnd.oasis.opendocument.presentation",
}

// FileStore maps a FileRef to a file under its root directory.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: filepath.Clean(dir)}
}

// Root returns the upload directory.
func (s *FileStore) Root() string {
	return s.root
}

// Resolve locates ref's file and guesses its media type from the extension.
func (s *FileStore) Resolve(_ context.Context, ref domain.FileRef) (*domain.StoredFile, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", domain.ErrNotFound, ref)
	}

	return &domain.StoredFile{
		Path:      path,
		MediaType: GuessMediaType(ref.SourceName),
		Size:      info.Size(),
	}, nil
}

// Path returns the on-disk location of ref without touching the disk.
// Owners and names containing separators or dot segments are rejected.
func (s *FileStore) Path(ref domain.FileRef) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", fmt.Errorf("%w: owner and name are required", err)
	}
	for _, part := range []string{ref.OwnerID, ref.SourceName} {
		if !safeSegment(part) {
			return "", fmt.Errorf("%w: unsafe path segment %q", domain.ErrInvalidInput, part)
		}
	}
	return filepath.Join(s.root, ref.OwnerID, ref.SourceName), nil
}

// RefFor is the inverse of Path: it returns the ref for a file directly
// inside an owner directory of the store.
func (s *FileStore) RefFor(path string) (domain.FileRef, bool) {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil {
		return domain.FileRef{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || !safeSegment(parts[0]) || !safeSegment(parts[1]) {
		return domain.FileRef{}, false
	}
	return domain.FileRef{OwnerID: parts[0], SourceName: parts[1]}, true
}

// GuessMediaType returns the media type for name's extension, or "" when
// the extension is unknown.
func GuessMediaType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := extensionTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
		return mt
	}
	return ""
}

func safeSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.ContainsRune(s, 0)
}
