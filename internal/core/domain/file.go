package domain

import (
	"strings"
	"time"
)

// FileDescriptor identifies a stored document to ingest.
// It is produced by the upload workflow and is immutable once published.
type FileDescriptor struct {
	// OwnerID is the wallet address that owns the document.
	OwnerID string

	// Name is the stored file name, unique per owner.
	Name string

	// MediaType is the declared content type (e.g., "application/pdf").
	// Empty means the file store guesses it.
	MediaType string

	// CreatedAt is when the file was uploaded.
	CreatedAt time.Time
}

// Ref returns the owner/name pair addressing the descriptor's file.
func (d FileDescriptor) Ref() FileRef {
	return FileRef{OwnerID: d.OwnerID, SourceName: d.Name}
}

// FileRef addresses a document by owner and source name.
// Remove events and filtered deletions use it.
type FileRef struct {
	OwnerID    string
	SourceName string
}

// Validate checks both fields are present.
func (r FileRef) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" || strings.TrimSpace(r.SourceName) == "" {
		return ErrInvalidInput
	}
	return nil
}

// String returns "owner/name" for logging.
func (r FileRef) String() string {
	return r.OwnerID + "/" + r.SourceName
}

// StoredFile is what the file store resolves a FileRef to.
// Path stays valid for at least the duration of one extraction.
type StoredFile struct {
	Path      string
	MediaType string
	Size      int64
}
