// Package storage persists image buffers into the shared Downloads area.
// It defines the ports for the platform content index and media scanner,
// and the Writer that chooses between mediated (indexed) writes and
// direct filesystem writes.
package storage

import (
	"context"
	"errors"
	"io"
)

// MimeTypePNG is the content type recorded for every saved artifact.
const MimeTypePNG = "image/png"

// DirectoryDownloads is the relative path of the shared Downloads area.
const DirectoryDownloads = "Download"

// Errors returned by Writer.Save.
var (
	// ErrMissingInput is returned when no byte buffer was supplied.
	ErrMissingInput = errors.New("bytes missing")
	// ErrReservationFailed is returned when the index refuses the new entry
	// or returns no handle for it.
	ErrReservationFailed = errors.New("no path returned")
	// ErrChannelUnavailable is returned when the reserved entry cannot be
	// opened for writing.
	ErrChannelUnavailable = errors.New("unable to open output stream")
	// ErrWriteFailed is returned when transferring the bytes fails.
	// It wraps the underlying I/O error.
	ErrWriteFailed = errors.New("write failed")
)

// Locator identifies a saved artifact: an index handle for indexed writes
// or an absolute filesystem path for legacy writes.
type Locator string

// Handle is an opaque reference to an entry in the content index.
type Handle string

// Collection selects the index table an entry is inserted into.
type Collection string

const (
	// CollectionDownloads holds entries under the shared Downloads area.
	CollectionDownloads Collection = "downloads"
	// CollectionImages holds image entries registered by path.
	CollectionImages Collection = "images"
)

// Values describes the columns of an index entry. Zero-valued fields are
// left untouched by MediaIndex.Update.
type Values struct {
	// DisplayName is the user-visible file name.
	DisplayName string
	// MimeType is the content type of the entry.
	MimeType string
	// RelativePath is the shared directory classification, e.g. "Download".
	RelativePath string
	// DataPath is the absolute path of a file written outside the index.
	DataPath string
	// Pending marks the entry as reserved and not yet visible when true.
	Pending *bool
}

// Pending returns a pointer to v for use in Values.Pending.
func Pending(v bool) *bool {
	return &v
}

// MediaIndex is the platform content index. It registers entry metadata and
// mediates write access to entry content.
type MediaIndex interface {
	// Insert reserves a new entry and returns its handle.
	Insert(ctx context.Context, collection Collection, values Values) (Handle, error)

	// OpenWriter opens a write channel bound to the entry content.
	// The caller must close the returned writer.
	OpenWriter(ctx context.Context, handle Handle) (io.WriteCloser, error)

	// Update applies the non-zero fields of values to the entry.
	Update(ctx context.Context, handle Handle, values Values) error

	// Delete removes the entry and any content written to it.
	Delete(ctx context.Context, handle Handle) error
}

// Scanner asks the platform to rescan a file so other applications can
// discover it. ScanFile must not block on the scan itself.
type Scanner interface {
	ScanFile(ctx context.Context, path, mimeType string)
}
