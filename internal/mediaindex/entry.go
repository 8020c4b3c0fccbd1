// Package mediaindex provides content index adapters for the storage
// package: an in-memory index with blobs on an afero filesystem, an
// S3-backed index, and the asynchronous media scanner.
package mediaindex

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maauso/downloads-bridge/internal/storage"
)

// Errors returned by the index implementations.
var (
	// ErrEntryNotFound is returned when a handle does not resolve to an entry.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrEntryPending is returned when reading an entry that is not yet visible.
	ErrEntryPending = errors.New("entry is pending")
	// ErrInvalidHandle is returned for handles this index did not issue.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrNotManaged is returned when reading an entry whose content lives
	// outside the index, as with files registered by absolute path.
	ErrNotManaged = errors.New("entry content is not managed by the index")
	// ErrNotWritable is returned when opening a path-registered entry for writing.
	ErrNotWritable = fmt.Errorf("entry is not writable: %w", ErrNotManaged)
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// VolumeExternalPrimary is the volume name used in content handles.
const VolumeExternalPrimary = "external_primary"

// State represents the visibility of an Entry.
type State string

const (
	// StatePending indicates the entry is reserved and hidden from readers.
	StatePending State = "PENDING"
	// StateVisible indicates the entry is published.
	StateVisible State = "VISIBLE"
)

// validTransitions defines which state transitions are allowed.
var validTransitions = map[State][]State{
	StatePending: {StateVisible},
	StateVisible: {StatePending},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Entry is the index record of a stored file.
type Entry struct {
	// ID is the unique identifier of the entry.
	ID string `json:"id"`
	// Handle is the content handle returned to callers.
	Handle storage.Handle `json:"handle"`
	// Collection is the index table holding the entry.
	Collection storage.Collection `json:"collection"`
	// DisplayName is the user-visible file name.
	DisplayName string `json:"display_name"`
	// MimeType is the declared content type.
	MimeType string `json:"mime_type"`
	// RelativePath is the shared directory classification.
	RelativePath string `json:"relative_path,omitempty"`
	// DataPath is set for files registered by absolute path.
	DataPath string `json:"data_path,omitempty"`
	// ContentPath is where published content was placed in the shared area.
	ContentPath string `json:"content_path,omitempty"`
	// State is the visibility of the entry.
	State State `json:"state"`
	// Size is the content length recorded at publish or scan time.
	Size int64 `json:"size"`
	// DetectedMimeType is the content type sniffed by the scanner.
	DetectedMimeType string `json:"detected_mime_type,omitempty"`
	// CreatedAt is when the entry was inserted.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the entry was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// newEntry creates an entry from insert values.
func newEntry(id string, collection storage.Collection, values storage.Values, now time.Time) *Entry {
	state := StateVisible
	if values.Pending != nil && *values.Pending {
		state = StatePending
	}
	return &Entry{
		ID:           id,
		Handle:       contentHandle(collection, id),
		Collection:   collection,
		DisplayName:  values.DisplayName,
		MimeType:     values.MimeType,
		RelativePath: values.RelativePath,
		DataPath:     values.DataPath,
		State:        state,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Visible returns true if readers may access the entry.
func (e *Entry) Visible() bool {
	return e.State == StateVisible
}

// setState transitions the entry. Setting the current state is a no-op.
func (e *Entry) setState(to State, now time.Time) error {
	if e.State == to {
		return nil
	}
	if !canTransition(e.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.State, to)
	}
	e.State = to
	e.UpdatedAt = now
	return nil
}

// apply copies the non-zero fields of values onto the entry.
func (e *Entry) apply(values storage.Values, now time.Time) error {
	if values.DisplayName != "" {
		e.DisplayName = values.DisplayName
	}
	if values.MimeType != "" {
		e.MimeType = values.MimeType
	}
	if values.RelativePath != "" {
		e.RelativePath = values.RelativePath
	}
	if values.DataPath != "" {
		e.DataPath = values.DataPath
	}
	e.UpdatedAt = now
	if values.Pending == nil {
		return nil
	}
	if *values.Pending {
		return e.setState(StatePending, now)
	}
	return e.setState(StateVisible, now)
}

// Clone creates a copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}

// contentHandle formats the handle of an entry.
// Format: content://media/<volume>/<collection>/<id>
func contentHandle(collection storage.Collection, id string) storage.Handle {
	return storage.Handle(fmt.Sprintf("content://media/%s/%s/%s", VolumeExternalPrimary, collection, id))
}

// parseContentHandle extracts the entry ID from a content handle.
func parseContentHandle(h storage.Handle) (string, error) {
	rest, ok := strings.CutPrefix(string(h), "content://media/"+VolumeExternalPrimary+"/")
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	collection, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}
	switch storage.Collection(collection) {
	case storage.CollectionDownloads, storage.CollectionImages:
	default:
		return "", fmt.Errorf("%w: unknown collection %q", ErrInvalidHandle, collection)
	}
	return id, nil
}
