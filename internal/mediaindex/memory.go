package mediaindex

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/maauso/downloads-bridge/internal/mediaindex/id"
	"github.com/maauso/downloads-bridge/internal/storage"
)

// Compile-time checks that MemoryIndex implements the index ports.
var (
	_ storage.MediaIndex = (*MemoryIndex)(nil)
	_ ScanSink           = (*MemoryIndex)(nil)
)

const (
	recordExt = ".json"
	// maxNameAttempts bounds the " (n)" suffixes tried for a published name.
	maxNameAttempts = 1000
)

// MemoryIndex is a content index kept in memory and persisted under root.
// Every entry has a JSON record at root/<id>.json; content is written to a
// blob at root/<id> while the entry is pending. Publishing an entry whose
// relative path maps to a shared directory moves the blob there.
type MemoryIndex struct {
	mu      sync.RWMutex
	fs      afero.Fs
	root    string
	shared  map[string]string
	entries map[string]*Entry
	now     func() time.Time
}

// MemoryOption configures a MemoryIndex.
type MemoryOption func(*MemoryIndex)

// WithPublishDir places the content of entries published under relativePath
// into dir, keeping their display names.
func WithPublishDir(relativePath, dir string) MemoryOption {
	return func(x *MemoryIndex) {
		x.shared[relativePath] = dir
	}
}

// NewMemoryIndex creates an index rooted at root and loads the records left
// there by a previous run. Entries still pending when that run stopped are
// discarded along with their blobs.
func NewMemoryIndex(fsys afero.Fs, root string, opts ...MemoryOption) (*MemoryIndex, error) {
	if err := fsys.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	x := &MemoryIndex{
		fs:      fsys,
		root:    root,
		shared:  make(map[string]string),
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	if err := x.load(); err != nil {
		return nil, err
	}
	return x, nil
}

// Insert records a new entry and returns its content handle. Registering a
// path that already has an entry in the collection updates that entry.
func (x *MemoryIndex) Insert(_ context.Context, collection storage.Collection, values storage.Values) (storage.Handle, error) {
	switch collection {
	case storage.CollectionDownloads, storage.CollectionImages:
	default:
		return "", fmt.Errorf("unknown collection %q", collection)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if values.DataPath != "" {
		if e := x.byDataPath(collection, values.DataPath); e != nil {
			if err := e.apply(values, x.now()); err != nil {
				return "", err
			}
			if err := x.persist(e); err != nil {
				return "", err
			}
			return e.Handle, nil
		}
	}

	e := newEntry(id.Generate(), collection, values, x.now())
	if err := x.persist(e); err != nil {
		return "", err
	}
	x.entries[e.ID] = e
	return e.Handle, nil
}

// OpenWriter opens the entry content for writing, truncating previous content.
func (x *MemoryIndex) OpenWriter(_ context.Context, h storage.Handle) (io.WriteCloser, error) {
	x.mu.RLock()
	var target, dataPath string
	e, err := x.lookup(h)
	if err == nil {
		target, dataPath = x.contentPath(e), e.DataPath
	}
	x.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if dataPath != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotWritable, h)
	}

	f, err := x.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Update applies values to the entry. Publishing an entry places its content
// and records its size.
func (x *MemoryIndex) Update(_ context.Context, h storage.Handle, values storage.Values) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, err := x.lookup(h)
	if err != nil {
		return err
	}
	prev := *e
	if err := e.apply(values, x.now()); err != nil {
		return err
	}
	if e.Visible() && e.DataPath == "" {
		if err := x.settle(e, prev.Visible()); err != nil {
			*e = prev
			return err
		}
	}
	return x.persist(e)
}

// Delete removes the entry, its record and the content it owns. Files
// registered by absolute path are left in place.
func (x *MemoryIndex) Delete(_ context.Context, h storage.Handle) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, err := x.lookup(h)
	if err != nil {
		return err
	}
	delete(x.entries, e.ID)
	if err := x.remove(x.recordPath(e.ID)); err != nil {
		return fmt.Errorf("remove record: %w", err)
	}
	if e.DataPath != "" {
		return nil
	}
	if err := x.remove(x.contentPath(e)); err != nil {
		return fmt.Errorf("remove content: %w", err)
	}
	return nil
}

// Get returns a copy of the entry behind h.
func (x *MemoryIndex) Get(_ context.Context, h storage.Handle) (*Entry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, err := x.lookup(h)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// Open returns a reader over the content of a visible entry.
// The caller is responsible for closing the returned ReadCloser.
func (x *MemoryIndex) Open(_ context.Context, h storage.Handle) (io.ReadCloser, error) {
	x.mu.RLock()
	e, err := x.lookup(h)
	var visible bool
	var target string
	if err == nil {
		visible = e.Visible()
		target = e.DataPath
		if target == "" {
			target = x.contentPath(e)
		}
	}
	x.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, fmt.Errorf("%w: %s", ErrEntryPending, h)
	}

	f, err := x.fs.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}
	return f, nil
}

// List returns copies of all entries ordered by creation.
func (x *MemoryIndex) List(_ context.Context) ([]*Entry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	result := make([]*Entry, 0, len(x.entries))
	for _, e := range x.entries {
		result = append(result, e.Clone())
	}
	slices.SortFunc(result, func(a, b *Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

// RecordScan stores scanner findings on every entry registered for the
// scanned path.
func (x *MemoryIndex) RecordScan(_ context.Context, r ScanResult) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	found := false
	var errs []error
	for _, e := range x.entries {
		if e.DataPath != r.Path {
			continue
		}
		e.Size = r.Size
		e.DetectedMimeType = r.DetectedMimeType
		e.UpdatedAt = r.ScannedAt
		found = true
		errs = append(errs, x.persist(e))
	}
	if !found {
		return fmt.Errorf("%w: no entry registered for %s", ErrEntryNotFound, r.Path)
	}
	return errors.Join(errs...)
}

// settle records the size of published content, placing it in its shared
// directory on the first publish. Callers must hold x.mu.
func (x *MemoryIndex) settle(e *Entry, wasVisible bool) error {
	if dir, ok := x.shared[e.RelativePath]; ok && !wasVisible && e.ContentPath == "" {
		return x.place(e, dir)
	}
	info, err := x.fs.Stat(x.contentPath(e))
	switch {
	case err == nil:
		e.Size = info.Size()
	case errors.Is(err, fs.ErrNotExist):
		e.Size = 0
	default:
		return fmt.Errorf("stat content: %w", err)
	}
	return nil
}

// place copies the blob of e to a fresh file in dir and removes the blob.
// A name already taken in dir gets a " (n)" suffix. Callers must hold x.mu.
func (x *MemoryIndex) place(e *Entry, dir string) error {
	if err := x.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create publish directory: %w", err)
	}
	dst, target, err := x.createUnique(dir, publishName(e.DisplayName, e.ID))
	if err != nil {
		return err
	}
	blob := x.blobPath(e.ID)
	size, err := x.copyBlob(dst, blob)
	if cerr := dst.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close %s: %w", target, cerr)
	}
	if err != nil {
		_ = x.fs.Remove(target)
		return err
	}

	if err := x.remove(blob); err != nil {
		return fmt.Errorf("remove blob: %w", err)
	}
	e.ContentPath = target
	e.DisplayName = filepath.Base(target)
	e.Size = size
	return nil
}

// copyBlob copies the blob into dst. A blob that was never written copies
// as empty content.
func (x *MemoryIndex) copyBlob(dst io.Writer, blob string) (int64, error) {
	src, err := x.fs.Open(blob)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open blob: %w", err)
	}
	defer func() { _ = src.Close() }()
	n, err := io.Copy(dst, src)
	if err != nil {
		return n, fmt.Errorf("copy blob: %w", err)
	}
	return n, nil
}

// createUnique exclusively creates name in dir, trying suffixed variants of
// it while the name is taken.
func (x *MemoryIndex) createUnique(dir, name string) (afero.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := range maxNameAttempts {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		target := filepath.Join(dir, candidate)
		f, err := x.fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, target, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", target, err)
		}
	}
	return nil, "", fmt.Errorf("no free name for %s in %s", name, dir)
}

// publishName reduces a display name to a single path element, falling back
// to the entry id when nothing usable remains.
func publishName(displayName, entryID string) string {
	name := path.Base(strings.ReplaceAll(displayName, `\`, "/"))
	switch name {
	case ".", "..", "/", "":
		return entryID
	}
	return name
}

// load reads the records under root. Callers must not share x yet.
func (x *MemoryIndex) load() error {
	infos, err := afero.ReadDir(x.fs, x.root)
	if err != nil {
		return fmt.Errorf("read index directory: %w", err)
	}
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		switch filepath.Ext(info.Name()) {
		case recordExt:
		case ".tmp":
			if err := x.remove(filepath.Join(x.root, info.Name())); err != nil {
				return fmt.Errorf("discard partial record %s: %w", info.Name(), err)
			}
			continue
		default:
			continue
		}
		data, err := afero.ReadFile(x.fs, filepath.Join(x.root, info.Name()))
		if err != nil {
			return fmt.Errorf("read record %s: %w", info.Name(), err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decode record %s: %w", info.Name(), err)
		}
		if e.ID == "" || e.ID+recordExt != info.Name() {
			return fmt.Errorf("decode record %s: id mismatch", info.Name())
		}
		if !e.Visible() {
			if err := x.remove(x.blobPath(e.ID)); err != nil {
				return fmt.Errorf("discard pending blob %s: %w", e.ID, err)
			}
			if err := x.remove(x.recordPath(e.ID)); err != nil {
				return fmt.Errorf("discard pending record %s: %w", e.ID, err)
			}
			continue
		}
		x.entries[e.ID] = &e
	}
	return nil
}

// persist writes the record of e, replacing the previous one atomically.
// Callers must hold x.mu.
func (x *MemoryIndex) persist(e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	target := x.recordPath(e.ID)
	tmp := target + ".tmp"
	if err := afero.WriteFile(x.fs, tmp, data, 0o640); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := x.fs.Rename(tmp, target); err != nil {
		_ = x.fs.Remove(tmp)
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (x *MemoryIndex) remove(name string) error {
	if err := x.fs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// byDataPath finds the entry registered for p in collection. Callers must
// hold x.mu.
func (x *MemoryIndex) byDataPath(collection storage.Collection, p string) *Entry {
	for _, e := range x.entries {
		if e.Collection == collection && e.DataPath == p {
			return e
		}
	}
	return nil
}

// lookup resolves a handle. Callers must hold x.mu.
func (x *MemoryIndex) lookup(h storage.Handle) (*Entry, error) {
	entryID, err := parseContentHandle(h)
	if err != nil {
		return nil, err
	}
	e, ok := x.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, h)
	}
	return e, nil
}

// contentPath is where the index keeps the content of e.
func (x *MemoryIndex) contentPath(e *Entry) string {
	if e.ContentPath != "" {
		return e.ContentPath
	}
	return x.blobPath(e.ID)
}

func (x *MemoryIndex) blobPath(entryID string) string {
	return filepath.Join(x.root, entryID)
}

func (x *MemoryIndex) recordPath(entryID string) string {
	return filepath.Join(x.root, entryID+recordExt)
}
