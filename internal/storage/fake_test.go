package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEntry is an entry held by fakeIndex.
type fakeEntry struct {
	collection Collection
	values     Values
	content    []byte
	pending    bool
}

// fakeIndex is an in-memory MediaIndex with injectable failures.
type fakeIndex struct {
	mu          sync.Mutex
	next        int
	entries     map[Handle]*fakeEntry
	deleted     []Handle
	openWriters int

	insertErr error
	openErr   error
	nilWriter bool
	writeErr  error
	shortBy   int
	closeErr  error
	updateErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[Handle]*fakeEntry)}
}

func (f *fakeIndex) Insert(_ context.Context, collection Collection, values Values) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.next++
	h := Handle(fmt.Sprintf("content://media/external_primary/%s/%d", collection, f.next))
	e := &fakeEntry{collection: collection, values: values}
	if values.Pending != nil {
		e.pending = *values.Pending
	}
	f.entries[h] = e
	return h, nil
}

func (f *fakeIndex) OpenWriter(_ context.Context, handle Handle) (io.WriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.nilWriter {
		return nil, nil
	}
	if _, ok := f.entries[handle]; !ok {
		return nil, errors.New("no such entry")
	}
	f.openWriters++
	return &fakeWriter{index: f, handle: handle}, nil
}

func (f *fakeIndex) Update(_ context.Context, handle Handle, values Values) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	e, ok := f.entries[handle]
	if !ok {
		return errors.New("no such entry")
	}
	if values.Pending != nil {
		e.pending = *values.Pending
	}
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, handle Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, handle)
	f.deleted = append(f.deleted, handle)
	return nil
}

func (f *fakeIndex) entry(h Handle) (*fakeEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[h]
	return e, ok
}

func (f *fakeIndex) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.pending {
			n++
		}
	}
	return n
}

// fakeWriter buffers writes and commits them to the entry on Close.
type fakeWriter struct {
	index   *fakeIndex
	handle  Handle
	buf     bytes.Buffer
	flushed bool
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.index.writeErr != nil {
		return 0, w.index.writeErr
	}
	if w.index.shortBy > 0 {
		n := len(p) - w.index.shortBy
		w.buf.Write(p[:n])
		return n, nil
	}
	return w.buf.Write(p)
}

func (w *fakeWriter) Flush() error {
	w.flushed = true
	return nil
}

func (w *fakeWriter) Close() error {
	w.index.mu.Lock()
	defer w.index.mu.Unlock()
	w.index.openWriters--
	if w.index.closeErr != nil {
		return w.index.closeErr
	}
	if e, ok := w.index.entries[w.handle]; ok {
		e.content = append([]byte(nil), w.buf.Bytes()...)
	}
	return nil
}

// mockIndex is a testify mock of MediaIndex.
type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) Insert(ctx context.Context, collection Collection, values Values) (Handle, error) {
	args := m.Called(ctx, collection, values)
	return args.Get(0).(Handle), args.Error(1)
}

func (m *mockIndex) OpenWriter(ctx context.Context, handle Handle) (io.WriteCloser, error) {
	args := m.Called(ctx, handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.WriteCloser), args.Error(1)
}

func (m *mockIndex) Update(ctx context.Context, handle Handle, values Values) error {
	args := m.Called(ctx, handle, values)
	return args.Error(0)
}

func (m *mockIndex) Delete(ctx context.Context, handle Handle) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

// nopWriteCloser wraps a buffer as an io.WriteCloser.
type nopWriteCloser struct {
	bytes.Buffer
	closed bool
}

func (n *nopWriteCloser) Close() error {
	n.closed = true
	return nil
}

// recordingScanner records scan requests.
type recordingScanner struct {
	mu    sync.Mutex
	paths []string
}

func (s *recordingScanner) ScanFile(_ context.Context, path, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
}

type panickingScanner struct{}

func (panickingScanner) ScanFile(context.Context, string, string) {
	panic("scanner unavailable")
}
