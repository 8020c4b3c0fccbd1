package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ScopedStorageAPILevel is the first platform level whose shared storage is
// only reachable through the content index.
const ScopedStorageAPILevel = 29

// ErrIndexRequired is returned by NewWriter when ModeIndexed is requested
// without a MediaIndex.
var ErrIndexRequired = errors.New("indexed storage requires a media index")

// Mode selects the write strategy of a Writer.
type Mode int

const (
	// ModeIndexed reserves, writes and publishes entries through the index.
	ModeIndexed Mode = iota + 1
	// ModeLegacy writes directly into the public Downloads directory.
	ModeLegacy
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeIndexed:
		return "indexed"
	case ModeLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ModeForAPILevel returns the write strategy for a platform level.
func ModeForAPILevel(level int) Mode {
	if level >= ScopedStorageAPILevel {
		return ModeIndexed
	}
	return ModeLegacy
}

// Writer saves byte buffers into the shared Downloads area using the
// strategy selected at construction time.
type Writer struct {
	mode         Mode
	index        MediaIndex
	scanner      Scanner
	fs           afero.Fs
	downloadsDir string
	logger       *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithScanner sets the scanner notified after legacy writes.
func WithScanner(s Scanner) Option {
	return func(w *Writer) {
		w.scanner = s
	}
}

// WithFs sets the filesystem used for legacy writes.
func WithFs(fs afero.Fs) Option {
	return func(w *Writer) {
		w.fs = fs
	}
}

// WithDownloadsDir overrides the public Downloads directory used for legacy
// writes. When unset, $HOME/Downloads is used.
func WithDownloadsDir(dir string) Option {
	return func(w *Writer) {
		w.downloadsDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a Writer for the given mode. The index is mandatory for
// ModeIndexed; for ModeLegacy it is optional and only used to register saved
// files.
func NewWriter(mode Mode, index MediaIndex, opts ...Option) (*Writer, error) {
	if mode != ModeIndexed && mode != ModeLegacy {
		return nil, fmt.Errorf("unknown storage mode %s", mode)
	}
	if mode == ModeIndexed && index == nil {
		return nil, ErrIndexRequired
	}

	w := &Writer{
		mode:   mode,
		index:  index,
		fs:     afero.NewOsFs(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Mode returns the write strategy of the writer.
func (w *Writer) Mode() Mode {
	return w.mode
}

// Save persists data under the shared Downloads area as fileName and
// returns the locator of the saved artifact. An empty buffer produces an
// empty file. On failure no visible artifact is left behind.
func (w *Writer) Save(ctx context.Context, data []byte, fileName string) (Locator, error) {
	if data == nil {
		return "", ErrMissingInput
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	var (
		loc Locator
		err error
	)
	switch w.mode {
	case ModeIndexed:
		loc, err = w.saveIndexed(ctx, data, fileName)
	default:
		loc, err = w.saveLegacy(ctx, data, fileName)
	}
	if err != nil {
		w.logger.Error("save to downloads failed",
			slog.String("mode", w.mode.String()),
			slog.String("file_name", fileName),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	if loc == "" {
		return "", ErrReservationFailed
	}

	w.logger.Info("saved to downloads",
		slog.String("mode", w.mode.String()),
		slog.String("file_name", fileName),
		slog.Int("size", len(data)),
		slog.String("locator", string(loc)),
	)
	return loc, nil
}

// writeAll writes data in full and flushes w when it supports it.
func writeAll(w io.Writer, data []byte) error {
	n, err := w.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return io.ErrShortWrite
	}

	switch f := w.(type) {
	case interface{ Flush() error }:
		return f.Flush()
	case interface{ Sync() error }:
		return f.Sync()
	}
	return nil
}

// resolveDownloadsDir returns the absolute public Downloads directory.
func (w *Writer) resolveDownloadsDir() (string, error) {
	return ResolveDownloadsDir(w.downloadsDir)
}

// ResolveDownloadsDir returns dir as an absolute path, defaulting to the
// Downloads directory under the user's home.
func ResolveDownloadsDir(dir string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, "Downloads")
	}
	return filepath.Abs(dir)
}
