package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// saveLegacy writes data straight into the public Downloads directory and
// then announces the file. The announcement never affects the result.
func (w *Writer) saveLegacy(ctx context.Context, data []byte, fileName string) (Locator, error) {
	dir, err := w.resolveDownloadsDir()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create downloads directory: %w", ErrWriteFailed, err)
	}

	path := filepath.Join(dir, fileName)
	if err := writeFile(w.fs, path, data); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	w.announce(ctx, path, fileName)
	return Locator(path), nil
}

// writeFile creates or truncates path and writes data into it.
func writeFile(fs afero.Fs, path string, data []byte) (err error) {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	if err := writeAll(f, data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// announce registers the saved file with the index and requests a rescan
// so other applications can discover it. Failures, panics included, are only
// logged: the file is already on disk.
func (w *Writer) announce(ctx context.Context, path, fileName string) {
	if w.index != nil {
		w.guard("register file with media index", path, func() error {
			_, err := w.index.Insert(ctx, CollectionImages, Values{
				DisplayName: fileName,
				MimeType:    MimeTypePNG,
				DataPath:    path,
			})
			return err
		})
	}

	if w.scanner != nil {
		w.guard("request media rescan", path, func() error {
			w.scanner.ScanFile(context.WithoutCancel(ctx), path, MimeTypePNG)
			return nil
		})
	}
}

// guard runs a best-effort step, logging its error or panic.
func (w *Writer) guard(step, path string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic during "+step,
				slog.String("path", path),
				slog.Any("panic", r),
			)
		}
	}()
	if err := fn(); err != nil {
		w.logger.Warn("failed to "+step,
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
