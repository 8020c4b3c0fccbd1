package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// entryState tracks a reserved index entry through an indexed save.
type entryState int

const (
	entryReserved entryState = iota
	entryWritten
	entryFinalized
	entryDeleted
)

// pendingEntry is an index entry reserved by the current save. Unless it
// reaches entryFinalized, rollback deletes it.
type pendingEntry struct {
	index  MediaIndex
	handle Handle
	state  entryState
}

// reserve inserts a pending entry into the Downloads collection.
func reserve(ctx context.Context, index MediaIndex, fileName string) (*pendingEntry, error) {
	handle, err := index.Insert(ctx, CollectionDownloads, Values{
		DisplayName:  fileName,
		MimeType:     MimeTypePNG,
		RelativePath: DirectoryDownloads,
		Pending:      Pending(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReservationFailed, err)
	}
	if handle == "" {
		return nil, ErrReservationFailed
	}
	return &pendingEntry{index: index, handle: handle, state: entryReserved}, nil
}

// write transfers data into the entry. The write channel is closed before
// write returns.
func (e *pendingEntry) write(ctx context.Context, data []byte) (err error) {
	wc, err := e.index.OpenWriter(ctx, e.handle)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}
	if wc == nil {
		return ErrChannelUnavailable
	}
	defer func() {
		if cerr := wc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close: %w", ErrWriteFailed, cerr)
		}
	}()

	if err := writeAll(wc, data); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// finalize clears the pending flag so the entry becomes visible.
func (e *pendingEntry) finalize(ctx context.Context) error {
	if e.state != entryWritten {
		return fmt.Errorf("%w: entry %s not written", ErrWriteFailed, e.handle)
	}
	if err := e.index.Update(ctx, e.handle, Values{Pending: Pending(false)}); err != nil {
		return fmt.Errorf("%w: publish entry: %w", ErrWriteFailed, err)
	}
	e.state = entryFinalized
	return nil
}

// rollback deletes the entry unless it was finalized.
func (e *pendingEntry) rollback(ctx context.Context, logger *slog.Logger) {
	if e.state == entryFinalized || e.state == entryDeleted {
		return
	}
	if err := e.index.Delete(context.WithoutCancel(ctx), e.handle); err != nil {
		logger.Warn("failed to delete reserved entry",
			slog.String("handle", string(e.handle)),
			slog.String("error", err.Error()),
		)
	}
	e.state = entryDeleted
}

// saveIndexed runs reserve, write and finalize against the index.
func (w *Writer) saveIndexed(ctx context.Context, data []byte, fileName string) (Locator, error) {
	entry, err := reserve(ctx, w.index, fileName)
	if err != nil {
		return "", err
	}
	defer entry.rollback(ctx, w.logger)

	if err := entry.write(ctx, data); err != nil {
		return "", err
	}
	entry.state = entryWritten

	if err := entry.finalize(ctx); err != nil {
		return "", err
	}
	return Locator(entry.handle), nil
}
