package mediaindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/maauso/downloads-bridge/internal/storage"
)

var _ storage.Scanner = (*Scanner)(nil)

// ScanResult is what the scanner learned about a file.
type ScanResult struct {
	// Path is the absolute path of the scanned file.
	Path string
	// MimeType is the content type declared by the requester.
	MimeType string
	// DetectedMimeType is the content type sniffed from the file header.
	DetectedMimeType string
	// Size is the file length in bytes.
	Size int64
	// ScannedAt is when the scan completed.
	ScannedAt time.Time
}

// ScanSink receives scan results.
type ScanSink interface {
	RecordScan(ctx context.Context, r ScanResult) error
}

// Scanner rescans files in the background and reports them to a sink.
type Scanner struct {
	fs     afero.Fs
	sink   ScanSink
	logger *slog.Logger
	sem    chan struct{}
	wg     sync.WaitGroup
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithMaxConcurrentScans limits the number of scans running at once.
func WithMaxConcurrentScans(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// NewScanner creates a scanner reading files from fsys. sink may be nil, in
// which case results are only logged.
func NewScanner(fsys afero.Fs, sink ScanSink, logger *slog.Logger, opts ...ScannerOption) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		fs:     fsys,
		sink:   sink,
		logger: logger,
		sem:    make(chan struct{}, 2),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScanFile schedules a scan of path and returns immediately.
func (s *Scanner) ScanFile(ctx context.Context, path, mimeType string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		r, err := s.Scan(ctx, path, mimeType)
		if err != nil {
			s.logger.Warn("media scan failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.Debug("media scan completed",
			slog.String("path", r.Path),
			slog.String("mime_type", r.MimeType),
			slog.String("detected_mime_type", r.DetectedMimeType),
			slog.Int64("size", r.Size),
		)
	}()
}

// Scan inspects path synchronously and reports the result to the sink.
func (s *Scanner) Scan(ctx context.Context, path, mimeType string) (ScanResult, error) {
	select {
	case <-ctx.Done():
		return ScanResult{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return ScanResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return ScanResult{}, fmt.Errorf("stat %s: %w", path, err)
	}
	detected, err := mimetype.DetectReader(f)
	if err != nil {
		return ScanResult{}, fmt.Errorf("detect content type of %s: %w", path, err)
	}

	r := ScanResult{
		Path:             path,
		MimeType:         mimeType,
		DetectedMimeType: detected.String(),
		Size:             info.Size(),
		ScannedAt:        time.Now(),
	}
	if r.DetectedMimeType != mimeType && r.Size > 0 {
		s.logger.Warn("scanned content does not match declared type",
			slog.String("path", path),
			slog.String("mime_type", mimeType),
			slog.String("detected_mime_type", r.DetectedMimeType),
		)
	}

	if s.sink != nil {
		if err := s.sink.RecordScan(ctx, r); err != nil {
			return r, fmt.Errorf("record scan: %w", err)
		}
	}
	return r, nil
}

// Wait blocks until all scheduled scans have finished.
func (s *Scanner) Wait() {
	s.wg.Wait()
}
