// Package bootstrap provides dependency initialization for the downloads bridge.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/maauso/downloads-bridge/internal/channel"
	"github.com/maauso/downloads-bridge/internal/config"
	"github.com/maauso/downloads-bridge/internal/mediaindex"
	"github.com/maauso/downloads-bridge/internal/server"
	"github.com/maauso/downloads-bridge/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Dispatcher *channel.Dispatcher
	Writer     *storage.Writer
	Scanner    *mediaindex.Scanner
	// Lister is nil when the index cannot enumerate its entries.
	Lister server.EntryLister
	Opener server.ContentOpener
}

// index is what bootstrap needs from a media index backend.
type index interface {
	storage.MediaIndex
	server.ContentOpener
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	return newDependencies(cfg, afero.NewOsFs(), logger)
}

func newDependencies(cfg *config.Config, fs afero.Fs, logger *slog.Logger) (*Dependencies, error) {
	idx, sink, err := initIndex(cfg, fs, logger)
	if err != nil {
		return nil, err
	}

	scanner := mediaindex.NewScanner(fs, sink, logger,
		mediaindex.WithMaxConcurrentScans(cfg.MaxConcurrentScans),
	)

	mode := storage.ModeForAPILevel(cfg.PlatformAPILevel)
	writer, err := storage.NewWriter(mode, idx,
		storage.WithFs(fs),
		storage.WithDownloadsDir(cfg.DownloadsDir),
		storage.WithScanner(scanner),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	logger.Info("storage writer configured",
		slog.String("mode", mode.String()),
		slog.Int("platform_api_level", cfg.PlatformAPILevel),
	)

	deps := &Dependencies{
		Dispatcher: channel.NewDispatcher(writer, logger),
		Writer:     writer,
		Scanner:    scanner,
		Opener:     idx,
	}
	if lister, ok := idx.(server.EntryLister); ok {
		deps.Lister = lister
	}
	return deps, nil
}

// initIndex creates the media index backend based on configuration. The
// returned sink receives scan results and is nil when the backend keeps none.
func initIndex(cfg *config.Config, fs afero.Fs, logger *slog.Logger) (index, mediaindex.ScanSink, error) {
	if cfg.S3Enabled() {
		s3Idx, err := mediaindex.NewS3Index(mediaindex.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create S3 index: %w", err)
		}
		logger.Info("S3 media index configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Idx, nil, nil
	}

	downloadsDir, err := storage.ResolveDownloadsDir(cfg.DownloadsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve downloads directory: %w", err)
	}
	memIdx, err := mediaindex.NewMemoryIndex(fs, cfg.IndexDir,
		mediaindex.WithPublishDir(storage.DirectoryDownloads, downloadsDir),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create memory index: %w", err)
	}
	logger.Info("memory media index configured",
		slog.String("index_dir", cfg.IndexDir),
		slog.String("publish_dir", downloadsDir),
	)
	return memIdx, memIdx, nil
}
