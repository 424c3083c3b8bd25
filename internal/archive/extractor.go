package archive

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/sourcegraph/conc/iter"
	"github.com/spf13/afero"

	"medialoader/internal/consts"
	"medialoader/internal/errs"
	"medialoader/internal/media"
	"medialoader/internal/observability"
)

// Extractor unpacks archives with the handlers found available at startup.
type Extractor struct {
	log     *slog.Logger
	metrics *observability.Metrics
	fs      afero.Fs

	// immutable after NewExtractor
	handlers []Handler
}

// NewExtractor checks every candidate concurrently, once, and keeps the available ones in candidate order.
func NewExtractor(
	ctx context.Context,
	log *slog.Logger,
	metrics *observability.Metrics,
	fs afero.Fs,
	candidates ...Handler,
) *Extractor {
	log = log.With(slog.String("package", "archive"))

	available := iter.Map(candidates, func(h *Handler) bool {
		return (*h).IsAvailable(ctx)
	})

	handlers := make([]Handler, 0, len(candidates))

	for i, handler := range candidates {
		if available[i] {
			handlers = append(handlers, handler)
		}
	}

	metrics.SetHandlersAvailable(len(handlers))
	log.InfoContext(ctx, "archive extraction ready", slog.Int("handlers", len(handlers)))

	return &Extractor{
		log:      log,
		metrics:  metrics,
		fs:       fs,
		handlers: handlers,
	}
}

// Handlers returns the names of the available handlers.
func (e *Extractor) Handlers() []string {
	names := make([]string, 0, len(e.handlers))
	for _, handler := range e.handlers {
		names = append(names, handler.Name())
	}

	return names
}

// IsArchive reports whether an available handler recognises path.
func (e *Extractor) IsArchive(path string) bool {
	return e.findHandler(path) != nil
}

func (e *Extractor) findHandler(path string) Handler {
	for _, handler := range e.handlers {
		if handler.CanHandle(path) {
			return handler
		}
	}

	return nil
}

// TargetPath returns the extraction directory for an archive named fileName.
// Example: "Show.Name.Season.03.zip" => <showsRoot>/Show.Name/Season03
// The result always stays below showsRoot.
func TargetPath(fileName, showsRoot string) string {
	info, ok := media.ParseSeasonInfo(fileName)
	if !ok {
		return filepath.Join(showsRoot, dirName(media.StripArchiveExt(fileName)), consts.ExtractedDirName)
	}

	return filepath.Join(showsRoot, dirName(info.SeriesTitle), consts.SeasonDirPrefix+info.SeasonNumber)
}

// dirName reduces name to a single path element, never "." or "..".
func dirName(name string) string {
	base := filepath.Base(filepath.Clean(string(filepath.Separator) + name))
	if base == string(filepath.Separator) || base == "." || base == "" {
		return consts.FallbackArchiveDirName
	}

	return base
}

// Extract unpacks archivePath into the season directory derived from fileName and
// removes the archive on success.
func (e *Extractor) Extract(ctx context.Context, archivePath, fileName, showsRoot string) error {
	log := e.log.With(slog.String("archive", archivePath))

	_, err := e.fs.Stat(archivePath)
	if err != nil {
		log.ErrorContext(ctx, "archive file not found", slog.Any("error", err))

		return fmt.Errorf("%w: %s", errs.ErrArchiveNotFound, archivePath)
	}

	handler := e.findHandler(archivePath)
	if handler == nil {
		log.ErrorContext(ctx, "no handler found for archive")

		return fmt.Errorf("%w: %s", errs.ErrNoArchiveHandler, archivePath)
	}

	targetDir := TargetPath(fileName, showsRoot)

	err = e.fs.MkdirAll(targetDir, consts.DefaultDirPerm)
	if err != nil {
		log.ErrorContext(ctx, "failed to create target directory",
			slog.String("target", targetDir), slog.Any("error", err))

		return fmt.Errorf("%w: create %s: %w", errs.ErrFileSystem, targetDir, err)
	}

	log.InfoContext(ctx, "extracting archive",
		slog.String("fileName", fileName),
		slog.String("target", targetDir),
		slog.String("handler", handler.Name()))

	err = handler.Extract(ctx, archivePath, targetDir)
	if err != nil {
		e.metrics.RecordExtraction(handler.Name(), observability.ResultFailure)
		log.ErrorContext(ctx, "extraction failed", slog.Any("error", err))

		return fmt.Errorf("%w: %s: %w", errs.ErrExtraction, handler.Name(), err)
	}

	e.metrics.RecordExtraction(handler.Name(), observability.ResultSuccess)

	err = e.fs.Remove(archivePath)
	if err != nil {
		log.WarnContext(ctx, "failed to delete archive", slog.Any("error", err))

		return nil
	}

	log.InfoContext(ctx, "deleted archive", slog.String("fileName", filepath.Base(archivePath)))

	return nil
}
