// Package service runs download jobs: one Engine per provider, behind a Service facade.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"medialoader/internal/config"
	"medialoader/internal/consts"
	"medialoader/internal/entity"
	"medialoader/internal/errs"
	"medialoader/internal/media"
	"medialoader/internal/observability"
	"medialoader/internal/provider"
	"medialoader/internal/storage"
	"medialoader/pkg/calc"
	"medialoader/pkg/ptr"
)

// Extractor post-processes completed archives.
type Extractor interface {
	IsArchive(path string) bool
	Extract(ctx context.Context, archivePath, fileName, showsRoot string) error
}

// Engine streams downloads of one provider to the library.
type Engine struct {
	log       *slog.Logger
	cfg       *config.Config
	provider  provider.Provider
	fs        afero.Fs
	extractor Extractor // nil disables extraction
	metrics   *observability.Metrics
	jobs      *storage.Registry
	limiter   *rate.Limiter // nil when unlimited
	chunkSize int

	// baseCtx outlives requests, transfers stop only on shutdown or Cancel
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewEngine creates the library roots and returns an engine for p.
func NewEngine(
	ctx context.Context,
	log *slog.Logger,
	cfg *config.Config,
	p provider.Provider,
	fs afero.Fs,
	extractor Extractor,
	metrics *observability.Metrics,
) (*Engine, error) {
	log = log.With(slog.String("package", "service"), slog.String("provider", p.Name()))

	for _, dir := range []string{cfg.Dir.Movies, cfg.Dir.Shows} {
		if err := fs.MkdirAll(dir, consts.DefaultDirPerm); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", errs.ErrFileSystem, dir, err)
		}
	}

	chunkSize := cfg.Download.ChunkSize
	if chunkSize <= 0 {
		chunkSize = consts.DefaultChunkSize
	}

	engine := &Engine{
		log:       log,
		cfg:       cfg,
		provider:  p,
		fs:        fs,
		extractor: extractor,
		metrics:   metrics,
		jobs:      storage.New(log),
		chunkSize: chunkSize,
		baseCtx:   ctx,
	}

	if cfg.Download.RateLimit > 0 {
		// a single read may hit the limiter with a whole chunk
		burst := max(cfg.Download.RateLimit, chunkSize)
		engine.limiter = rate.NewLimiter(rate.Limit(cfg.Download.RateLimit), burst)
	}

	return engine, nil
}

// Provider returns the provider this engine downloads from.
func (e *Engine) Provider() provider.Provider {
	return e.provider
}

// Download opens the provider stream for url and starts a job.
// The stream is bound to the engine lifetime, not to ctx.
func (e *Engine) Download(ctx context.Context, url string) (entity.Job, error) {
	dl, err := e.provider.OpenDownload(e.baseCtx, url)
	if err != nil {
		return entity.Job{}, fmt.Errorf("open download: %w", err)
	}

	return e.Start(ctx, dl.Info, dl.Body)
}

// Start registers a job for stream and pipes it to disk in the background.
// It takes ownership of stream and returns the initial snapshot.
func (e *Engine) Start(ctx context.Context, info entity.DownloadInfo, stream io.ReadCloser) (entity.Job, error) {
	id := uuid.NewString()
	now := time.Now()

	job := &entity.Job{
		ID:        id,
		Provider:  e.provider.Name(),
		Status:    entity.JobStatusInitializing,
		FileName:  safeFileName(info.FileName, id),
		Size:      ptr.Clone(info.Size),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if job.Size != nil {
		job.Progress = ptr.Of(0.0)
	}

	job.Path = e.destination(job.FileName)

	err := e.fs.MkdirAll(filepath.Dir(job.Path), consts.DefaultDirPerm)
	if err != nil {
		stream.Close()

		return entity.Job{}, fmt.Errorf("%w: create %s: %w", errs.ErrFileSystem, filepath.Dir(job.Path), err)
	}

	file, err := e.fs.OpenFile(job.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, consts.DefaultFilePerm)
	if err != nil {
		stream.Close()

		return entity.Job{}, fmt.Errorf("%w: open %s: %w", errs.ErrFileSystem, job.Path, err)
	}

	jobCtx, cancel := context.WithCancel(e.baseCtx)
	snap := job.Snapshot()

	// registered first so a Cancel racing the first chunk always reaches the stream
	e.jobs.RegisterCancelFunc(id, func() {
		cancel()
		stream.Close()
	})

	err = e.jobs.Add(ctx, job)
	if err != nil {
		e.jobs.UnregisterCancelFunc(id)
		cancel()
		file.Close()
		stream.Close()

		return entity.Job{}, fmt.Errorf("register job: %w", err)
	}

	e.metrics.RecordJobCreated(snap.Provider)

	size := "unknown"
	if snap.Size != nil {
		size = calc.HumanFileSize(*snap.Size)
	}

	e.log.InfoContext(ctx, "writing to disk", slog.String("path", snap.Path), slog.String("size", size), slog.Any("job", snap))

	e.wg.Add(1)

	go e.transfer(jobCtx, cancel, snap, file, stream)

	return snap, nil
}

// List returns all jobs in insertion order.
func (e *Engine) List() []entity.Job {
	return e.jobs.List()
}

// Get returns one job.
func (e *Engine) Get(id string) (entity.Job, bool) {
	return e.jobs.Get(id)
}

// CleanCompleted forgets all Completed jobs.
func (e *Engine) CleanCompleted(ctx context.Context) {
	e.jobs.CleanCompleted(ctx)
}

// ListAndCleanCompleted returns every job and forgets those reported as
// Completed in the same step.
func (e *Engine) ListAndCleanCompleted(ctx context.Context) []entity.Job {
	return e.jobs.ListAndCleanCompleted(ctx)
}

// Cancel stops job id, forgets it and deletes its partial file.
// It returns false for unknown and Completed jobs.
func (e *Engine) Cancel(ctx context.Context, id string) bool {
	snap, cancelFunc, ok := e.jobs.RemoveUnless(id, func(job entity.Job) bool {
		return job.Status == entity.JobStatusCompleted
	})
	if !ok {
		return false
	}

	if cancelFunc != nil {
		cancelFunc()
	}

	if !snap.Status.Terminal() {
		e.metrics.RecordJobCancelled(snap.Provider)
	}

	// bytes still in flight may land after this, which is accepted
	err := e.fs.Remove(snap.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.WarnContext(ctx, "failed to delete partial file", slog.String("path", snap.Path), slog.Any("error", err))
	}

	e.log.InfoContext(ctx, "job cancelled", slog.Any("job", snap))

	return true
}

// Wait blocks until every transfer and extraction started by e has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) destination(fileName string) string {
	info := media.DetectMediaType(fileName)
	if info.Type == media.TypeShow {
		return filepath.Join(e.cfg.Dir.Shows, info.Title, consts.SeasonDirPrefix+info.Season, fileName)
	}

	return filepath.Join(e.cfg.Dir.Movies, fileName)
}

func (e *Engine) transfer(ctx context.Context, cancel context.CancelFunc, job entity.Job, file afero.File, stream io.ReadCloser) {
	defer e.wg.Done()
	defer cancel()
	defer stream.Close()

	log := e.log.With(slog.String("job_id", job.ID), slog.String("fileName", job.FileName))
	stopTimer := e.metrics.JobTimer(job.Provider)

	err := e.pipe(ctx, job.ID, file, stream)

	closeErr := file.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("%w: close: %w", errs.ErrTransfer, closeErr)
	}

	if _, exists := e.jobs.Get(job.ID); !exists {
		log.DebugContext(ctx, "transfer stopped after cancellation")

		return
	}

	if err != nil {
		e.fail(ctx, log, job.ID, err)

		return
	}

	if e.shouldExtract(job.Path) && !e.extract(ctx, log, job.ID) {
		return
	}

	snap, ok := e.jobs.Update(job.ID, func(j *entity.Job) {
		if j.Status == entity.JobStatusError {
			return
		}

		j.Status = entity.JobStatusCompleted

		if j.Size != nil && *j.Size == 0 {
			j.Progress = ptr.Of(1.0)
		}
	})
	if !ok || snap.Status != entity.JobStatusCompleted {
		return
	}

	stopTimer()
	e.metrics.RecordJobCompleted(snap.Provider)
	log.InfoContext(ctx, "download completed", slog.Any("job", snap))
}

// pipe copies stream to file chunk by chunk, updating the job after each chunk.
func (e *Engine) pipe(ctx context.Context, id string, file io.Writer, stream io.Reader) error {
	buf := make([]byte, e.chunkSize)

	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if e.limiter != nil {
				if err := e.limiter.WaitN(ctx, n); err != nil {
					return fmt.Errorf("%w: rate limit: %w", errs.ErrTransfer, err)
				}
			}

			if _, err := file.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: write: %w", errs.ErrTransfer, err)
			}

			e.metrics.RecordBytes(e.provider.Name(), n)

			_, ok := e.jobs.Update(id, func(j *entity.Job) {
				j.Status = entity.JobStatusDownloading
				j.Downloaded += int64(n)

				if j.Size != nil {
					j.Progress = ptr.Of(calc.Ratio(j.Downloaded, *j.Size))
				}
			})
			if !ok {
				return nil
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}

		if readErr != nil {
			return fmt.Errorf("%w: read: %w", errs.ErrTransfer, readErr)
		}
	}
}

func (e *Engine) fail(ctx context.Context, log *slog.Logger, id string, err error) {
	snap, ok := e.jobs.Update(id, func(j *entity.Job) {
		j.Status = entity.JobStatusError
		j.Error = err.Error()
	})
	if !ok {
		return
	}

	e.metrics.RecordJobFailed(snap.Provider)
	log.ErrorContext(ctx, "download failed", slog.Any("job", snap), slog.Any("error", err))
}

func (e *Engine) shouldExtract(path string) bool {
	return e.extractor != nil && e.cfg.Archive.Extract && e.extractor.IsArchive(path)
}

// extract moves the job to Extracting and unpacks its archive. A failed
// extraction is logged and the job still completes. It returns false when
// the job was cancelled before or during extraction.
func (e *Engine) extract(ctx context.Context, log *slog.Logger, id string) bool {
	snap, ok := e.jobs.Update(id, func(j *entity.Job) {
		j.Status = entity.JobStatusExtracting
	})
	if !ok {
		return false
	}

	log.InfoContext(ctx, "extracting download", slog.Any("job", snap))

	err := e.extractor.Extract(ctx, snap.Path, snap.FileName, e.cfg.Dir.Shows)
	if err != nil {
		log.WarnContext(ctx, "post-download extraction failed", slog.Any("error", err))
	}

	_, exists := e.jobs.Get(id)

	return exists
}

// safeFileName keeps only the last path element of a provider supplied name.
func safeFileName(name, id string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return consts.FallbackFilePrefix + id
	}

	return base
}
