package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"medialoader/internal/entity"
	"medialoader/internal/errs"
	"medialoader/internal/provider"
	"medialoader/pkg/urls"
)

// Downloader is what the HTTP layer needs from the service.
type Downloader interface {
	CreateDownload(ctx context.Context, url string) (entity.Job, error)
	ListDownloads(ctx context.Context) []entity.Job
	GetDownload(ctx context.Context, id string) (entity.Job, error)
	CancelDownload(ctx context.Context, id string) error
	GetMediaInfo(ctx context.Context, url string) (entity.DownloadInfo, error)
}

// Service routes requests to the engine of the provider that claims the URL.
type Service struct {
	log     *slog.Logger
	engines []*Engine
}

var _ Downloader = (*Service)(nil)

// New returns a service over engines, in selection order.
func New(log *slog.Logger, engines ...*Engine) *Service {
	return &Service{
		log:     log.With(slog.String("package", "service")),
		engines: engines,
	}
}

// CreateDownload starts a job for url and returns its first snapshot.
func (s *Service) CreateDownload(ctx context.Context, url string) (entity.Job, error) {
	engine, err := s.engineFor(url)
	if err != nil {
		return entity.Job{}, err
	}

	job, err := engine.Download(ctx, strings.TrimSpace(url))
	if err != nil {
		s.log.ErrorContext(ctx, "failed to start download", slog.String("url", url), slog.Any("error", err))

		return entity.Job{}, fmt.Errorf("create download: %w", err)
	}

	return job, nil
}

// ListDownloads returns every job and forgets the Completed ones
// so a Completed job is reported exactly once.
func (s *Service) ListDownloads(ctx context.Context) []entity.Job {
	jobs := make([]entity.Job, 0)

	for _, engine := range s.engines {
		jobs = append(jobs, engine.ListAndCleanCompleted(ctx)...)
	}

	return jobs
}

// GetDownload returns one job across all engines.
func (s *Service) GetDownload(_ context.Context, id string) (entity.Job, error) {
	for _, engine := range s.engines {
		if job, ok := engine.Get(id); ok {
			return job, nil
		}
	}

	return entity.Job{}, fmt.Errorf("%w: %s", errs.ErrJobNotFound, id)
}

// CancelDownload cancels job id. Completed jobs cannot be cancelled.
func (s *Service) CancelDownload(ctx context.Context, id string) error {
	for _, engine := range s.engines {
		if engine.Cancel(ctx, id) {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", errs.ErrJobNotFound, id)
}

// GetMediaInfo asks the provider for the name and size behind url.
func (s *Service) GetMediaInfo(ctx context.Context, url string) (entity.DownloadInfo, error) {
	engine, err := s.engineFor(url)
	if err != nil {
		return entity.DownloadInfo{}, err
	}

	info, err := engine.Provider().FetchMetadata(ctx, strings.TrimSpace(url))
	if err != nil {
		return entity.DownloadInfo{}, fmt.Errorf("fetch metadata: %w", err)
	}

	return info, nil
}

// Wait blocks until all engines are idle.
func (s *Service) Wait() {
	for _, engine := range s.engines {
		engine.Wait()
	}
}

func (s *Service) engineFor(url string) (*Engine, error) {
	url = strings.TrimSpace(url)
	if !urls.IsURLValid(url) {
		return nil, fmt.Errorf("%w: %q", errs.ErrInvalidURL, url)
	}

	providers := make([]provider.Provider, len(s.engines))
	for i, engine := range s.engines {
		providers[i] = engine.Provider()
	}

	selected, err := provider.Select(providers, url)
	if err != nil {
		return nil, err
	}

	for _, engine := range s.engines {
		if engine.Provider() == selected {
			return engine, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", errs.ErrProviderNotFound, url)
}
