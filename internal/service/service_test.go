package service_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medialoader/internal/consts"
	"medialoader/internal/entity"
	"medialoader/internal/errs"
	"medialoader/internal/observability"
	"medialoader/internal/provider"
	"medialoader/internal/service"
	"medialoader/pkg/ptr"
)

const movieURL = "https://" + consts.DefaultMockHost + "/file/abc"

func newService(t *testing.T) (*service.Service, *provider.Mock) {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	mock := provider.NewMock(log, consts.DefaultMockHost, time.Millisecond)

	engine, err := service.NewEngine(t.Context(), log, testConfig(), mock, afero.NewMemMapFs(), nil, observability.New(prometheus.NewRegistry()))
	require.NoError(t, err)

	return service.New(log, engine), mock
}

func TestCreateDownloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{name: "not a url", url: "nope", wantErr: errs.ErrInvalidURL},
		{name: "unsupported scheme", url: "ftp://" + consts.DefaultMockHost + "/f", wantErr: errs.ErrInvalidURL},
		{name: "no provider", url: "https://example.com/f", wantErr: errs.ErrProviderNotFound},
		{name: "provider refuses", url: "https://" + consts.DefaultMockHost + "/denied", wantErr: errs.ErrAuthorization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newService(t)
			mock.Register("https://"+consts.DefaultMockHost+"/denied", provider.MockFile{Err: errs.ErrAuthorization})

			_, err := svc.CreateDownload(t.Context(), tt.url)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, svc.ListDownloads(t.Context()))
		})
	}
}

func TestListDownloadsReportsCompletedOnce(t *testing.T) {
	svc, mock := newService(t)
	mock.Register(movieURL, provider.MockFile{FileName: "Movie.mkv", Size: ptr.Of(int64(4)), Content: []byte("data")})

	job, err := svc.CreateDownload(t.Context(), "  "+movieURL+" ")
	require.NoError(t, err)
	assert.Equal(t, "Movie.mkv", job.FileName)

	svc.Wait()

	jobs := svc.ListDownloads(t.Context())
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, entity.JobStatusCompleted, jobs[0].Status)

	assert.Empty(t, svc.ListDownloads(t.Context()))

	_, err = svc.GetDownload(t.Context(), job.ID)
	require.ErrorIs(t, err, errs.ErrJobNotFound)
}

func TestGetAndCancelDownload(t *testing.T) {
	svc, mock := newService(t)
	body, w := newPipe()
	mock.Register(movieURL, provider.MockFile{FileName: "Movie.mkv", Body: body})

	job, err := svc.CreateDownload(t.Context(), movieURL)
	require.NoError(t, err)

	got, err := svc.GetDownload(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	require.NoError(t, svc.CancelDownload(t.Context(), job.ID))
	require.ErrorIs(t, svc.CancelDownload(t.Context(), job.ID), errs.ErrJobNotFound)

	_, err = svc.GetDownload(t.Context(), job.ID)
	require.ErrorIs(t, err, errs.ErrJobNotFound)

	w.Close()
	svc.Wait()
}

func TestGetMediaInfo(t *testing.T) {
	svc, mock := newService(t)
	mock.Register(movieURL, provider.MockFile{FileName: "Show.S01E02.mkv", Size: ptr.Of(int64(42))})

	info, err := svc.GetMediaInfo(t.Context(), movieURL)
	require.NoError(t, err)
	assert.Equal(t, "Show.S01E02.mkv", info.FileName)
	require.NotNil(t, info.Size)
	assert.Equal(t, int64(42), *info.Size)

	_, err = svc.GetMediaInfo(t.Context(), "https://example.com/x")
	require.ErrorIs(t, err, errs.ErrProviderNotFound)
}
