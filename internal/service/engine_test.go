package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/acomagu/bufpipe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medialoader/internal/config"
	"medialoader/internal/consts"
	"medialoader/internal/entity"
	"medialoader/internal/observability"
	"medialoader/internal/provider"
	"medialoader/internal/service"
	"medialoader/pkg/ptr"
)

const (
	moviesRoot = "/library/movies"
	showsRoot  = "/library/shows"
)

// pipeBody behaves like an HTTP body: Close unblocks a pending Read.
type pipeBody struct {
	*bufpipe.PipeReader
	w *bufpipe.PipeWriter
}

func (b *pipeBody) Close() error {
	b.w.CloseWithError(io.ErrClosedPipe)

	return nil
}

func newPipe() (*pipeBody, *bufpipe.PipeWriter) {
	r, w := bufpipe.New(nil)

	return &pipeBody{PipeReader: r, w: w}, w
}

type extractCall struct {
	archivePath, fileName, showsRoot string
}

type fakeExtractor struct {
	mu    sync.Mutex
	calls []extractCall
	err   error
	block chan struct{} // when set, Extract waits for it or for ctx
}

func (f *fakeExtractor) IsArchive(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".zip")
}

func (f *fakeExtractor) Extract(ctx context.Context, archivePath, fileName, showsRoot string) error {
	f.mu.Lock()
	f.calls = append(f.calls, extractCall{archivePath, fileName, showsRoot})
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return f.err
}

func (f *fakeExtractor) Calls() []extractCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]extractCall(nil), f.calls...)
}

func testConfig() *config.Config {
	return &config.Config{
		Dir:      config.Dir{Movies: moviesRoot, Shows: showsRoot},
		Download: config.Download{ChunkSize: 4},
		Archive:  config.Archive{Extract: true},
	}
}

func newEngine(t *testing.T, cfg *config.Config, ext service.Extractor) (*service.Engine, afero.Fs) {
	t.Helper()

	engine, fs, _ := newEngineWithRegistry(t, cfg, ext)

	return engine, fs
}

func newEngineWithRegistry(t *testing.T, cfg *config.Config, ext service.Extractor) (*service.Engine, afero.Fs, *prometheus.Registry) {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	fs := afero.NewMemMapFs()
	mock := provider.NewMock(log, consts.DefaultMockHost, time.Millisecond)
	reg := prometheus.NewRegistry()

	engine, err := service.NewEngine(t.Context(), log, cfg, mock, fs, ext, observability.New(reg))
	require.NoError(t, err)

	return engine, fs, reg
}

// counterValue sums every series of the named counter family.
func counterValue(t *testing.T, reg prometheus.Gatherer, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}

	return total
}

func waitStatus(t *testing.T, engine *service.Engine, id string, want entity.JobStatus) entity.Job {
	t.Helper()

	var job entity.Job

	require.Eventually(t, func() bool {
		var ok bool
		job, ok = engine.Get(id)

		return ok && job.Status == want
	}, 2*time.Second, time.Millisecond)

	return job
}

func TestNewEngineCreatesRoots(t *testing.T) {
	_, fs := newEngine(t, testConfig(), nil)

	for _, dir := range []string{moviesRoot, showsRoot} {
		ok, err := afero.DirExists(fs, dir)
		require.NoError(t, err)
		assert.True(t, ok, dir)
	}
}

func TestEngineMovieCompletes(t *testing.T) {
	engine, fs := newEngine(t, testConfig(), nil)
	content := []byte("0123456789abcdefghijklmnopqrstuvwx")
	require.Len(t, content, 34)

	info := entity.DownloadInfo{FileName: "Some.Movie.2020.1080p.mkv", Size: ptr.Of(int64(34))}

	job, err := engine.Start(t.Context(), info, io.NopCloser(bytes.NewReader(content)))
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusInitializing, job.Status)
	assert.Equal(t, consts.ProviderMock, job.Provider)
	require.NotNil(t, job.Progress)
	assert.Zero(t, *job.Progress)

	engine.Wait()

	job = waitStatus(t, engine, job.ID, entity.JobStatusCompleted)
	assert.Equal(t, int64(34), job.Downloaded)
	require.NotNil(t, job.Progress)
	assert.InDelta(t, 1.0, *job.Progress, 1e-9)
	assert.Empty(t, job.Error)

	got, err := afero.ReadFile(fs, filepath.Join(moviesRoot, "Some.Movie.2020.1080p.mkv"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestEngineShowErrorKeepsPartialFile(t *testing.T) {
	engine, fs := newEngine(t, testConfig(), nil)
	body, w := newPipe()

	info := entity.DownloadInfo{FileName: "Show.Name.S04E23.720p.mkv", Size: ptr.Of(int64(100))}

	job, err := engine.Start(t.Context(), info, body)
	require.NoError(t, err)

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := engine.Get(job.ID)

		return j.Downloaded == 10
	}, 2*time.Second, time.Millisecond)

	w.CloseWithError(errors.New("connection reset by peer"))
	engine.Wait()

	job = waitStatus(t, engine, job.ID, entity.JobStatusError)
	assert.Contains(t, job.Error, "connection reset by peer")
	require.NotNil(t, job.Progress)
	assert.InDelta(t, 0.1, *job.Progress, 1e-9)

	got, err := afero.ReadFile(fs, filepath.Join(showsRoot, "Show.Name", "Season04", "Show.Name.S04E23.720p.mkv"))
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), got)
}

func TestEngineUnknownSize(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)

	job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "clip.mp4"}, io.NopCloser(strings.NewReader("hello")))
	require.NoError(t, err)
	assert.Nil(t, job.Size)
	assert.Nil(t, job.Progress)

	engine.Wait()

	job = waitStatus(t, engine, job.ID, entity.JobStatusCompleted)
	assert.Equal(t, int64(5), job.Downloaded)
	assert.Nil(t, job.Progress)
}

func TestEngineEmptyFile(t *testing.T) {
	engine, fs := newEngine(t, testConfig(), nil)

	job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "empty.mkv", Size: ptr.Of(int64(0))}, io.NopCloser(strings.NewReader("")))
	require.NoError(t, err)

	engine.Wait()

	job = waitStatus(t, engine, job.ID, entity.JobStatusCompleted)
	require.NotNil(t, job.Progress)
	assert.InDelta(t, 1.0, *job.Progress, 1e-9)

	ok, err := afero.Exists(fs, filepath.Join(moviesRoot, "empty.mkv"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngineFileNames(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		want     func(id string) string
	}{
		{
			name:     "empty falls back to job id",
			fileName: "",
			want:     func(id string) string { return filepath.Join(moviesRoot, consts.FallbackFilePrefix+id) },
		},
		{
			name:     "directories are stripped",
			fileName: "../../etc/passwd",
			want:     func(string) string { return filepath.Join(moviesRoot, "passwd") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, fs := newEngine(t, testConfig(), nil)

			job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: tt.fileName}, io.NopCloser(strings.NewReader("x")))
			require.NoError(t, err)

			engine.Wait()

			ok, err := afero.Exists(fs, tt.want(job.ID))
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestEngineDownloadedIsMonotonic(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	body, w := newPipe()

	job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "a.mkv", Size: ptr.Of(int64(12))}, body)
	require.NoError(t, err)

	last := int64(0)

	for i := range 3 {
		_, err = w.Write([]byte("abcd"))
		require.NoError(t, err)

		want := int64(4 * (i + 1))

		require.Eventually(t, func() bool {
			j, _ := engine.Get(job.ID)
			assert.GreaterOrEqual(t, j.Downloaded, last)
			last = j.Downloaded

			return j.Downloaded == want && j.Status == entity.JobStatusDownloading
		}, 2*time.Second, time.Millisecond)
	}

	require.NoError(t, w.Close())
	engine.Wait()

	waitStatus(t, engine, job.ID, entity.JobStatusCompleted)
}

func TestEngineCancel(t *testing.T) {
	engine, fs := newEngine(t, testConfig(), nil)
	body, w := newPipe()

	job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "big.mkv"}, body)
	require.NoError(t, err)

	_, err = w.Write([]byte("chunk"))
	require.NoError(t, err)
	waitStatus(t, engine, job.ID, entity.JobStatusDownloading)

	assert.True(t, engine.Cancel(t.Context(), job.ID))
	engine.Wait()

	_, ok := engine.Get(job.ID)
	assert.False(t, ok)
	assert.Empty(t, engine.List())

	exists, err := afero.Exists(fs, filepath.Join(moviesRoot, "big.mkv"))
	require.NoError(t, err)
	assert.False(t, exists)

	assert.False(t, engine.Cancel(t.Context(), job.ID), "second cancel")
	assert.False(t, engine.Cancel(t.Context(), "unknown"))
}

func TestEngineCancelErrored(t *testing.T) {
	const cancelled = "medialoader_jobs_cancelled_total"

	engine, fs, reg := newEngineWithRegistry(t, testConfig(), nil)
	body, w := newPipe()

	job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "broken.mkv", Size: ptr.Of(int64(100))}, body)
	require.NoError(t, err)

	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	w.CloseWithError(errors.New("connection reset by peer"))
	engine.Wait()
	waitStatus(t, engine, job.ID, entity.JobStatusError)

	partial := filepath.Join(moviesRoot, "broken.mkv")
	exists, err := afero.Exists(fs, partial)
	require.NoError(t, err)
	require.True(t, exists)

	assert.True(t, engine.Cancel(t.Context(), job.ID))

	_, ok := engine.Get(job.ID)
	assert.False(t, ok)
	assert.Empty(t, engine.List())

	exists, err = afero.Exists(fs, partial)
	require.NoError(t, err)
	assert.False(t, exists, "partial file removed")

	assert.Zero(t, counterValue(t, reg, cancelled), "failed job is not counted as cancelled")

	// a running job is counted
	body, w = newPipe()
	running, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "running.mkv"}, body)
	require.NoError(t, err)

	assert.True(t, engine.Cancel(t.Context(), running.ID))
	require.NoError(t, w.Close())
	engine.Wait()

	assert.Equal(t, 1.0, counterValue(t, reg, cancelled))
}

func TestEngineCancelCompleted(t *testing.T) {
	engine, fs := newEngine(t, testConfig(), nil)

	job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "done.mkv"}, io.NopCloser(strings.NewReader("data")))
	require.NoError(t, err)

	engine.Wait()
	waitStatus(t, engine, job.ID, entity.JobStatusCompleted)

	assert.False(t, engine.Cancel(t.Context(), job.ID))

	got, ok := engine.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, entity.JobStatusCompleted, got.Status)

	exists, err := afero.Exists(fs, filepath.Join(moviesRoot, "done.mkv"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEngineCleanCompleted(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)

	done, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "one.mkv"}, io.NopCloser(strings.NewReader("1")))
	require.NoError(t, err)

	body, w := newPipe()
	running, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "two.mkv"}, body)
	require.NoError(t, err)

	waitStatus(t, engine, done.ID, entity.JobStatusCompleted)

	engine.CleanCompleted(t.Context())
	engine.CleanCompleted(t.Context())

	jobs := engine.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, running.ID, jobs[0].ID)

	require.NoError(t, w.Close())
	engine.Wait()
}

func TestEngineExtractsArchives(t *testing.T) {
	tests := []struct {
		name      string
		fileName  string
		extract   bool
		extErr    error
		wantCalls int
	}{
		{name: "archive", fileName: "Show.S02.zip", extract: true, wantCalls: 1},
		{name: "extractor failure keeps job", fileName: "Show.S02.zip", extract: true, extErr: errors.New("unzip exited 9"), wantCalls: 1},
		{name: "not an archive", fileName: "Show.S02E01.mkv", extract: true},
		{name: "disabled", fileName: "Show.S02.zip", extract: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Archive.Extract = tt.extract
			ext := &fakeExtractor{err: tt.extErr}

			engine, _ := newEngine(t, cfg, ext)

			job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: tt.fileName}, io.NopCloser(strings.NewReader("PK")))
			require.NoError(t, err)

			engine.Wait()

			got, ok := engine.Get(job.ID)
			require.True(t, ok)
			assert.Equal(t, entity.JobStatusCompleted, got.Status)

			calls := ext.Calls()
			require.Len(t, calls, tt.wantCalls)

			if tt.wantCalls > 0 {
				assert.Equal(t, extractCall{
					archivePath: filepath.Join(moviesRoot, tt.fileName),
					fileName:    tt.fileName,
					showsRoot:   showsRoot,
				}, calls[0])
			}
		})
	}
}

func TestEngineExtractingBeforeCompleted(t *testing.T) {
	ext := &fakeExtractor{block: make(chan struct{})}
	engine, _ := newEngine(t, testConfig(), ext)

	job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "Show.S02.zip"}, io.NopCloser(strings.NewReader("PK")))
	require.NoError(t, err)

	extracting := waitStatus(t, engine, job.ID, entity.JobStatusExtracting)
	assert.Equal(t, int64(2), extracting.Downloaded)

	// still listed and not yet removable
	engine.CleanCompleted(t.Context())
	_, ok := engine.Get(job.ID)
	require.True(t, ok)

	close(ext.block)
	engine.Wait()

	waitStatus(t, engine, job.ID, entity.JobStatusCompleted)
	assert.Len(t, ext.Calls(), 1)
}

func TestEngineCancelWhileExtracting(t *testing.T) {
	ext := &fakeExtractor{block: make(chan struct{})}
	engine, fs := newEngine(t, testConfig(), ext)

	job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "Show.S02.zip"}, io.NopCloser(strings.NewReader("PK")))
	require.NoError(t, err)

	waitStatus(t, engine, job.ID, entity.JobStatusExtracting)

	assert.True(t, engine.Cancel(t.Context(), job.ID))
	engine.Wait()

	_, ok := engine.Get(job.ID)
	assert.False(t, ok)
	assert.Empty(t, engine.List())

	exists, err := afero.Exists(fs, filepath.Join(moviesRoot, "Show.S02.zip"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEngineRateLimit(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := testConfig()
		cfg.Download.ChunkSize = 1024
		cfg.Download.RateLimit = 1024

		engine, _ := newEngine(t, cfg, nil)
		start := time.Now()

		job, err := engine.Start(t.Context(), entity.DownloadInfo{FileName: "slow.mkv"}, io.NopCloser(bytes.NewReader(make([]byte, 3*1024))))
		require.NoError(t, err)

		engine.Wait()

		// the first chunk rides the burst, the next two wait one second each
		assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)

		got, ok := engine.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, entity.JobStatusCompleted, got.Status)
	})
}
