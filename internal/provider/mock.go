package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/acomagu/bufpipe"

	"medialoader/internal/consts"
	"medialoader/internal/entity"
	"medialoader/pkg/ptr"
	"medialoader/pkg/urls"
)

// MockFile is a canned answer of the mock provider.
type MockFile struct {
	FileName string
	// Size is reported as is; nil simulates a missing Content-Length.
	Size *int64
	// Content is served when Body is nil.
	Content []byte
	// Body, when set, is handed out once by OpenDownload.
	Body io.ReadCloser
	// Err fails both FetchMetadata and OpenDownload.
	Err error
}

// Mock serves registered files, and simulated transfers for any other URL on its host.
type Mock struct {
	log          *slog.Logger
	host         string
	simulateTime time.Duration

	mu    sync.Mutex
	files map[string]MockFile
}

var _ Provider = (*Mock)(nil)

// NewMock claims host. A non-positive simulateTime uses the default.
func NewMock(log *slog.Logger, host string, simulateTime time.Duration) *Mock {
	if simulateTime <= 0 {
		simulateTime = consts.DefaultMockSimulateTime
	}

	return &Mock{
		log:          log.With(slog.String("package", "provider"), slog.String("provider", consts.ProviderMock)),
		host:         host,
		simulateTime: simulateTime,
		files:        make(map[string]MockFile),
	}
}

// Register makes url resolve to file.
func (m *Mock) Register(url string, file MockFile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[url] = file
}

func (m *Mock) Name() string { return consts.ProviderMock }

func (m *Mock) CanHandle(url string) bool {
	m.mu.Lock()
	_, registered := m.files[url]
	m.mu.Unlock()

	return registered || urls.HostMatches(url, m.host)
}

func (m *Mock) FetchMetadata(ctx context.Context, url string) (entity.DownloadInfo, error) {
	file, ok := m.lookup(url)
	if !ok {
		return m.simulatedInfo(url), nil
	}

	if file.Err != nil {
		return entity.DownloadInfo{}, file.Err
	}

	m.log.DebugContext(ctx, "media info", slog.String("url", url))

	return entity.DownloadInfo{FileName: file.FileName, Size: ptr.Clone(file.Size)}, nil
}

func (m *Mock) OpenDownload(ctx context.Context, url string) (*Download, error) {
	file, ok := m.lookup(url)
	if !ok {
		info := m.simulatedInfo(url)

		return &Download{Info: info, Body: m.simulateDownload(ctx, ptr.Deref(info.Size))}, nil
	}

	if file.Err != nil {
		return nil, file.Err
	}

	body := file.Body
	if body == nil {
		body = io.NopCloser(bytes.NewReader(file.Content))
	} else {
		// streams are single use
		m.mu.Lock()
		file.Body = nil
		m.files[url] = file
		m.mu.Unlock()
	}

	m.log.DebugContext(ctx, "download opened", slog.String("url", url))

	return &Download{
		Info: entity.DownloadInfo{FileName: file.FileName, Size: ptr.Clone(file.Size)},
		Body: body,
	}, nil
}

func (m *Mock) lookup(url string) (MockFile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[url]

	return file, ok
}

func (m *Mock) simulatedInfo(raw string) entity.DownloadInfo {
	name := "mock.bin"

	if u, err := url.Parse(raw); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}

	return entity.DownloadInfo{FileName: name, Size: ptr.Of(int64(consts.DefaultMockFileSize))}
}

// simulatedBody stops the producer goroutine on Close.
type simulatedBody struct {
	io.Reader
	stop context.CancelFunc
}

func (b *simulatedBody) Close() error {
	b.stop()

	return nil
}

// simulateDownload streams size zero bytes in ten steps over simulateTime.
func (m *Mock) simulateDownload(ctx context.Context, size int64) io.ReadCloser {
	ctx, stop := context.WithCancel(ctx)
	reader, writer := bufpipe.New(nil)

	go func() {
		defer stop()

		const steps = 10

		chunk := make([]byte, size/steps)
		interval := max(m.simulateTime/steps, time.Millisecond)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		written := int64(0)

		for step := 1; step <= steps; step++ {
			select {
			case <-ctx.Done():
				writer.CloseWithError(fmt.Errorf("simulate download: %w", ctx.Err()))

				return
			case <-ticker.C:
			}

			if step == steps {
				chunk = make([]byte, size-written)
			}

			n, err := writer.Write(chunk)
			written += int64(n)

			if err != nil {
				return
			}
		}

		writer.Close()
	}()

	return &simulatedBody{Reader: reader, stop: stop}
}
