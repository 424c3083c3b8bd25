//go:build integration
// +build integration

package integration_test

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"

	"medialoader/internal/archive"
	"medialoader/internal/config"
	httprouter "medialoader/internal/infrastructure/delivery/http"
	"medialoader/internal/observability"
	"medialoader/internal/otp"
	"medialoader/internal/provider"
	"medialoader/internal/service"
)

const (
	apiKey      = "integration-key"
	hostAPIKey  = "host-key"
	fichierHost = "1fichier.com"
)

// hostedFile is served by the fake file host.
type hostedFile struct {
	name    string
	content []byte
	// stall keeps the connection open after the first byte until the client goes away
	stall bool
}

// fakeHost mimics the 1fichier token endpoint plus the signed download URLs.
type fakeHost struct {
	mu    sync.Mutex
	files map[string]hostedFile
	srv   *httptest.Server
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()

	host := &fakeHost{files: make(map[string]hostedFile)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/download/get_token.cgi", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+hostAPIKey {
			w.WriteHeader(http.StatusForbidden)

			return
		}

		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		id := req.URL[len(req.URL)-6:]

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "OK", "url": host.srv.URL + "/dl/" + id})
	})
	mux.HandleFunc("/dl/{id}", func(w http.ResponseWriter, r *http.Request) {
		host.mu.Lock()
		file, ok := host.files[r.PathValue("id")]
		host.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.Header().Set("Content-Disposition", `attachment; filename="`+file.name+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(file.content)))

		if r.Method == http.MethodHead {
			return
		}

		if file.stall {
			_, _ = w.Write(file.content[:1])
			w.(http.Flusher).Flush()
			<-r.Context().Done()

			return
		}

		_, _ = w.Write(file.content)
	})

	host.srv = httptest.NewServer(mux)
	t.Cleanup(host.srv.Close)

	return host
}

// publish registers file and returns its public URL. id must be six characters.
func (h *fakeHost) publish(id string, file hostedFile) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.files[id] = file

	return "https://" + fichierHost + "/?" + id
}

type fixture struct {
	cfg    *config.Config
	host   *fakeHost
	svc    *service.Service
	client *http.Client
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		Dir:      config.Dir{Movies: filepath.Join(root, "movies"), Shows: filepath.Join(root, "shows")},
		Download: config.Download{ChunkSize: 1024},
		Archive:  config.Archive{Extract: true},
		OTP:      config.OTP{TTL: time.Minute, PruneInterval: time.Minute},
		OneFichier: config.OneFichier{
			Host:   fichierHost,
			APIKey: hostAPIKey,
		},
	}

	host := newFakeHost(t)
	cfg.OneFichier.APIBaseURL = host.srv.URL

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	metrics := observability.New(reg)
	fs := afero.NewOsFs()

	extractor := archive.NewExtractor(t.Context(), log, metrics, fs,
		archive.NewZip(log),
		archive.NewTarXZ(log, fs),
	)

	p := provider.NewOneFichier(log, cfg.OneFichier, metrics, nil)

	engine, err := service.NewEngine(t.Context(), log, cfg, p, fs, extractor, metrics)
	if err != nil {
		t.Fatalf("engine new: %v", err)
	}

	svc := service.New(log, engine)

	router := httprouter.New(log, httprouter.Options{
		APIKey:   apiKey,
		Service:  svc,
		OTPs:     otp.New(log, cfg.OTP, metrics),
		Metrics:  metrics,
		Gatherer: reg,
	})
	server := httptest.NewServer(router)
	client := server.Client()
	client.Timeout = 3 * time.Second

	t.Cleanup(func() {
		server.Close()
		svc.Wait()
	})

	return &fixture{
		cfg:    cfg,
		host:   host,
		svc:    svc,
		client: client,
		url:    server.URL,
	}
}

type apiResponse struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (fx *fixture) do(t *testing.T, method, path string, body any) (int, apiResponse) {
	t.Helper()

	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}

		r = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, fx.url+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", apiKey)

	resp, err := fx.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	return resp.StatusCode, out
}

// tarXZ builds an in-memory .tar.xz holding files.
func tarXZ(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}

	tw := tar.NewWriter(xw)

	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}

		if _, err := io.WriteString(tw, content); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}

	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}

	return buf.Bytes()
}
