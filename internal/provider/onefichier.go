package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"medialoader/internal/config"
	"medialoader/internal/consts"
	"medialoader/internal/entity"
	"medialoader/internal/errs"
	"medialoader/internal/observability"
)

const (
	tokenPath      = "/v1/download/get_token.cgi"
	tokenStatusOK  = "OK"
	errBodyPreview = 512
)

// OneFichier downloads from 1fichier through its premium API.
type OneFichier struct {
	log     *slog.Logger
	metrics *observability.Metrics
	host    string
	apiKey  string
	apiBase string

	// apiClient is bounded by the configured timeout, streamClient is not.
	apiClient    *http.Client
	streamClient *http.Client
}

var _ Provider = (*OneFichier)(nil)

type tokenRequest struct {
	URL string `json:"url"`
}

type tokenResponse struct {
	Status  string `json:"status"`
	URL     string `json:"url"`
	Message string `json:"message,omitempty"`
}

// NewOneFichier creates the client. A nil transport uses http.DefaultTransport.
func NewOneFichier(
	log *slog.Logger,
	cfg config.OneFichier,
	metrics *observability.Metrics,
	transport http.RoundTripper,
) *OneFichier {
	apiBase := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = "https://api." + cfg.Host
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = consts.DefaultProviderTimeout
	}

	return &OneFichier{
		log:          log.With(slog.String("package", "provider"), slog.String("provider", consts.ProviderOneFichier)),
		metrics:      metrics,
		host:         cfg.Host,
		apiKey:       cfg.APIKey,
		apiBase:      apiBase,
		apiClient:    &http.Client{Transport: transport, Timeout: timeout},
		streamClient: &http.Client{Transport: transport},
	}
}

func (p *OneFichier) Name() string { return consts.ProviderOneFichier }

func (p *OneFichier) CanHandle(url string) bool {
	canHandle := p.host != "" && strings.Contains(url, p.host)
	p.log.Debug("can handle", slog.String("url", url), slog.Bool("result", canHandle))

	return canHandle
}

func (p *OneFichier) FetchMetadata(ctx context.Context, url string) (entity.DownloadInfo, error) {
	p.log.InfoContext(ctx, "getting media info", slog.String("url", url))

	downloadURL, err := p.accessURL(ctx, url)
	if err != nil {
		return entity.DownloadInfo{}, err
	}

	p.metrics.RecordProviderRequest(p.Name(), "metadata")

	resp, err := p.signedRequest(ctx, p.apiClient, http.MethodHead, downloadURL)
	if err != nil {
		return entity.DownloadInfo{}, err
	}
	defer resp.Body.Close()

	info := infoFromResponse(resp)
	p.log.DebugContext(ctx, "media info", slog.Any("info", info))

	return info, nil
}

func (p *OneFichier) OpenDownload(ctx context.Context, url string) (*Download, error) {
	p.log.InfoContext(ctx, "opening download", slog.String("url", url))

	// tokens are single use, so every call exchanges a new one
	downloadURL, err := p.accessURL(ctx, url)
	if err != nil {
		return nil, err
	}

	p.metrics.RecordProviderRequest(p.Name(), "download")

	resp, err := p.signedRequest(ctx, p.streamClient, http.MethodGet, downloadURL)
	if err != nil {
		return nil, err
	}

	info := infoFromResponse(resp)
	p.log.DebugContext(ctx, "download opened", slog.Any("info", info))

	return &Download{Info: info, Body: resp.Body}, nil
}

// accessURL exchanges the public url for a signed download url.
func (p *OneFichier) accessURL(ctx context.Context, url string) (string, error) {
	p.metrics.RecordProviderRequest(p.Name(), "token")

	payload, err := json.Marshal(tokenRequest{URL: url})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %w", errs.ErrAuthorization, err)
	}

	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.apiClient.Do(req)
	if err != nil {
		p.metrics.RecordProviderError(p.Name(), "authorization")
		p.log.ErrorContext(ctx, "failed to get access token", slog.Any("error", err))

		return "", fmt.Errorf("%w: %w", errs.ErrAuthorization, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		p.metrics.RecordProviderError(p.Name(), "authorization")
		p.log.ErrorContext(ctx, "failed to get access token",
			slog.Int("status", resp.StatusCode),
			slog.String("body", preview(resp.Body)))

		return "", fmt.Errorf("%w: token endpoint returned %d", errs.ErrAuthorization, resp.StatusCode)
	}

	var token tokenResponse

	err = json.NewDecoder(resp.Body).Decode(&token)
	if err != nil {
		p.metrics.RecordProviderError(p.Name(), "upstream")

		return "", fmt.Errorf("%w: decode token response: %w", errs.ErrUpstreamProvider, err)
	}

	if token.Status != tokenStatusOK || token.URL == "" {
		p.metrics.RecordProviderError(p.Name(), "upstream")
		p.log.ErrorContext(ctx, "error from 1fichier api",
			slog.String("status", token.Status),
			slog.String("message", token.Message))

		return "", fmt.Errorf("%w: status %q: %s", errs.ErrUpstreamProvider, token.Status, token.Message)
	}

	p.log.InfoContext(ctx, "received access token", slog.String("url", url))

	return token.URL, nil
}

// signedRequest performs method on the signed url. The caller closes the body.
func (p *OneFichier) signedRequest(ctx context.Context, client *http.Client, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build %s request: %w", errs.ErrUpstreamProvider, method, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		p.metrics.RecordProviderError(p.Name(), "upstream")

		return nil, fmt.Errorf("%w: %s: %w", errs.ErrUpstreamProvider, method, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		p.metrics.RecordProviderError(p.Name(), "upstream")

		return nil, fmt.Errorf("%w: %s returned %d", errs.ErrUpstreamProvider, method, resp.StatusCode)
	}

	return resp, nil
}

func preview(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, errBodyPreview))

	return string(data)
}
