// Package proxymgr rotates provider requests over a pool of proxies.
// It handles proxy selection, health checking, and failure tracking.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"medialoader/internal/config"
	"medialoader/internal/errs"
	"medialoader/internal/observability"
)

// ProxyState represents the current state of a proxy.
type ProxyState int

const (
	// ProxyStateAvailable indicates the proxy is available for use.
	ProxyStateAvailable ProxyState = iota
	// ProxyStateFailed indicates the proxy has failed and is in backoff.
	ProxyStateFailed
)

const (
	healthCheckTimeout = 10 * time.Second
	maxBackoff         = 1 * time.Hour
)

type proxyInfo struct {
	URL           *url.URL
	Label         string // redacted, safe for logs and metric labels
	State         ProxyState
	FailureCount  int
	LastFailure   time.Time
	BackoffUntil  time.Time
	LastHealthChk time.Time

	transport *http.Transport
}

// Manager manages proxy rotation and health.
type Manager struct {
	log     *slog.Logger
	cfg     config.Proxy
	metrics *observability.Metrics

	mu      sync.Mutex
	proxies map[string]*proxyInfo
	order   []string // maintains insertion order for consistent iteration
}

// New creates a proxy manager from cfg.Proxies.
func New(log *slog.Logger, cfg config.Proxy, metrics *observability.Metrics) (*Manager, error) {
	mgr := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg,
		metrics: metrics,
		proxies: make(map[string]*proxyInfo, len(cfg.Proxies)),
		order:   make([]string, 0, len(cfg.Proxies)),
	}

	for _, raw := range cfg.Proxies {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", raw, err)
		}

		if parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q: missing host", raw)
		}

		if _, exists := mgr.proxies[raw]; exists {
			continue
		}

		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = http.ProxyURL(parsed)

		mgr.proxies[raw] = &proxyInfo{
			URL:       parsed,
			Label:     parsed.Redacted(),
			State:     ProxyStateAvailable,
			transport: transport,
		}
		mgr.order = append(mgr.order, raw)
	}

	mgr.metrics.SetProxiesAvailable(len(mgr.order))

	return mgr, nil
}

// GetRandomProxy returns a random available proxy URL.
// Returns empty string if no proxies are available.
func (m *Manager) GetRandomProxy() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.getAvailableProxies()
	if len(available) == 0 {
		return ""
	}

	return available[rand.IntN(len(available))]
}

// MarkFailed records a failure and puts the proxy in exponential backoff once MaxFailures is reached.
func (m *Manager) MarkFailed(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		return
	}

	info.FailureCount++
	info.LastFailure = time.Now()
	m.metrics.RecordProxyFailure(info.Label)

	if info.FailureCount >= m.cfg.MaxFailures {
		info.State = ProxyStateFailed

		backoff := m.cfg.FailureBackoff * time.Duration(1<<(info.FailureCount-m.cfg.MaxFailures))
		if backoff > maxBackoff || backoff <= 0 {
			backoff = maxBackoff
		}

		info.BackoffUntil = time.Now().Add(backoff)

		m.log.Warn("proxy marked as failed",
			slog.String("proxy", info.Label),
			slog.Int("failure_count", info.FailureCount),
			slog.Duration("backoff", backoff))
	}

	m.metrics.SetProxiesAvailable(len(m.getAvailableProxies()))
}

// MarkSuccess marks a proxy as successful and resets failure count.
func (m *Manager) MarkSuccess(proxyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.proxies[proxyURL]
	if !exists {
		return
	}

	info.State = ProxyStateAvailable
	info.FailureCount = 0
	info.BackoffUntil = time.Time{}

	m.metrics.SetProxiesAvailable(len(m.getAvailableProxies()))
}

// HealthCheck dials the proxy and updates its state.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	m.mu.Lock()
	info, exists := m.proxies[proxyURL]
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("unknown proxy %q", proxyURL)
	}

	dialer := &net.Dialer{
		Timeout: healthCheckTimeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", info.URL.Host)
	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}
	defer conn.Close()

	m.mu.Lock()
	info.LastHealthChk = time.Now()
	m.mu.Unlock()

	m.MarkSuccess(proxyURL)

	return nil
}

// StartHealthChecker starts background health checking for all proxies.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m.cfg.HealthCheckInterval <= 0 || len(m.proxies) == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAllProxies(ctx)
			}
		}
	}()

	m.log.Info("proxy health checker started",
		slog.Duration("interval", m.cfg.HealthCheckInterval),
		slog.Int("proxy_count", len(m.proxies)))
}

// ProxyStats represents statistics for a proxy.
type ProxyStats struct {
	State         ProxyState
	FailureCount  int
	LastFailure   time.Time
	BackoffUntil  time.Time
	LastHealthChk time.Time
}

// GetStats returns current proxy statistics.
func (m *Manager) GetStats() map[string]ProxyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]ProxyStats, len(m.proxies))
	for proxyURL, info := range m.proxies {
		stats[proxyURL] = ProxyStats{
			State:         info.State,
			FailureCount:  info.FailureCount,
			LastFailure:   info.LastFailure,
			BackoffUntil:  info.BackoffUntil,
			LastHealthChk: info.LastHealthChk,
		}
	}

	return stats
}

// HasProxies returns true if any proxies are configured.
func (m *Manager) HasProxies() bool {
	return len(m.proxies) > 0
}

// ProxyCount returns the total number of configured proxies.
func (m *Manager) ProxyCount() int {
	return len(m.proxies)
}

// AvailableCount returns the number of currently available proxies.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.getAvailableProxies())
}

// RoundTripper sends each request through a random available proxy.
// A transport error marks the proxy failed, any response marks it healthy. Requests are not retried.
func (m *Manager) RoundTripper() http.RoundTripper {
	return &roundTripper{mgr: m}
}

type roundTripper struct {
	mgr *Manager
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	proxyURL := rt.mgr.GetRandomProxy()
	if proxyURL == "" {
		return nil, errs.ErrNoProxiesAvailable
	}

	rt.mgr.mu.Lock()
	info := rt.mgr.proxies[proxyURL]
	rt.mgr.mu.Unlock()

	rt.mgr.metrics.RecordProxyRequest(info.Label)

	resp, err := info.transport.RoundTrip(req)
	if err != nil {
		rt.mgr.MarkFailed(proxyURL)

		return nil, fmt.Errorf("proxy %s: %w", info.Label, err)
	}

	rt.mgr.MarkSuccess(proxyURL)

	return resp, nil
}

func (m *Manager) getAvailableProxies() []string {
	now := time.Now()
	available := make([]string, 0, len(m.order))

	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]
		if info.State == ProxyStateAvailable || now.After(info.BackoffUntil) {
			available = append(available, proxyURL)
		}
	}

	return available
}

func (m *Manager) checkAllProxies(ctx context.Context) {
	m.mu.Lock()
	proxies := make([]string, len(m.order))
	copy(proxies, m.order)
	m.mu.Unlock()

	for _, proxy := range proxies {
		select {
		case <-ctx.Done():
			return
		default:
			if err := m.HealthCheck(ctx, proxy); err != nil {
				m.log.Debug("proxy health check failed",
					slog.String("proxy", m.proxies[proxy].Label),
					slog.Any("error", err))
			}
		}
	}
}
