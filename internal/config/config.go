// Package config handles application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrOneFichierAPIKey is returned when a 1fichier host is configured without an API key.
var ErrOneFichierAPIKey = errors.New("1fichier api key is required when host is set")

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Dir        Dir
	Download   Download
	Archive    Archive
	OneFichier OneFichier
	Proxy      Proxy
	OTP        OTP
	Mock       Mock
}

// App holds application-wide configuration.
type App struct {
	LogLevel      string `env:"MEDIALOADER_APP_LOG_LEVEL"        envDefault:"info"`
	LogFile       string `env:"MEDIALOADER_APP_LOG_FILE"         envDefault:""` // rotated with lumberjack when set
	LogMaxSizeMB  int    `env:"MEDIALOADER_APP_LOG_MAX_SIZE_MB"  envDefault:"100"`
	LogMaxBackups int    `env:"MEDIALOADER_APP_LOG_MAX_BACKUPS"  envDefault:"3"`
	LogMaxAgeDays int    `env:"MEDIALOADER_APP_LOG_MAX_AGE_DAYS" envDefault:"28"`
	LogCompress   bool   `env:"MEDIALOADER_APP_LOG_COMPRESS"     envDefault:"false"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port            string        `env:"MEDIALOADER_HTTP_PORT"             envDefault:":3000"`
	HandlerTimeout  time.Duration `env:"MEDIALOADER_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"MEDIALOADER_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// APIKey protects the download and validation routes. Empty disables the check.
	APIKey string `env:"MEDIALOADER_HTTP_API_KEY" envDefault:""`
}

// Dir holds the library roots.
type Dir struct {
	Movies string `env:"MEDIALOADER_DIR_MOVIES" envDefault:"./data/movies"`
	Shows  string `env:"MEDIALOADER_DIR_SHOWS"  envDefault:"./data/shows"`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Movies, err = filepath.Abs(c.Movies); err != nil {
		return fmt.Errorf("movies: %w", err)
	}

	if c.Shows, err = filepath.Abs(c.Shows); err != nil {
		return fmt.Errorf("shows: %w", err)
	}

	return nil
}

// Download holds transfer tuning.
type Download struct {
	// RateLimit caps each transfer in bytes per second, 0 means unlimited.
	RateLimit int `env:"MEDIALOADER_DOWNLOAD_RATE_LIMIT" envDefault:"0"`
	ChunkSize int `env:"MEDIALOADER_DOWNLOAD_CHUNK_SIZE" envDefault:"32768"`
}

// Archive holds post-download extraction configuration.
type Archive struct {
	Extract bool `env:"MEDIALOADER_ARCHIVE_EXTRACT" envDefault:"true"`
}

// OneFichier holds the 1fichier provider configuration. The provider is enabled when Host is set.
type OneFichier struct {
	Host   string `env:"MEDIALOADER_ONEFICHIER_HOST"    envDefault:""`
	APIKey string `env:"MEDIALOADER_ONEFICHIER_API_KEY" envDefault:""`

	// APIBaseURL overrides https://api.<host>.
	APIBaseURL string        `env:"MEDIALOADER_ONEFICHIER_API_BASE_URL" envDefault:""`
	Timeout    time.Duration `env:"MEDIALOADER_ONEFICHIER_TIMEOUT"      envDefault:"30s"`
}

// Enabled reports whether the provider is configured.
func (o OneFichier) Enabled() bool {
	return o.Host != ""
}

func (o *OneFichier) validate() error {
	o.Host = strings.TrimSpace(o.Host)
	o.APIKey = strings.TrimSpace(o.APIKey)

	if o.Host != "" && o.APIKey == "" {
		return ErrOneFichierAPIKey
	}

	return nil
}

// Mock registers the mock provider for local runs.
type Mock struct {
	Enabled      bool          `env:"MEDIALOADER_MOCK_ENABLED"       envDefault:"false"`
	Host         string        `env:"MEDIALOADER_MOCK_HOST"          envDefault:"mock.medialoader.local"`
	SimulateTime time.Duration `env:"MEDIALOADER_MOCK_SIMULATE_TIME" envDefault:"10s"`
}

// OTP holds the one-time password handshake configuration.
type OTP struct {
	TTL           time.Duration `env:"MEDIALOADER_OTP_TTL"            envDefault:"1m"`
	PruneInterval time.Duration `env:"MEDIALOADER_OTP_PRUNE_INTERVAL" envDefault:"30s"`
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.OneFichier.validate()
	if err != nil {
		return nil, fmt.Errorf("onefichier: %w", err)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// Proxy holds proxy configuration for provider requests.
type Proxy struct {
	// List is a comma-separated list of proxy URLs
	List string `env:"MEDIALOADER_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"MEDIALOADER_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"MEDIALOADER_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the maximum number of failures before a proxy is temporarily removed
	MaxFailures int `env:"MEDIALOADER_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}
