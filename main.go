// entry point of the application
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"medialoader/internal/archive"
	"medialoader/internal/config"
	httprouter "medialoader/internal/infrastructure/delivery/http"
	"medialoader/internal/observability"
	"medialoader/internal/otp"
	"medialoader/internal/provider"
	"medialoader/internal/proxymgr"
	"medialoader/internal/service"
	httpserver "medialoader/pkg/http/server"
	"medialoader/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("config new", slog.Any("error", err))
		stop()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Options{
		AddSource:  true,
		Level:      cfg.App.LogLevel,
		File:       cfg.App.LogFile,
		MaxSizeMB:  cfg.App.LogMaxSizeMB,
		MaxBackups: cfg.App.LogMaxBackups,
		MaxAgeDays: cfg.App.LogMaxAgeDays,
		Compress:   cfg.App.LogCompress,
	})
	if err != nil {
		slog.WarnContext(ctx, "logger level invalid; defaulting to info", slog.Any("error", err))
	}

	metrics := observability.New(prometheus.DefaultRegisterer)

	// provider requests go direct unless proxies are configured
	var transport http.RoundTripper
	if len(cfg.Proxy.Proxies) > 0 {
		proxyMgr, err := proxymgr.New(log, cfg.Proxy, metrics)
		if err != nil {
			log.ErrorContext(ctx, "proxy manager new", slog.Any("error", err))
			stop()
			os.Exit(1)
		}

		proxyMgr.StartHealthChecker(ctx)

		transport = proxyMgr.RoundTripper()

		log.InfoContext(ctx, "proxy manager initialized", slog.Int("proxy_count", proxyMgr.ProxyCount()))
	}

	fs := afero.NewOsFs()

	var extractor service.Extractor
	if cfg.Archive.Extract {
		extractor = archive.NewExtractor(ctx, log, metrics, fs,
			archive.NewZip(log),
			archive.NewRar(log),
			archive.NewTarXZ(log, fs),
		)
	}

	var providers []provider.Provider
	if cfg.OneFichier.Enabled() {
		providers = append(providers, provider.NewOneFichier(log, cfg.OneFichier, metrics, transport))
	}

	if cfg.Mock.Enabled {
		providers = append(providers, provider.NewMock(log, cfg.Mock.Host, cfg.Mock.SimulateTime))
	}

	if len(providers) == 0 {
		log.ErrorContext(ctx, "no download provider configured")
		stop()
		os.Exit(1)
	}

	engines := make([]*service.Engine, 0, len(providers))

	for _, p := range providers {
		engine, err := service.NewEngine(ctx, log, cfg, p, fs, extractor, metrics)
		if err != nil {
			log.ErrorContext(ctx, "engine new", slog.String("provider", p.Name()), slog.Any("error", err))
			stop()
			os.Exit(1)
		}

		engines = append(engines, engine)
	}

	svc := service.New(log, engines...)

	otps := otp.New(log, cfg.OTP, metrics)
	otps.StartPruner(ctx)

	// HTTP Server
	router := httprouter.New(log, httprouter.Options{
		APIKey:         cfg.HTTP.APIKey,
		HandlerTimeout: cfg.HTTP.HandlerTimeout,
		Service:        svc,
		OTPs:           otps,
		Metrics:        metrics,
		Gatherer:       prometheus.DefaultGatherer,
	})

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:            cfg.HTTP.Port,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	})

	log.InfoContext(ctx, "medialoader started",
		slog.String("port", cfg.HTTP.Port),
		slog.String("movies", cfg.Dir.Movies),
		slog.String("shows", cfg.Dir.Shows),
		slog.Int("providers", len(providers)),
	)

	// Waiting for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		log.ErrorContext(ctx, "http server failed", slog.Any("error", err))
	}

	stop()

	err = httpSrv.Shutdown()
	if err != nil {
		log.Error(err.Error())
	}

	// transfers are bound to ctx and stop on cancellation
	svc.Wait()

	log.Info("medialoader shut down gracefully")
}
