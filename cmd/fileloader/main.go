package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/fileloader/internal/cache"
	"github.com/italolelis/fileloader/internal/cache/blobstore"
	"github.com/italolelis/fileloader/internal/cache/sqlite"
	"github.com/italolelis/fileloader/internal/cleanup"
	"github.com/italolelis/fileloader/internal/config"
	"github.com/italolelis/fileloader/internal/http/rest"
	"github.com/italolelis/fileloader/internal/loader"
	"github.com/italolelis/fileloader/internal/logctx"
	"github.com/italolelis/fileloader/internal/network"
	"github.com/italolelis/fileloader/internal/notifier"
	"github.com/italolelis/fileloader/internal/queue"
	"github.com/italolelis/fileloader/internal/redirect"
	"github.com/italolelis/fileloader/internal/telemetry"
	"github.com/italolelis/fileloader/internal/transport"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("fileloader starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg, os.Args[1:]); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, urls []string) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Cache
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	bucket, err := blobstore.Open(ctx, cfg.CacheBucketURL)
	if err != nil {
		return fmt.Errorf("failed to open cache bucket: %w", err)
	}
	defer bucket.Close()

	c := cache.New(
		sqlite.NewInstrumentedRecordRepository(database, tel),
		bucket,
		cache.WithPolicy(cache.TTL(cfg.CacheTTL)),
	)

	// =========================================================================
	// Start Loader
	l := buildLoader(cfg, c, tel)

	if len(urls) > 0 {
		return downloadAll(ctx, l, urls)
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, l, c, bucket, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"max_concurrency", cfg.MaxConcurrency,
		"max_redirects", cfg.MaxRedirects,
		"cache_ttl", cfg.CacheTTL.String(),
		"retention", cfg.Retention.String(),
	)

	// =========================================================================
	// Start Cleanup
	go cleanup.NewSweeper(c, cfg.Retention).Run(ctx, cfg.CleanupInterval)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

func buildLoader(cfg *config.Config, c *cache.Cache, tel *telemetry.Telemetry) *loader.Loader {
	opts := transport.DefaultOptions()
	opts.Timeout = cfg.RequestTimeout
	opts.MaxBodySize = cfg.MaxBodySize

	var checker network.Checker = network.Static(true)
	if cfg.ReachabilityAddr != "" {
		checker = network.NewDialChecker(cfg.ReachabilityAddr, cfg.ReachabilityTimeout)
	}

	loaderOpts := []loader.Option{
		loader.WithResolver(redirect.New(cfg.MaxRedirects)),
		loader.WithNetwork(checker),
		loader.WithTelemetry(tel),
		loader.WithCoalescing(cfg.CoalesceDuplicates),
	}

	if cfg.DiscordWebhookURL != "" {
		loaderOpts = append(loaderOpts, loader.WithFailureHook(
			notifier.FailureHook(notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, nil)),
		))
	}

	return loader.New(
		c,
		queue.New(cfg.MaxConcurrency, queue.WithObserver(tel.RecordAdmission)),
		transport.NewInstrumentedTransport(transport.NewHTTPTransport(opts), tel, "http"),
		loaderOpts...,
	)
}

// downloadAll runs the one-shot mode: every URL is downloaded through the
// loader and one line is printed per result.
func downloadAll(ctx context.Context, l *loader.Loader, urls []string) error {
	results := make([]string, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group

	for i, u := range urls {
		g.Go(func() error {
			entity, err := l.Get(ctx, u, loader.Options{})
			if err != nil {
				errs[i] = err
				results[i] = fmt.Sprintf("FAIL\t%s\t%s", u, err)

				return nil
			}

			results[i] = fmt.Sprintf("OK\t%s\t%s\t%s", u, entity.LocalPath, entity.Checksum)

			return nil
		})
	}

	_ = g.Wait()

	for _, line := range results {
		fmt.Println(line)
	}

	return errors.Join(errs...)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	l *loader.Loader,
	c *cache.Cache,
	bucket *blobstore.Bucket,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewDownloadHandler(l, c,
		rest.WithContent(bucket),
		rest.WithBasicAuth(cfg.Web.Username, cfg.Web.Password),
	)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			// Requests in flight at shutdown are drained, not canceled.
			return context.WithoutCancel(ctx)
		},
	}
}
