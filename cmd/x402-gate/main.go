// Command x402-gate is a reverse proxy that charges x402 payments for the
// locations listed in its YAML configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mark3labs/x402-gate/config"
	httpx402 "github.com/mark3labs/x402-gate/http"
	"github.com/mark3labs/x402-gate/metrics"
	"github.com/mark3labs/x402-gate/store"
)

type options struct {
	configPath string
	listen     string
	upstream   string
	envFile    string
	metrics    bool
	logLevel   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "x402.yaml", "Path to the location configuration")
	flag.StringVar(&opts.listen, "listen", ":8080", "Address to listen on")
	flag.StringVar(&opts.upstream, "upstream", "", "Upstream URL to proxy to (required)")
	flag.StringVar(&opts.envFile, "env-file", "", "Optional .env file loaded before reading the configuration")
	flag.BoolVar(&opts.metrics, "metrics", true, "Serve Prometheus metrics on /metrics")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	if opts.upstream == "" {
		fmt.Fprintln(os.Stderr, "Error: -upstream is required")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		slog.Error("x402-gate exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	upstream, err := url.Parse(opts.upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return fmt.Errorf("invalid upstream %q", opts.upstream)
	}

	file, err := config.LoadFile(opts.configPath)
	if err != nil {
		return err
	}
	locs, err := file.Locations()
	if err != nil {
		return err
	}

	auth, err := cdpAuthFromEnv()
	if err != nil {
		return err
	}
	registry := httpx402.NewFacilitatorRegistry(nil)
	if auth != nil {
		registry.Auth = auth
	}

	var s store.Store
	if u := storeURL(locs); u != "" {
		s, err = store.Open(u)
		if err != nil {
			// Requests are still gated without replay protection.
			logger.Warn("failed to open payment store", "error", err)
		} else {
			defer s.Close()
		}
	}

	var recorder metrics.Recorder = metrics.Nop{}
	var prom *metrics.Prometheus
	if opts.metrics {
		prom = metrics.NewPrometheus()
		recorder = prom
	}

	gate := &httpx402.Gate{
		Facilitators: registry,
		Guard:        store.NewGuard(s, logger),
		Metrics:      recorder,
		Logger:       logger,
	}

	checkFacilitators(ctx, registry, locs, logger)

	srv := &http.Server{
		Addr:              opts.listen,
		Handler:           newRouter(gate, locs, upstream, prom),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("x402-gate listening",
			"addr", opts.listen,
			"upstream", upstream.String(),
			"locations", len(locs),
			"replay_protection", s != nil,
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
