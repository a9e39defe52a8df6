package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bodul/wafflegram/internal/caption"
	"github.com/bodul/wafflegram/internal/config"
	"github.com/bodul/wafflegram/internal/docstore"
	"github.com/bodul/wafflegram/internal/docstore/memstore"
	"github.com/bodul/wafflegram/internal/docstore/sqlitestore"
	"github.com/bodul/wafflegram/internal/gridcache"
	"github.com/bodul/wafflegram/internal/identity"
	"github.com/bodul/wafflegram/internal/seed"
	"github.com/bodul/wafflegram/internal/server"
	"github.com/bodul/wafflegram/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

// store is what the commands need from a document store.
type store interface {
	docstore.Store
	Flush()
	Close() error
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(cfg config.Config, logger *slog.Logger) (store, error) {
	if cfg.DBPath == "" {
		logger.Warn("WAFFLEGRAM_DB_PATH not set, documents are kept in memory")
		return memstore.New(), nil
	}
	s, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logger.Info("opened sqlite store", "path", cfg.DBPath)
	return s, nil
}

func loadAuthor(cfg config.Config, logger *slog.Logger) (*identity.Keypair, error) {
	if cfg.Author != "" {
		kp, err := identity.Parse(cfg.Author, cfg.AuthorSecret)
		if err != nil {
			return nil, fmt.Errorf("load author: %w", err)
		}
		return kp, nil
	}
	kp, err := identity.Generate("wafl")
	if err != nil {
		return nil, err
	}
	logger.Warn("WAFFLEGRAM_AUTHOR not set, writing as a throwaway identity", "author", kp.Address)
	return kp, nil
}

func cacheOptions(cfg config.Config, logger *slog.Logger, metrics *gridcache.Metrics) []gridcache.Option {
	opts := []gridcache.Option{
		gridcache.WithNamespace(cfg.Namespace),
		gridcache.WithConfig(gridcache.GridConfig{NumX: cfg.Width, NumY: cfg.Height}),
		gridcache.WithLogger(logger),
	}
	if metrics != nil {
		opts = append(opts, gridcache.WithMetrics(metrics))
	}
	return opts
}

func runServe(ctx context.Context, storedConfig bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting wafflegram", "version", version, "commit", commit, "namespace", cfg.Namespace)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	author, err := loadAuthor(cfg, logger)
	if err != nil {
		return err
	}

	tp, shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "wafflegram",
		ServiceVersion: version,
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		SampleRatio:    cfg.OTELSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()
	if cfg.OTELEndpoint != "" {
		logger.Info("trace export enabled", "endpoint", cfg.OTELEndpoint)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := append(cacheOptions(cfg, logger, gridcache.NewMetrics(reg)), gridcache.WithTracerProvider(tp))
	if storedConfig {
		opts = append(opts, gridcache.WithStoredConfig())
	}
	hub := server.NewHub(st, logger, opts...)
	defer hub.Close()

	srvOpts := []server.Option{server.WithLogger(logger), server.WithRegistry(reg)}
	if cfg.GCPProjectID != "" {
		gemini, err := caption.NewGeminiClient(ctx, cfg.GCPProjectID, cfg.GCPRegion)
		if err != nil {
			return fmt.Errorf("init gemini: %w", err)
		}
		defer gemini.Close()
		srvOpts = append(srvOpts, server.WithCaptioner(gemini))
		logger.Info("caption suggestions enabled", "project", cfg.GCPProjectID, "model", gemini.Model())
	} else {
		logger.Info("GCP_PROJECT_ID not set, caption suggestions disabled")
	}

	srv := server.NewServer(hub, author, srvOpts...)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", "http://localhost"+cfg.Addr(), "author", author.Address)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runSeed(ctx context.Context, out io.Writer, file, grid string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	var fx *seed.Fixture
	if file == "" {
		fx, err = seed.Default()
	} else {
		fx, err = seed.LoadFile(file)
	}
	if err != nil {
		return err
	}
	if grid != "" {
		fx.Grid = grid
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	author, err := loadAuthor(cfg, logger)
	if err != nil {
		return err
	}

	c, err := gridcache.New(st, fx.Grid, cacheOptions(cfg, logger, nil)...)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.WaitUntilReady(ctx); err != nil {
		return fmt.Errorf("open grid %s: %w", fx.Grid, err)
	}

	report, err := seed.Apply(ctx, c, author, fx)
	st.Flush()
	fmt.Fprintf(out, "grid %s: %d accepted, %d ignored, %d rejected\n",
		fx.Grid, report.Accepted, report.Ignored, report.Rejected)
	return err
}

func runKeygen(out io.Writer, name string) error {
	kp, err := identity.Generate(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "WAFFLEGRAM_AUTHOR=%s\nWAFFLEGRAM_AUTHOR_SECRET=%s\n", kp.Address, kp.Secret())
	return nil
}
