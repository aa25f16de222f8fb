package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dragonfarm/internal/catalog"
	"dragonfarm/internal/config"
	"dragonfarm/internal/core"
	"dragonfarm/internal/genetics"
	"dragonfarm/internal/infra/logger"
	"dragonfarm/internal/infra/telemetry"
	"dragonfarm/pkg/domain"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	catalog  catalog.Catalog
	registry *genetics.Registry
	store    domain.PersistentStore
	svc      *core.Service
	metrics  *prometheus.Registry
	expvar   *core.ExpvarMetricsRecorder
	tracing  *telemetry.Provider
}

func newApp(cfg config.Config, stdout, stderr io.Writer) (*app, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(stderr, logger.Config{Level: level, Format: cfg.LogFormat, Debug: level <= slog.LevelDebug})
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	registry, err := cat.Registry()
	if err != nil {
		return nil, fmt.Errorf("build trait registry: %w", err)
	}

	store, err := core.OpenPersistentStore(cfg.Storage.Core(), core.NewDefaultRulesEngine(registry))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	tracing, err := telemetry.NewProvider(telemetry.Config{Stdout: cfg.TraceStdout, Writer: stdout})
	if err != nil {
		closeStore(store)
		return nil, err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := core.NewPrometheusMetricsRecorder(metrics)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	expvarRec := core.NewExpvarMetricsRecorder("")

	svc := core.NewService(store, registry,
		core.WithLogger(log),
		core.WithAuditRecorder(core.NewLogAuditRecorder(log)),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{prom, expvarRec}),
		core.WithTracer(core.NewOTelTracer(tracing.Tracer())),
		core.WithRarityWeight(cfg.RarityWeight),
		core.WithProfileCacheTTL(cfg.CacheTTL),
	)

	log.Debug("app initialized",
		"storage", cfg.Storage.Driver,
		"blob", cfg.Blob.Driver,
		"traits", registry.Len(),
		"tracing", tracing.Enabled(),
	)
	return &app{
		cfg:      cfg,
		logger:   log,
		catalog:  cat,
		registry: registry,
		store:    store,
		svc:      svc,
		metrics:  metrics,
		expvar:   expvarRec,
		tracing:  tracing,
	}, nil
}

func (a *app) close(ctx context.Context) error {
	return errors.Join(a.tracing.Shutdown(ctx), closeStore(a.store))
}

func closeStore(store domain.PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
