package cli

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"dragonfarm/internal/adapters/httpapi"
	"dragonfarm/internal/blob"
	"dragonfarm/internal/breeding"
	"dragonfarm/internal/catalog"
)

const shutdownTimeout = 10 * time.Second

// serve seeds the farm, recovers unfinished requests and runs the API on ln
// until ctx is cancelled.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	cfg := a.cfg
	auth, err := httpapi.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("configure auth: %w", err)
	}
	created, err := catalog.Seed(ctx, a.svc, a.catalog)
	if err != nil {
		_ = ln.Close()
		return err
	}
	archive, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("open certificate archive: %w", err)
	}

	coord := breeding.NewCoordinator(a.svc,
		breeding.WithWorkers(cfg.Coordinator.Workers),
		breeding.WithQueueSize(cfg.Coordinator.QueueSize),
		breeding.WithCommitRetry(cfg.Coordinator.CommitAttempts, cfg.Coordinator.CommitBackoff),
		breeding.WithArchive(archive),
		breeding.WithLogger(a.logger),
	)
	coord.Start()
	requeued, err := coord.Recover(ctx)
	if err != nil {
		_ = ln.Close()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(fmt.Errorf("recover breeding requests: %w", err), coord.Stop(stopCtx))
	}

	api := httpapi.NewHandler(a.svc, coord, auth,
		httpapi.WithLogger(a.logger),
		httpapi.WithCertificates(archive),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{Registry: a.metrics})),
	)
	mux := http.NewServeMux()
	mux.Handle("/", api)
	mux.Handle("GET /debug/vars", expvar.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	a.logger.Info("dragonfarm serving",
		"addr", ln.Addr().String(),
		"seeded", created,
		"requeued", requeued,
		"workers", cfg.Coordinator.Workers,
		"archive", archive.Driver(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		coordErr := coord.Stop(shutdownCtx)
		a.logger.Info("dragonfarm stopped")
		return errors.Join(httpErr, coordErr)
	})
	return g.Wait()
}
