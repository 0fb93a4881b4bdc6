package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/browse"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return serve(ctx, lg, m, cfg, ln)
}

// serve runs the server on ln until ctx is done. It closes ln.
func serve(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config, ln net.Listener) error {
	defer func() { _ = ln.Close() }()

	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("cache", cfg.Cache.Driver),
		zap.String("connectivity", cfg.Connectivity.Mode),
	)

	cache, err := OpenCache(ctx, cfg.Cache, lg)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			lg.Warn("Close cache", zap.Error(err))
		}
	}()

	remote, err := NewRemote(cfg.Catalog, lg, m.TracerProvider())
	if err != nil {
		return err
	}
	repo := catalog.NewRepository(remote, cache, lg.Named("repository"), m.TracerProvider())

	oracle, monitor, err := NewOracle(cfg.Connectivity, cfg.Catalog.BaseURL, lg)
	if err != nil {
		return err
	}

	// Health check service. The catalog probe is informational: the server
	// keeps serving from cache while the catalog is unreachable.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("cache", 5*time.Second, health.PingCheck(cache))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	if monitor != nil {
		healthSvc.AddInfoProbe(monitor.Probe())
	}
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h := handler.NewHandler(handler.HandlerConfig{
		ImageBaseURL: cfg.ImageBaseURL,
		Browse: browse.Config{
			Logger:        lg.Named("browse"),
			MeterProvider: m.MeterProvider(),
			SampleSize:    cfg.SampleSize,
		},
	}, repo, oracle)
	defer h.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Waiting requests may block on a catalog fetch.
		WriteTimeout:   cfg.Catalog.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Exempt: []string{"/livez", "/readyz"},
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument("storefront", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	if monitor != nil {
		g.Go(func() error {
			monitor.Run(gCtx, cfg.Connectivity.Interval)
			return nil
		})
	}
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	return g.Wait()
}
