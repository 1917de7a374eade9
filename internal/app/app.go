// Package app composes the store, the backend supervisor, the health checks
// and the gateway client behind the operations the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/companion/internal/config"
	"github.com/stellarlinkco/companion/internal/gateway"
	"github.com/stellarlinkco/companion/internal/health"
	"github.com/stellarlinkco/companion/internal/logger"
	"github.com/stellarlinkco/companion/internal/metrics"
	"github.com/stellarlinkco/companion/internal/store"
	"github.com/stellarlinkco/companion/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

// Options for creating an App. Zero values select the real implementations.
type Options struct {
	Logger     *zerolog.Logger
	Metrics    *metrics.Metrics
	Launcher   supervisor.Launcher
	Resolver   supervisor.Resolver
	HTTPClient *http.Client
	Clock      func() time.Time
	SignalChan chan os.Signal // for testing signal handling
}

type App struct {
	cfg        *config.Config
	log        zerolog.Logger
	metrics    *metrics.Metrics
	store      *store.Store
	gateway    *gateway.Client
	health     *health.Aggregator
	supervisor *supervisor.Supervisor
	monitor    *health.Monitor
	metricsSrv *http.Server
	signalChan chan os.Signal
}

// New creates an App with default options.
func New(cfg *config.Config) (*App, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates an App with injected collaborators.
func NewWithOptions(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	a := &App{cfg: cfg, signalChan: opts.SignalChan}

	if opts.Logger != nil {
		a.log = *opts.Logger
	} else {
		a.log = zerolog.Nop()
	}
	a.metrics = opts.Metrics
	if a.metrics == nil {
		a.metrics = metrics.New()
	}

	storeOpts := []store.Option{store.WithLogger(logger.Component(a.log, "store"))}
	if opts.Clock != nil {
		storeOpts = append(storeOpts, store.WithClock(opts.Clock))
	}
	a.store = store.New(cfg.DataRoot, storeOpts...)
	if err := a.store.Init(); err != nil {
		return nil, fmt.Errorf("init data root: %w", err)
	}

	gatewayHTTP := opts.HTTPClient
	if gatewayHTTP == nil {
		gatewayHTTP = &http.Client{Timeout: time.Duration(cfg.Gateway.TimeoutMs) * time.Millisecond}
	}
	a.gateway = gateway.NewClient(cfg.Gateway.BaseURL,
		gateway.WithHTTPClient(gatewayHTTP),
		gateway.WithLogger(logger.Component(a.log, "gateway")),
		gateway.WithMetrics(a.metrics),
	)

	healthHTTP := opts.HTTPClient
	if healthHTTP == nil {
		healthHTTP = &http.Client{Timeout: time.Duration(cfg.Health.TimeoutMs) * time.Millisecond}
	}
	a.health = health.NewAggregator(cfg.Gateway.BaseURL, cfg.Inference.HealthURL,
		health.WithHTTPClient(healthHTTP),
		health.WithLogger(logger.Component(a.log, "health")),
		health.WithMetrics(a.metrics),
	)
	a.monitor = health.NewMonitor(a.health, cfg.Health.Schedule,
		health.WithMonitorLogger(logger.Component(a.log, "monitor")))

	supOpts := []supervisor.Option{
		supervisor.WithLogger(logger.Component(a.log, "supervisor")),
		supervisor.WithMetrics(a.metrics),
		supervisor.WithBackoff(
			time.Duration(cfg.Startup.InitialIntervalMs)*time.Millisecond,
			time.Duration(cfg.Startup.MaxIntervalMs)*time.Millisecond,
			time.Duration(cfg.Startup.TimeoutMs)*time.Millisecond,
		),
	}
	if opts.Launcher != nil {
		supOpts = append(supOpts, supervisor.WithLauncher(opts.Launcher))
	}
	if opts.Resolver != nil {
		supOpts = append(supOpts, supervisor.WithResolver(opts.Resolver))
	}
	a.supervisor = supervisor.New(a.serviceSpecs(), supOpts...)

	return a, nil
}

// serviceSpecs lists the inference engine then the gateway, each gated on
// its health endpoint.
func (a *App) serviceSpecs() []supervisor.ServiceSpec {
	settle := time.Duration(a.cfg.Startup.SettleDelayMs) * time.Millisecond

	var specs []supervisor.ServiceSpec
	add := func(name string, sc config.ServiceConfig, ready supervisor.ReadyFunc) {
		if sc.Disabled {
			a.log.Info().Str("backend", name).Msg("service disabled, not supervised")
			return
		}
		specs = append(specs, supervisor.ServiceSpec{
			Name:        name,
			Candidates:  sc.Candidates,
			VersionArgs: sc.VersionArgs,
			Args:        sc.Args,
			Dir:         sc.Dir,
			Env:         sc.Env,
			Ready:       ready,
			SettleDelay: settle,
		})
	}
	add(config.ServiceInference, a.cfg.Services.Inference, a.health.ProbeInference)
	add(config.ServiceGateway, a.cfg.Services.Gateway, a.health.ProbeGateway)
	return specs
}

func (a *App) Config() *config.Config             { return a.cfg }
func (a *App) Store() *store.Store                { return a.store }
func (a *App) Supervisor() *supervisor.Supervisor { return a.supervisor }
func (a *App) Metrics() *metrics.Metrics          { return a.metrics }

// Run starts the backends and the health monitor, then blocks until a
// signal arrives, ctx is done, or startup fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := a.supervisor.StartAllAsync(ctx)

	if err := a.monitor.Start(ctx); err != nil {
		a.log.Warn().Err(err).Msg("health monitor not started")
	}
	a.serveMetrics()

	// Use injected signal channel for testing, or create default
	sigCh := a.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	var runErr error
	for waiting := true; waiting; {
		select {
		case err, ok := <-started:
			if !ok {
				started = nil
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					runErr = fmt.Errorf("start services: %w", err)
				}
				waiting = false
				continue
			}
			a.log.Info().Str("gateway", a.cfg.Gateway.BaseURL).Msg("services running")
		case sig := <-sigCh:
			a.log.Info().Str("signal", sig.String()).Msg("shutting down")
			waiting = false
		case <-ctx.Done():
			waiting = false
		}
	}

	// Abort a startup still in progress before stopping what it spawned.
	cancel()
	if started != nil {
		for range started {
		}
	}
	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) serveMetrics() {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.metricsSrv = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	a.log.Info().Str("addr", addr).Msg("metrics listening")
}

// Shutdown stops the monitor, the metrics listener and the spawned services.
func (a *App) Shutdown() error {
	a.monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("metrics server shutdown")
		}
		a.metricsSrv = nil
	}

	if err := a.supervisor.Stop(ctx); err != nil {
		return fmt.Errorf("stop services: %w", err)
	}
	a.log.Info().Msg("shutdown complete")
	return nil
}
