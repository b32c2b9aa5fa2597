// Package app wires the voxbridge subsystems into a running server.
//
// New resolves the model and builds the host API, Run serves it until the
// context ends, ApplyConfig pushes hot-reloaded parameters to live sessions,
// and Shutdown tears everything down.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/internal/server"
	"github.com/MrWong99/voxbridge/pkg/bridge"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// applyConcurrency bounds how many sessions ApplyConfig updates at once.
const applyConcurrency = 8

// App owns the model, the host API and the HTTP server.
type App struct {
	cfg      *config.Config
	runtime  enhancer.Runtime
	model    *bridge.Model
	stream   enhancer.Config
	metrics  *observe.Metrics
	registry *prometheus.Registry
	level    *slog.LevelVar

	server   *server.Server
	http     *http.Server
	listener net.Listener

	mu       sync.Mutex // guards cfg after New
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry serves /metrics from reg instead of the default Prometheus
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLevelVar lets ApplyConfig change the log level of the logger built
// around v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New loads (or downloads) the configured model, resolves the stream
// configuration against the model's preferences, and builds the HTTP
// handlers.
func New(ctx context.Context, cfg *config.Config, rt enhancer.Runtime, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, runtime: rt}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	model, err := a.loadModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load model: %w", err)
	}
	a.model = model

	a.stream, err = resolveStream(cfg.Processor, model)
	if err != nil {
		return nil, fmt.Errorf("app: resolve stream: %w", err)
	}

	maxSessions := cfg.Server.MaxSessions
	if maxSessions == 0 {
		maxSessions = config.DefaultMaxSessions
	}
	breaker := resilience.New(resilience.Config{Name: "processor"})
	a.server = server.New(server.Config{
		Runtime:     rt,
		Model:       model,
		LicenseKey:  cfg.Engine.ResolveLicenseKey(),
		Defaults:    defaults(cfg, a.stream),
		MaxSessions: maxSessions,
		Metrics:     a.metrics,
		Breaker:     breaker,
	})

	hc := health.New(
		health.ModelChecker(model),
		health.CapacityChecker(a.server.ActiveSessions, maxSessions),
		health.BreakerChecker("processor_creation", breaker),
	)

	mux := http.NewServeMux()
	hc.Register(mux)
	a.server.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(a.registry))

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = config.DefaultListenAddr
	}
	a.http = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("app ready",
		"engine", rt.Version(),
		"model", model.ID(),
		"stream", a.stream.String(),
		"max_sessions", maxSessions,
	)
	return a, nil
}

func (a *App) loadModel(ctx context.Context) (*bridge.Model, error) {
	path := a.cfg.Model.Path
	if path == "" {
		mt, err := bridge.DecodeModelType(a.cfg.Model.Type)
		if err != nil {
			return nil, err
		}
		slog.Info("downloading model", "type", mt, "dir", a.cfg.Model.DownloadDir)
		if path, err = bridge.DownloadModel(ctx, a.runtime, mt, a.cfg.Model.DownloadDir); err != nil {
			return nil, err
		}
	}
	return bridge.LoadModel(a.runtime, path)
}

// resolveStream fills zero sample rate and block length from the model.
func resolveStream(pc config.ProcessorConfig, model *bridge.Model) (enhancer.Config, error) {
	cfg := enhancer.Config{
		SampleRate:          pc.SampleRate,
		NumChannels:         pc.NumChannels,
		NumFrames:           pc.NumFrames,
		AllowVariableFrames: pc.AllowVariableFrames,
	}
	if cfg.NumChannels == 0 {
		cfg.NumChannels = 1
	}
	if cfg.SampleRate == 0 {
		sr, err := model.OptimalSampleRate()
		if err != nil {
			return cfg, err
		}
		cfg.SampleRate = sr
	}
	if cfg.NumFrames == 0 {
		n, err := model.OptimalNumFrames(cfg.SampleRate)
		if err != nil {
			return cfg, err
		}
		cfg.NumFrames = n
	}
	return cfg, nil
}

func defaults(cfg *config.Config, stream enhancer.Config) server.Defaults {
	return server.Defaults{
		Stream:    stream,
		Processor: cfg.Processor.ProcessorParameters(),
		VAD:       cfg.VAD.VadParameters(),
	}
}

// Server returns the host API server.
func (a *App) Server() *server.Server { return a.server }

// Stream returns the resolved stream configuration new sessions start with.
func (a *App) Stream() enhancer.Config { return a.stream }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the host API until ctx is cancelled or the server fails. It
// returns ctx.Err() on cancellation and nil after [App.Shutdown].
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.http.Addr); err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	slog.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- a.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of next: the log level and the
// processor and VAD parameters. Parameters are written to every live session
// concurrently and become the defaults for new sessions. Parameters removed
// from the file keep their current value. Changes that need a restart are
// logged and otherwise ignored.
func (a *App) ApplyConfig(ctx context.Context, next *config.Config) error {
	a.mu.Lock()
	d := config.Diff(a.cfg, next)
	a.cfg = next
	a.mu.Unlock()

	if !d.Changed() {
		return nil
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if !d.ProcessorParamsChanged && !d.VADParamsChanged {
		return nil
	}

	var proc map[enhancer.ProcessorParameter]float32
	var vad map[enhancer.VadParameter]float32
	if d.ProcessorParamsChanged {
		proc = config.ProcessorConfig{Parameters: d.ProcessorParams}.ProcessorParameters()
	}
	if d.VADParamsChanged {
		vad = config.VADConfig{Parameters: d.VADParams}.VadParameters()
	}
	a.server.SetDefaults(defaults(next, a.stream))

	sessions := a.server.Sessions()
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(applyConcurrency)
	for _, s := range sessions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.ApplyParameters(proc, vad); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("session %d: %w", s.ID(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: apply config: %w", err)
	}

	slog.Info("config reloaded", "sessions", len(sessions), "failed", len(errs))
	if len(errs) > 0 {
		return fmt.Errorf("app: apply config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a config log level to a slog level. Unknown or empty
// levels map to Info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every streaming session, then stops the HTTP server within
// ctx's deadline. Only the first call has an effect.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.server.ActiveSessions())

		var errs []error
		if err := a.server.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := a.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		shutdownErr = errors.Join(errs...)

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
