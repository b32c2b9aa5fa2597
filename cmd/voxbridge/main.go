// Command voxbridge serves an audio enhancement engine to remote hosts over
// HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/app"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/bridge"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer/reference"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	reloadEvery := flag.Duration("reload-interval", 5*time.Second, "how often the config file is checked for changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("voxbridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: bridge.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Engine registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg)

	rt, err := reg.CreateEngine(cfg.Engine)
	if err != nil {
		slog.Error("failed to create engine", "err", err)
		return 1
	}

	printStartupSummary(cfg, rt)

	application, err := app.New(ctx, cfg, rt, app.WithLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })

	metrics := observe.DefaultMetrics()
	watcher, err := config.NewWatcher(*configPath,
		func(c config.Change) error { return application.ApplyConfig(gctx, c.New) },
		config.WithInterval(*reloadEvery),
		config.WithReloadHook(func(o config.ReloadOutcome, err error) {
			metrics.RecordConfigReload(gctx, string(o))
			if o == config.ReloadFailed {
				slog.Warn("config reload incomplete", "err", err)
			}
		}),
	)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		g.Go(func() error {
			<-gctx.Done()
			watcher.Stop()
			return nil
		})
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinEngines wires the engines that ship with voxbridge into reg.
func registerBuiltinEngines(reg *config.Registry) {
	reg.RegisterEngine("reference", newReferenceEngine)
}

// newReferenceEngine builds the reference runtime from its engine options.
func newReferenceEngine(e config.EngineEntry) (enhancer.Runtime, error) {
	var opts []reference.Option
	for key := range e.Options {
		switch key {
		case "optimal_sample_rate":
			sr, _, err := e.Uint32Option(key)
			if err != nil {
				return nil, err
			}
			if !reference.SupportedSampleRate(sr) {
				return nil, fmt.Errorf("engine.options.optimal_sample_rate: %d Hz is not supported", sr)
			}
			opts = append(opts, reference.WithOptimalSampleRate(sr))
		default:
			return nil, fmt.Errorf("engine.options: unknown reference option %q", key)
		}
	}
	return reference.New(opts...), nil
}

func printStartupSummary(cfg *config.Config, rt enhancer.Runtime) {
	model := cfg.Model.Path
	if model == "" {
		model = cfg.Model.Type + " (download)"
	}
	maxSessions := cfg.Server.MaxSessions
	if maxSessions == 0 {
		maxSessions = config.DefaultMaxSessions
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxbridge: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Engine          : %-19s ║\n", cfg.Engine.Name)
	fmt.Printf("║  SDK version     : %-19s ║\n", rt.Version())
	fmt.Printf("║  Model           : %-19s ║\n", truncate(model, 19))
	fmt.Printf("║  Max sessions    : %-19d ║\n", maxSessions)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return "…" + string(r[len(r)-n+1:])
	}
	return s
}

// newLogger builds the process logger. Its level follows v, so hot reloads
// can change it.
func newLogger(v *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: v}))
}
