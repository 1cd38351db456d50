// Command toolgate is the composition root: it loads configuration,
// wires the registry, breakers, metrics, and health monitor together,
// and serves the gateway over whichever transport the config selects.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/argus-sec/toolgate/internal/config"
	"github.com/argus-sec/toolgate/internal/gateway"
	"github.com/argus-sec/toolgate/internal/health"
	"github.com/argus-sec/toolgate/internal/logger"
	"github.com/argus-sec/toolgate/internal/metrics"
	"github.com/argus-sec/toolgate/internal/registry"
	"github.com/argus-sec/toolgate/internal/sse"
	"github.com/argus-sec/toolgate/internal/supervisor"
	"github.com/argus-sec/toolgate/internal/toolspec"
)

var log = logger.New("main")

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "toolgate",
		Short: "toolgate — security tool execution gateway",
		Long:  "toolgate runs a fixed set of external security scanners behind a uniform, rate-limited, circuit-broken request/response surface.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a TOML config file (falls back to MCP_CONFIG_PATH, then built-in defaults)")

	if err := root.Execute(); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	catalog := toolspec.Catalog()
	for i := range catalog {
		catalog[i].CircuitBreaker.FailureThreshold = cfg.CircuitBreaker.FailureThreshold
		catalog[i].CircuitBreaker.RecoveryTimeout = cfg.RecoveryTimeoutDuration()
	}

	metricsRegistry := metrics.New(len(catalog) * 4)

	var exporter *metrics.Exporter
	if cfg.Metrics.PrometheusEnabled {
		exporter, err = metrics.NewExporter()
		if err != nil {
			return fmt.Errorf("starting metrics exporter: %w", err)
		}
	}

	reg := registry.New(catalog, cfg.Tool.Include, cfg.Tool.Exclude, metricsRegistry)

	healthCfg := health.Config{
		CheckInterval: cfg.CheckIntervalDuration(),
		CheckTimeout:  10 * time.Second,
		CPUThreshold:  cfg.Health.CPUThreshold / 100,
		MemThreshold:  cfg.Health.MemThreshold / 100,
		DiskThreshold: cfg.Health.DiskThreshold / 100,
	}

	checks := []health.Check{
		health.NewSystemResourcesCheck(healthCfg),
		health.NewProcessHealthCheck(),
		health.NewDependenciesCheck(toolCommands(catalog)),
	}
	for _, desc := range catalog {
		entry, _, err := reg.Get(desc.Name)
		if err != nil {
			continue
		}
		checks = append(checks, health.NewToolCheck(desc.Name, desc.Command, entry.Breaker))
	}

	monitor := health.New(healthCfg, checks...)
	monitor.Start()
	defer monitor.Stop()

	sup := supervisor.New()
	broker := sse.NewBroker()

	gw := gateway.New(reg, sup, metricsRegistry, exporter, monitor, broker)

	watcher, err := config.Watch(watchPath(configPath), func(next *config.Config) {
		applyHotReload(reg, next)
	})
	if err != nil {
		log.Warn("configuration hot reload disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cfg.Server.Transport {
	case "http":
		return runHTTP(ctx, cfg, gw)
	default:
		log.System("serving over stdio")
		return gateway.StdioLoop(ctx, gw, os.Stdin, os.Stdout)
	}
}

func runHTTP(ctx context.Context, cfg *config.Config, gw *gateway.Gateway) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: gateway.NewServer(gw),
	}

	errCh := make(chan error, 1)
	go func() {
		log.System("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.System("shutting down, grace period %s", cfg.ShutdownGraceDuration())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGraceDuration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// applyHotReload re-applies the one part of configuration this process
// can safely change without tearing down already-constructed
// components: the tool include/exclude filter. Those lists are read
// from the TOOL_INCLUDE/TOOL_EXCLUDE environment variables, not from
// the file, so a reload triggered by a file change re-applies the
// filters the process started with, and re-enables any tool that was
// disabled at runtime but passes them. Everything else (the
// listener's port/host, breaker tuning, health thresholds) is baked
// into already-constructed components at startup, since changing them
// live would mean rebuilding the listener/breaker/monitor rather than
// mutating a running one.
func applyHotReload(reg *registry.Registry, next *config.Config) {
	for _, d := range reg.Describe() {
		included := len(next.Tool.Include) == 0 || contains(next.Tool.Include, d.Name)
		excluded := contains(next.Tool.Exclude, d.Name)
		switch {
		case excluded || !included:
			_ = reg.Disable(d.Name)
		default:
			_ = reg.Enable(d.Name)
		}
	}
	log.Info("applied hot-reloaded tool include/exclude filters")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func toolCommands(catalog []toolspec.ToolDescriptor) []string {
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Command
	}
	return names
}

func watchPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("MCP_CONFIG_PATH")
}
