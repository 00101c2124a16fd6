package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vcon-dev/vcon-server-sub000/pkg/cache"
	"github.com/vcon-dev/vcon-server-sub000/pkg/chain"
	"github.com/vcon-dev/vcon-server-sub000/pkg/config"
	"github.com/vcon-dev/vcon-server-sub000/pkg/links"
	"github.com/vcon-dev/vcon-server-sub000/pkg/log"
	"github.com/vcon-dev/vcon-server-sub000/pkg/metrics"
	"github.com/vcon-dev/vcon-server-sub000/pkg/probe"
	"github.com/vcon-dev/vcon-server-sub000/pkg/queue"
	"github.com/vcon-dev/vcon-server-sub000/pkg/registry"
	"github.com/vcon-dev/vcon-server-sub000/pkg/storages"
	"github.com/vcon-dev/vcon-server-sub000/pkg/supervisor"
	"github.com/vcon-dev/vcon-server-sub000/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the processing pipeline",
	Long: `Run the worker pool against the configured chains.

Settings come from the environment (REDIS_URL, CONSERVER_*) with flags
taking precedence. The process exposes Prometheus metrics plus health
and readiness probes on the metrics address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.SettingsFromEnv()
		if v, _ := cmd.Flags().GetString("config"); v != "" {
			settings.ConfigPath = v
		}
		if v, _ := cmd.Flags().GetString("redis-url"); v != "" {
			settings.RedisURL = v
		}
		if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
			settings.Workers = v
		}
		if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
			settings.MetricsAddr = v
		}
		return serve(settings)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to the chain configuration document")
	serveCmd.Flags().String("redis-url", "", "Redis endpoint URL")
	serveCmd.Flags().Int("workers", 0, "Number of worker loops")
	serveCmd.Flags().String("metrics-addr", "", "Listen address for metrics and health probes")
}

func serve(settings config.Settings) error {
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	cfg, err := config.Load(settings.ConfigPath)
	if err != nil {
		return err
	}

	client, err := queue.NewClient(settings.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = client.Ping(pingCtx)
	cancel()
	if err != nil {
		metrics.RegisterComponent("redis", false, err.Error())
		return fmt.Errorf("redis unreachable at %s: %w", settings.RedisURL, err)
	}
	metrics.RegisterComponent("redis", true, "connected")

	c := cache.New(client, cache.Config{
		DocTTL:    settings.CacheTTL,
		IndexTTL:  settings.IndexTTL,
		DLQTTL:    settings.DLQTTL,
		SortedSet: settings.SortedSetName,
	})

	reg := registry.New(cfg)
	links.Register(reg, c)
	storages.Register(reg, c)
	wireCacheBackends(cfg, reg, c)
	go probeEndpoints(cfg)

	executor := chain.NewExecutor(client, c, reg, settings)
	sup := supervisor.NewSupervisor(supervisor.Config{
		Workers: settings.Workers,
		Grace:   settings.GracePeriod,
		Factory: func(name string) supervisor.Runner {
			return worker.NewWorker(&worker.Config{
				Name:     name,
				Client:   client,
				Cfg:      cfg,
				Executor: executor,
				Settings: settings,
			})
		},
	})
	sup.Start()
	metrics.RegisterComponent("supervisor", true, "worker pool running")

	collector := metrics.NewCollector(client, cfg.IngressQueues())
	collector.Start()

	srv := &http.Server{Addr: settings.MetricsAddr, Handler: observabilityMux()}
	httpErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()
	logger.Info().
		Str("metrics_addr", settings.MetricsAddr).
		Int("workers", settings.Workers).
		Strs("queues", cfg.IngressQueues()).
		Msg("pipeline running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-sup.Done():
		metrics.UpdateComponent("supervisor", false, err.Error())
		runErr = err
	case err := <-httpErrCh:
		runErr = fmt.Errorf("observability server failed: %w", err)
	}

	collector.Stop()
	sup.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("observability server shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
	return runErr
}

// wireCacheBackends resolves every declared storage and hands the ones
// that can read or delete to the cache for pull-through and delete
// propagation. Resolution failures demote the referencing chains inside
// the registry; startup continues with whatever resolved.
func wireCacheBackends(cfg *config.Config, reg *registry.Registry, c *cache.Cache) {
	names := make([]string, 0, len(cfg.Storages))
	for name := range cfg.Storages {
		names = append(names, name)
	}
	sort.Strings(names)

	var getters []cache.Getter
	var deleters []cache.Deleter
	for _, name := range names {
		storage, _, err := reg.ResolveStorage(name)
		if err != nil {
			logger := log.WithComponent("main")
			logger.Warn().Err(err).Str("storage", name).
				Msg("storage unavailable, excluded from pull-through")
			continue
		}
		if g, ok := storage.(cache.Getter); ok {
			getters = append(getters, g)
		}
		if d, ok := storage.(cache.Deleter); ok {
			deleters = append(deleters, d)
		}
	}
	c.SetBackends(getters, deleters)
}

// probeEndpoints checks reachability of every stage declared with an
// HTTP package source and of every network-backed storage. Failures
// are reported on the health surface but never disable a chain; an
// endpoint down at startup may come up before the first item arrives.
func probeEndpoints(cfg *config.Config) {
	logger := log.WithComponent("main")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for name, def := range cfg.Stages {
		if !strings.HasPrefix(def.Package, "http://") && !strings.HasPrefix(def.Package, "https://") {
			continue
		}
		result := probe.NewHTTPChecker(def.Package).Check(ctx)
		component := "stage:" + name
		metrics.RegisterComponent(component, result.Healthy, result.Message)
		if result.Healthy {
			logger.Debug().Str("stage", name).Dur("rtt", result.Duration).Msg("external stage reachable")
		} else {
			logger.Warn().Str("stage", name).Str("endpoint", def.Package).
				Str("reason", result.Message).Msg("external stage unreachable")
		}
	}

	for name, def := range cfg.Storages {
		addr, ok := storageAddress(def)
		if !ok {
			continue
		}
		result := probe.NewTCPChecker(addr).Check(ctx)
		component := "storage:" + name
		metrics.RegisterComponent(component, result.Healthy, result.Message)
		if result.Healthy {
			logger.Debug().Str("storage", name).Dur("rtt", result.Duration).Msg("storage endpoint reachable")
		} else {
			logger.Warn().Str("storage", name).Str("address", addr).
				Str("reason", result.Message).Msg("storage endpoint unreachable")
		}
	}
}

// storageAddress extracts a probeable TCP address from a storage
// definition. Only network-backed storages carry one; embedded
// backends like bolt are skipped.
func storageAddress(def config.StageDef) (string, bool) {
	for _, key := range []string{"dsn", "url"} {
		if raw := def.Options.String(key, ""); raw != "" {
			return probe.AddressFromURL(raw)
		}
	}
	return "", false
}

func observabilityMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	return mux
}
