// Command magid runs the Magi controller: the process manager, the
// communication hub, the event router, and the agent runtime's shared
// provider/runner/tool-engine plumbing, all wired from one YAML config.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magi-project/magi/internal/config"
	"github.com/magi-project/magi/internal/cost"
	"github.com/magi-project/magi/internal/eventrouter"
	"github.com/magi-project/magi/internal/hub"
	"github.com/magi-project/magi/internal/models"
	"github.com/magi-project/magi/internal/observability"
	"github.com/magi-project/magi/internal/process"
	"github.com/magi-project/magi/internal/provider"
	"github.com/magi-project/magi/internal/runner"
	"github.com/magi-project/magi/internal/store"
	"github.com/magi-project/magi/internal/toolengine"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := "magi.yaml"
	if v := os.Getenv("MAGI_CONFIG"); v != "" {
		configPath = v
	}
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(configPath); err != nil {
		slog.Error("magid exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	slog.Info("magid starting",
		"version", version, "commit", commit,
		"hub_port", cfg.Server.HubPort, "metrics_port", cfg.Server.MetricsPort)

	providers, err := buildProviders(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	classes := runner.ClassCatalog{}
	for name, members := range cfg.ModelClasses {
		for _, m := range members {
			classes[name] = append(classes[name], runner.ClassMember{
				Model:        m.Model,
				Score:        m.Score,
				Intelligence: runner.Intelligence(m.Intelligence),
			})
		}
	}

	if cfg.Providers.Bedrock.Enabled {
		catalog := models.NewCatalog()
		discovery := models.NewBedrockDiscovery(models.BedrockDiscoveryConfig{
			Enabled: true,
			Region:  cfg.Providers.Bedrock.Region,
		}, logger)
		if err := discovery.RegisterWithCatalog(context.Background(), catalog); err != nil {
			slog.Warn("bedrock model discovery failed, falling back to configured classes", "error", err)
		} else {
			for _, m := range catalog.ListByProvider(models.ProviderBedrock) {
				classes["bedrock-auto"] = append(classes["bedrock-auto"], runner.ClassMember{
					Model: m.ID,
					Score: float64(len(m.Capabilities)),
				})
			}
		}
	}

	toolRegistry := toolengine.NewRegistry()
	toolEngine := toolengine.NewEngine(toolRegistry, toolengine.DefaultEngineConfig())
	agentRunner := runner.New(providers, classes, toolRegistry, toolEngine)
	_ = agentRunner // wired into the agent model / staged orchestrator per-request, not held globally here

	var kv store.Store = store.NewMemoryStore()
	if cfg.Storage.Dir == "" {
		slog.Warn("no postgres configured, using in-memory store; history does not survive restart")
	}
	historyStore := &store.MessageHistoryStore{Store: kv}

	costRegistry := cost.NewRegistry()
	costTracker := cost.NewTracker(costRegistry)
	aggregator := cost.NewAggregator(costTracker, time.Now(), cfg.Cost.DailyLimitFile, obsLogger, &cost.Metrics{
		SetCostPerMinute: func(v float64) { metrics.CostPerMinute.Set(v) },
		AddCostTotal:     func(v float64) { metrics.CostTotal.Add(v) },
		WarningEmitted:   func(kind string) { metrics.CostLimitWarnings.WithLabelValues(kind).Inc() },
	}, func(message string, exceeded bool) {
		slog.Warn("cost limit warning", "message", message, "exceeded", exceeded)
	})
	if stopLimitWatch, err := aggregator.WatchLimitFile(obsLogger); err != nil {
		slog.Warn("daily cost limit file watch disabled", "error", err)
	} else {
		defer stopLimitWatch()
	}

	driver := process.NewDockerDriver("magi-agent:latest", fmt.Sprintf("ws://%s:%d", cfg.Server.Host, cfg.Server.HubPort))
	procManager := process.NewManager(driver)

	communicationHub := hub.New(logger, nil, historyStore, aggregator)
	if secret := os.Getenv("MAGI_HUB_AUTH_SECRET"); secret != "" {
		communicationHub.WithAuth(hub.NewAuthenticator(secret))
	}

	router := eventrouter.New(communicationHub, procManager, logger)
	communicationHub.SetDispatcher(router)

	mux := http.NewServeMux()
	mux.Handle("/connect/", communicationHub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HubPort),
		Handler: mux,
	}

	watcher, err := config.NewWatcher(configPath, logger)
	if err != nil {
		slog.Warn("config watch disabled", "error", err)
	} else {
		watcher.OnReload = func(next *config.Config) {
			slog.Info("config hot-reloaded")
			cfg = next
		}
		watcher.OnRestartRequired = func(next *config.Config, reason string) {
			slog.Warn("config change requires restart to take effect", "reason", reason)
		}
		stop, err := watcher.Start()
		if err != nil {
			slog.Warn("config watch failed to start", "error", err)
		} else {
			defer stop()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	_ = router
	_ = procManager

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func buildProviders(cfg *config.Config) (map[string]provider.Provider, error) {
	providers := map[string]provider.Provider{}

	if cfg.Providers.Anthropic.Enabled && cfg.Providers.Anthropic.APIKey != "" {
		p, err := provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey: cfg.Providers.Anthropic.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		providers["anthropic"] = p
	}
	if cfg.Providers.OpenAI.Enabled && cfg.Providers.OpenAI.APIKey != "" {
		p, err := provider.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, "")
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		providers["openai"] = p
	}
	if cfg.Providers.Bedrock.Enabled {
		p, err := provider.NewBedrockProvider(context.Background(), cfg.Providers.Bedrock.Region, "")
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: %w", err)
		}
		providers["bedrock"] = p
	}
	return providers, nil
}
