package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/agentengine/internal/cachetier"
	"github.com/haasonsaas/agentengine/internal/gate"
	"github.com/haasonsaas/agentengine/internal/gate/audit"
	"github.com/haasonsaas/agentengine/internal/graph"
	"github.com/haasonsaas/agentengine/internal/graphcfg"
	"github.com/haasonsaas/agentengine/internal/llm"
	"github.com/haasonsaas/agentengine/internal/memstore"
	"github.com/haasonsaas/agentengine/internal/memstore/vectorstore"
	"github.com/haasonsaas/agentengine/internal/observability"
	"github.com/haasonsaas/agentengine/internal/promptbuilder"
	"github.com/haasonsaas/agentengine/internal/registry"
	"github.com/haasonsaas/agentengine/internal/tools"
)

// modelEntry is one model-pool configuration in the YAML file. The key is
// taken from the inline APIKey when set, otherwise from the environment
// variable named by APIKeyEnv, so credentials can stay out of the file.
type modelEntry struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	APIBase   string `yaml:"api_base"`
	Region    string `yaml:"region"`
}

type fileConfig struct {
	DataRoot      string `yaml:"data_root"`
	SecurityLevel string `yaml:"security_level"`
	DebugLevel    string `yaml:"debug_level"`
	LogFormat     string `yaml:"log_format"`

	GraphConfig string `yaml:"graph_config"` // path to the graph YAML; empty uses defaults

	Models    []modelEntry      `yaml:"models"`
	Scenarios map[string]string `yaml:"scenarios"`

	Memory struct {
		Backend     string `yaml:"backend"`
		ArchiveDays int    `yaml:"archive_days"`
		DeleteDays  int    `yaml:"delete_days"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"memory"`

	Cache struct {
		ReplyCache bool    `yaml:"reply_cache"`
		MaxMB      float64 `yaml:"max_mb"`
	} `yaml:"cache"`

	ApprovalTimeoutSeconds int    `yaml:"approval_timeout_seconds"`
	MetricsAddr            string `yaml:"metrics_addr"`
	Tracing                bool   `yaml:"tracing"`
	ImplicitRecall         bool   `yaml:"implicit_recall"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *fileConfig) applyDefaults() {
	if c.DataRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataRoot = filepath.Join(home, ".agentengine")
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = "standard"
	}
	if c.DebugLevel == "" {
		c.DebugLevel = "standard"
	}
	if c.Memory.ArchiveDays <= 0 {
		c.Memory.ArchiveDays = 7
	}
	if c.Memory.DeleteDays <= 0 {
		c.Memory.DeleteDays = 30
	}
	if len(c.Models) == 0 {
		c.Models = []modelEntry{{ID: "primary", Provider: "anthropic", Model: "claude-sonnet-4-20250514", APIKeyEnv: "ANTHROPIC_API_KEY"}}
	}
	if c.Scenarios == nil {
		c.Scenarios = map[string]string{"llm": c.Models[0].ID}
	}
}

// newLogger selects the slog handler: JSON for machine consumers, text
// for humans.
func newLogger(format string) *slog.Logger {
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return slog.New(handler)
}

// resolveAPIKey pulls the credential for entry, preferring the inline
// value, then the named env var, then an interactive no-echo prompt when
// stdin is a terminal. A missing key is not fatal here: some providers
// (bedrock) authenticate ambiently.
func resolveAPIKey(entry modelEntry) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	if entry.APIKeyEnv != "" {
		if v := os.Getenv(entry.APIKeyEnv); v != "" {
			return v
		}
		if entry.Provider != "bedrock" && term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintf(os.Stderr, "%s for model %q (input hidden): ", entry.APIKeyEnv, entry.ID)
			key, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err == nil {
				return string(key)
			}
		}
	}
	return ""
}

func buildPool(cfg fileConfig) *llm.Pool {
	pool := llm.NewPool()
	for _, m := range cfg.Models {
		pool.Register(llm.ModelConfig{
			ID:       m.ID,
			Name:     m.Name,
			Provider: llm.ParseProviderKind(m.Provider),
			APIKey:   resolveAPIKey(m),
			APIBase:  m.APIBase,
			Model:    m.Model,
			Region:   m.Region,
		})
	}
	for scenario, id := range cfg.Scenarios {
		pool.Assign(scenario, id)
	}
	return pool
}

// services is everything the subcommands wire together from one
// fileConfig.
type services struct {
	cfg     fileConfig
	logger  *slog.Logger
	pool    *llm.Pool
	store   *memstore.Store
	gate    *gate.Gate
	metrics *observability.Metrics

	urlTier       *cachetier.Tier
	llmTier       *cachetier.Tier
	promptTier    *cachetier.Tier
	translateTier *cachetier.Tier

	registry *registry.Registry
	prompts  *promptbuilder.Builder
	graphs   *graph.Builder

	shutdown []func()
}

func (s *services) Close() {
	for i := len(s.shutdown) - 1; i >= 0; i-- {
		s.shutdown[i]()
	}
}

// tierFor builds one cache tier under <data_root>/.cache.
func tierFor(cfg fileConfig, cacheType string, metrics *observability.Metrics) *cachetier.Tier {
	return cachetier.New(cachetier.Options{
		Root:      filepath.Join(cfg.DataRoot, ".cache"),
		CacheType: cacheType,
		MaxMB:     cfg.Cache.MaxMB,
		Metrics:   metrics,
	})
}

// buildServices assembles the engine from cfg. approvalSink receives
// tool-level approval requests; nil auto-falls back to the gate's
// timeout-deny behaviour.
func buildServices(ctx context.Context, cfg fileConfig, approvalSink gate.EventSink) (*services, error) {
	logger := newLogger(cfg.LogFormat)
	s := &services{cfg: cfg, logger: logger}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		s.metrics = observability.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
		s.shutdown = append(s.shutdown, func() { _ = srv.Close() })
	}

	if cfg.Tracing {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		s.shutdown = append(s.shutdown, func() { _ = tp.Shutdown(context.Background()) })
	}

	s.pool = buildPool(cfg)

	store, err := vectorstore.NewFromConfig(ctx, vectorstore.Config{
		DataRoot:    cfg.DataRoot,
		Backend:     cfg.Memory.Backend,
		PostgresDSN: cfg.Memory.PostgresDSN,
		Pool:        s.pool,
	})
	if err != nil {
		return nil, fmt.Errorf("build memory store: %w", err)
	}
	s.store = store

	auditLog, err := audit.New(filepath.Join(cfg.DataRoot, "logs", "audit.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	s.shutdown = append(s.shutdown, func() { _ = auditLog.Close() })

	s.gate = gate.New(gate.Options{
		Level:           gate.SecurityLevel(cfg.SecurityLevel),
		Audit:           auditLog,
		ApprovalTimeout: time.Duration(cfg.ApprovalTimeoutSeconds) * time.Second,
		Sink:            approvalSink,
		Metrics:         s.metrics,
		Logger:          logger,
	})

	s.urlTier = tierFor(cfg, "url", s.metrics)
	s.llmTier = tierFor(cfg, "llm", s.metrics)
	s.promptTier = tierFor(cfg, "prompt", s.metrics)
	s.translateTier = tierFor(cfg, "translate", s.metrics)

	s.registry = registry.New(nil, logger)
	toolDeps := tools.Deps{
		Gate:         s.gate,
		Memory:       s.store,
		URLCache:     cachetier.NewURLCache(s.urlTier),
		ToolCache:    cachetier.NewToolCache(tierFor(cfg, "tool", s.metrics)),
		DataDir:      cfg.DataRoot,
		KnowledgeDir: filepath.Join(cfg.DataRoot, "knowledge"),
		Logger:       logger,
	}
	if client, err := s.pool.Client(ctx, "llm"); err == nil {
		toolDeps.LLMClient = client
		toolDeps.ConsolidationEnabled = true
	}
	if embedder, err := s.pool.Embedder("embedding"); err == nil {
		toolDeps.Embedder = embedder
	}
	if err := tools.RegisterAll(s.registry, toolDeps); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	s.prompts, err = promptbuilder.New(promptbuilder.Config{
		WorkspaceDir: filepath.Join(cfg.DataRoot, "workspace"),
		SkillsDir:    filepath.Join(cfg.DataRoot, "skills"),
		UserDataDir:  cfg.DataRoot,
		Cache:        cachetier.NewPromptCache(s.promptTier),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build prompt builder: %w", err)
	}
	s.shutdown = append(s.shutdown, func() { _ = s.prompts.Close() })

	s.graphs = graph.NewBuilder()
	return s, nil
}

// graphConfigSource satisfies runner.ConfigSource from either a YAML file
// or the built-in defaults.
type graphConfigSource struct {
	path string
}

func (g graphConfigSource) GraphConfig() (graphcfg.Config, error) {
	if g.path == "" {
		return graphcfg.Default(), nil
	}
	data, err := os.ReadFile(g.path)
	if err != nil {
		return graphcfg.Config{}, fmt.Errorf("read graph config: %w", err)
	}
	return graphcfg.Parse(data)
}
