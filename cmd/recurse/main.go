// Package main is the recurse CLI: one-shot completions, agent runs, and
// direct sandbox execution against the recursive completion engine.
//
// Basic usage:
//
//	recurse run "Summarize the attached design" --sub-calls
//	recurse agent "What is 1+2+...+100?" --auto-context
//	recurse exec 'result = sum(range(1, 101))'
//
// Configuration is read from --config (or RECURSE_CONFIG, default
// recurse.yaml when present); provider keys fall back to
// ANTHROPIC_API_KEY / OPENAI_API_KEY.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/recurse/internal/config"
	"github.com/haasonsaas/recurse/internal/metrics"
	"github.com/haasonsaas/recurse/internal/orchestrator"
	"github.com/haasonsaas/recurse/internal/providers"
	"github.com/haasonsaas/recurse/internal/retrieval"
	"github.com/haasonsaas/recurse/internal/sessions"
	"github.com/haasonsaas/recurse/internal/tools"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes. Budget and cancellation exits are distinguished so shell
// callers can tell "ran out" from "was stopped" from "broke".
const (
	exitOK        = 0
	exitInternal  = 1
	exitBudget    = 2
	exitCancelled = 3
)

// exitError carries the process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		code := exitInternal
		var xerr *exitError
		if errors.As(err, &xerr) {
			code = xerr.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(code)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "recurse",
		Short: "Recursive completion engine",
		Long: `recurse drives budget-bounded LLM completions: a recursive
orchestrator with sub-completions, an autonomous agent loop with
tool-mediated termination, and a sandboxed code interpreter.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (or set RECURSE_CONFIG)")

	rootCmd.AddCommand(
		newRunCmd(&configPath),
		newAgentCmd(&configPath),
		newExecCmd(&configPath),
	)
	return rootCmd
}

// app is everything a command needs wired up.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *orchestrator.Engine
	sessions *sessions.Manager
}

// loadConfig resolves the config path and loads it. No path and no
// default file means built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("RECURSE_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("recurse.yaml"); err == nil {
			path = "recurse.yaml"
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func buildProvider(cfg config.ProviderConfig) (providers.Provider, error) {
	switch cfg.Name {
	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:       key,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokensPerCall,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:       key,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// setupApp wires the engine from configuration: provider, registry with
// retrieval tools, session manager, and the metrics endpoint.
func setupApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	provider, err := buildProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	if cfg.Retrieval.Enabled {
		client, err := retrieval.NewClient(retrieval.Config{
			BaseURL:     cfg.Retrieval.BaseURL,
			ProjectSlug: cfg.Retrieval.ProjectSlug,
			AuthToken:   cfg.Retrieval.AuthToken,
			Timeout:     cfg.Retrieval.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := retrieval.Register(registry, client, cfg.Retrieval.MemoryEnabled); err != nil {
			return nil, err
		}
	}

	engine := orchestrator.NewEngine(provider, registry, logger)
	manager := sessions.NewManager(sessions.Config{
		TTL:           cfg.Sessions.TTL,
		MaxSessions:   cfg.Sessions.MaxSessions,
		SweepInterval: cfg.Sessions.SweepInterval,
		CacheSize:     cfg.Sessions.CacheSize,
	}, logger)

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		engine.SetMetrics(m)
		manager.SetMetrics(m)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics endpoint failed", "addr", cfg.Metrics.ListenAddr, "error", err)
			}
		}()
	}

	return &app{cfg: cfg, logger: logger, engine: engine, sessions: manager}, nil
}

// promptFromArgs joins positional args into the prompt, or reads stdin
// when the single arg is "-".
func promptFromArgs(args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.Join(args, " "), nil
}
