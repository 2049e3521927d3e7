package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codeforge-dev/codeforge/app"
	"github.com/codeforge-dev/codeforge/config"
	"github.com/codeforge-dev/codeforge/routes"
	"github.com/codeforge-dev/codeforge/services/routing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose bool
	mode    string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "codeforge",
	Short: "codeforge - local-first AI coding assistant",
	Long: `codeforge routes coding prompts across local and remote model backends.

It prefers local backends (Ollama, LM Studio) and falls back down a
configurable chain when a backend fails or times out.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.New()
		if err != nil {
			return err
		}
		logger, err = newLogger(cfg.Observability, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// askCmd sends a single prompt through the routing pipeline
var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a prompt and print the response",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

// healthCmd probes every configured backend
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the availability of each configured backend",
	RunE:  runHealth,
}

// historyCmd lists recently persisted attempts
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent request attempts",
	RunE:  runHistory,
}

// diagCmd serves the local diagnostics HTTP endpoints
var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Serve local diagnostics endpoints (health, metrics, history)",
	RunE:  runDiag,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	askCmd.Flags().StringVarP(&mode, "mode", "m", "", "execution mode: auto, fast, balanced or thorough")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(diagCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from the observability settings. The
// --verbose flag forces debug regardless of LOG_LEVEL.
func newLogger(obs config.ObservabilityConfig, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = obs.LogFormat
	if obs.LogFormat == "console" {
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	level, err := zapcore.ParseLevel(obs.LogLevel)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

// setup wires dependencies for one command run.
func setup(ctx context.Context) (*app.Dependencies, error) {
	return app.NewDependencies(ctx, cfg, logger)
}

func runAsk(cmd *cobra.Command, args []string) error {
	m, err := routing.ParseMode(mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := setup(ctx)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	prompt := strings.Join(args, " ")
	resp, err := deps.Router.QueueRequest(ctx, prompt, nil, m)
	if err != nil {
		return err
	}

	fmt.Println(resp.Content)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := setup(ctx)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	results := deps.Router.HealthCheck(probeCtx)

	// Registry order is the configured fallback order.
	for _, t := range deps.Registry.Types() {
		state := "unavailable"
		if results[t] {
			state = "ok"
		}
		fmt.Printf("%-12s %s\n", string(t), state)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := setup(ctx)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	if deps.History == nil {
		return fmt.Errorf("history persistence is disabled")
	}

	entries, err := deps.History.Recent(ctx, 20)
	if err != nil {
		return err
	}

	for _, e := range entries {
		outcome := "ok"
		if !e.Success {
			outcome = "failed: " + e.Error
		}
		ts := time.Unix(e.CreatedAt, 0).Format(time.RFC3339)
		fmt.Printf("%s  %-12s %6dms  %s\n", ts, e.Provider, e.LatencyMs, outcome)
	}
	return nil
}

func runDiag(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := setup(ctx)
	if err != nil {
		return err
	}
	defer deps.Close(context.Background())

	srv := &http.Server{
		Addr:              deps.Config.Diagnostics.Addr,
		Handler:           routes.SetupRoutes(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("diagnostics server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
