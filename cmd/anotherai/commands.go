package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/anotherai-dev/anotherai-sub001/internal/backoff"
	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/config"
	"github.com/anotherai-dev/anotherai-sub001/internal/deployments"
	"github.com/anotherai-dev/anotherai-sub001/internal/gateway"
	"github.com/anotherai-dev/anotherai-sub001/internal/observability"
	"github.com/anotherai-dev/anotherai-sub001/internal/pipeline"
	"github.com/anotherai-dev/anotherai-sub001/internal/playground"
	"github.com/anotherai-dev/anotherai-sub001/internal/providers"
	"github.com/anotherai-dev/anotherai-sub001/internal/runner"
	"github.com/anotherai-dev/anotherai-sub001/internal/storage"
)

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "anotherai",
		Short:         "LLM inference gateway",
		Long:          "anotherai routes OpenAI-compatible chat completions to upstream LLM providers\nwith normalization, retries, fallback, cost tracking, experiments, and deployments.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildModelsCmd(),
		buildCheckCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Example: `  # Start with defaults (SQLite in ./anotherai.db, port 8080)
  anotherai serve

  # Start with a config file
  anotherai serve --config /etc/anotherai/production.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	stores, err := storage.NewSQLiteStores(cfg.Database.Path, storage.DefaultSQLiteConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer stores.Close()

	providerConfigs := config.ProviderConfigsFromEnv()
	if len(providerConfigs) == 0 {
		logger.Warn("no provider credentials configured; every completion will fail",
			slog.String("hint", "set OPENAI_API_KEY, ANTHROPIC_API_KEY, ..."))
	}
	registry := providers.NewRegistry(ctx, providerConfigs, logger)
	models := catalog.Default()

	pipe := pipeline.New(registry, models)
	pipe.Backoff = backoff.Default()
	run := runner.New(pipe, logger)
	run.MaxToolCallIterations = cfg.Runner.MaxToolCallIterations
	run.Tracer = observability.NewTracer()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	pg := playground.New(run, stores, logger)
	dep := deployments.New(stores.Versions, stores.Deployments)

	srv := gateway.New(run, pg, dep, stores, models, metrics, logger)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			slog.String("addr", addr),
			slog.Int("providers", len(providerConfigs)),
			slog.String("database", cfg.Database.Path))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		RunE: func(_ *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tCONTEXT\tPROVIDERS")
			for _, m := range catalog.Default().List() {
				providersCol := ""
				for i, p := range m.Providers {
					if i > 0 {
						providersCol += ","
					}
					providersCol += string(p.Provider)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", m.ID, m.MaxTokens.ContextWindow, providersCol)
			}
			return w.Flush()
		},
	}
}

func buildCheckCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify configured provider credentials",
		Long:  "Pings every provider that has credentials in the environment and reports\nwhether the credentials are accepted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configs := config.ProviderConfigsFromEnv()
			if len(configs) == 0 {
				return fmt.Errorf("no provider credentials found in the environment")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			registry := providers.NewRegistry(ctx, configs, logger)

			failed := 0
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tCONFIG\tSTATUS")
			for _, p := range registry.Providers() {
				for _, adapter := range registry.Adapters(p) {
					status := "ok"
					if !adapter.CheckValid(ctx) {
						status = "FAILED"
						failed++
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", p, adapter.Config().ID, status)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d credential check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall check timeout")
	return cmd
}
