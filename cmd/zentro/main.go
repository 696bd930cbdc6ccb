// Command zentro runs the project-management backend: the HTTP gateway with
// the conversational agent, schema migrations, the follow-up sweep, and
// config tooling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zentrohq/zentro/internal/agent"
	"github.com/zentrohq/zentro/internal/agent/providers"
	"github.com/zentrohq/zentro/internal/auth"
	"github.com/zentrohq/zentro/internal/checkpoint"
	"github.com/zentrohq/zentro/internal/config"
	"github.com/zentrohq/zentro/internal/cron"
	"github.com/zentrohq/zentro/internal/followup"
	"github.com/zentrohq/zentro/internal/gateway"
	"github.com/zentrohq/zentro/internal/observability"
	"github.com/zentrohq/zentro/internal/store"
	"github.com/zentrohq/zentro/internal/tools"
	"github.com/zentrohq/zentro/pkg/models"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "zentro",
		Short:         "Zentro project-management backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringP("config", "c", "zentro.yaml", "path to the config file")

	root.AddCommand(buildServeCmd())
	root.AddCommand(buildMigrateCmd())
	root.AddCommand(buildFollowUpCmd())
	root.AddCommand(buildConfigCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func buildLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return providers.NewOpenAIProvider(cfg.LLM.OpenAIAPIKey, cfg.LLM.BaseURL), nil
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.LLM.AnthropicAPIKey,
			BaseURL:      cfg.LLM.BaseURL,
			MaxRetries:   cfg.Agent.MaxRetries,
			RetryDelay:   cfg.Agent.RetryBaseDelay,
			DefaultModel: cfg.LLM.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func checkpointDSN(cfg *config.Config) string {
	if cfg.Checkpoint.DSN != "" {
		return cfg.Checkpoint.DSN
	}
	return cfg.Database.DSN
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and the agent runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := buildLogger(cfg)
	metrics := observability.NewMetrics()

	tracer, stopTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "zentro",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database.DSN, store.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger, metrics)
	if err != nil {
		return err
	}

	checkpoints, err := checkpoint.Open(checkpointDSN(cfg), cfg.Checkpoint.ReadyTimeout, logger, metrics)
	if err != nil {
		st.Close()
		return err
	}
	checkpoints.Start(context.Background())

	provider, err := buildProvider(cfg)
	if err != nil {
		checkpoints.Close()
		st.Close()
		return err
	}

	registry := tools.NewRegistry(st, logger, metrics)
	tools.RegisterCatalog(registry)

	runtime, err := agent.NewRuntime(agent.Config{
		Provider:      provider,
		Tools:         registry.AgentTools(),
		Checkpoints:   checkpoints,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
		Model:         cfg.LLM.Model,
		System:        cfg.Agent.SystemPrompt,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		MaxIterations: cfg.Agent.MaxIterations,
	})
	if err != nil {
		checkpoints.Close()
		st.Close()
		return err
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		checkpoints.Close()
		st.Close()
		return err
	}

	server, err := gateway.NewServer(gateway.Deps{
		Config:  cfg.Server,
		Logger:  logger,
		Metrics: metrics,
		Store:   st,
		Runtime: runtime,
		Issuer:  issuer,
	})
	if err != nil {
		checkpoints.Close()
		st.Close()
		return err
	}

	scheduler := cron.NewScheduler(logger)
	if cfg.FollowUp.Enabled {
		generator := followup.NewGenerator(provider, cfg.LLM.Model, cfg.Agent.MaxRetries, cfg.Agent.RetryBaseDelay, metrics)
		scanner := followup.NewScanner(st, generator, logger, metrics)
		if err := scheduler.Add("followup-sweep", cfg.FollowUp.Schedule, func(ctx context.Context) error {
			_, err := scanner.Run(ctx)
			return err
		}); err != nil {
			checkpoints.Close()
			st.Close()
			return fmt.Errorf("followup schedule: %w", err)
		}
		scheduler.Start(ctx)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-serveErr:
		logger.Error(context.Background(), "http server failed", "error", err)
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown incomplete", "error", err)
	}
	scheduler.Stop()
	if err := checkpoints.Close(); err != nil {
		logger.Error(shutdownCtx, "checkpoint close failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logger.Error(shutdownCtx, "store close failed", "error", err)
	}
	if err := stopTracer(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "tracer shutdown failed", "error", err)
	}
	return nil
}

func buildMigrateCmd() *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg)

			st, err := store.Open(cmd.Context(), cfg.Database.DSN, store.Options{}, logger, nil)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Migrate(cmd.Context())
		},
	})

	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg)

			st, err := store.Open(cmd.Context(), cfg.Database.DSN, store.Options{}, logger, nil)
			if err != nil {
				return err
			}
			defer st.Close()

			applied, err := st.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			for _, m := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", m.Name, m.AppliedAt.Format(time.RFC3339))
			}
			return nil
		},
	})
	return migrate
}

func buildFollowUpCmd() *cobra.Command {
	followUp := &cobra.Command{
		Use:   "followup",
		Short: "Overdue-task follow-up operations",
	}

	followUp.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one follow-up sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg)

			provider, err := buildProvider(cfg)
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), cfg.Database.DSN, store.Options{}, logger, nil)
			if err != nil {
				return err
			}
			defer st.Close()

			generator := followup.NewGenerator(provider, cfg.LLM.Model, cfg.Agent.MaxRetries, cfg.Agent.RetryBaseDelay, nil)
			scanner := followup.NewScanner(st, generator, logger, nil)

			created, err := scanner.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d follow-ups\n", created)
			return nil
		},
	})

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete acknowledged follow-ups older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg)

			olderThan, err := cmd.Flags().GetDuration("older-than")
			if err != nil {
				return err
			}

			st, err := store.Open(cmd.Context(), cfg.Database.DSN, store.Options{}, logger, nil)
			if err != nil {
				return err
			}
			defer st.Close()

			var purged int64
			err = st.WithTx(cmd.Context(), func(tx *store.Tx) error {
				var err error
				purged, err = tx.PurgeAcknowledgedFollowUps(cmd.Context(), time.Now().Add(-olderThan))
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d follow-ups\n", purged)
			return nil
		},
	}
	purge.Flags().Duration("older-than", 30*24*time.Hour, "acknowledged follow-ups older than this are deleted")
	followUp.AddCommand(purge)

	followUp.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show follow-up counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg)

			st, err := store.Open(cmd.Context(), cfg.Database.DSN, store.Options{}, logger, nil)
			if err != nil {
				return err
			}
			defer st.Close()

			var stats *models.FollowUpStats
			err = st.WithTx(cmd.Context(), func(tx *store.Tx) error {
				var err error
				stats, err = tx.AllFollowUpStats(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"pending\t%d\nsent\t%d\nacknowledged\t%d\ntotal\t%d\n",
				stats.Pending, stats.Sent, stats.Acknowledged, stats.Total)
			return nil
		},
	})
	return followUp
}

func buildConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Config file tooling",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Print a config file with all defaults filled in",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(config.Default())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the config JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	})
	return configCmd
}
