package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/10xr-agents/copilot-core/api/schemas"
	"github.com/10xr-agents/copilot-core/internal/agent"
	"github.com/10xr-agents/copilot-core/internal/config"
	"github.com/10xr-agents/copilot-core/internal/knowledge"
	"github.com/10xr-agents/copilot-core/internal/llmclient"
	"github.com/10xr-agents/copilot-core/internal/metrics"
	"github.com/10xr-agents/copilot-core/internal/observability"
	"github.com/10xr-agents/copilot-core/internal/server"
	"github.com/10xr-agents/copilot-core/internal/store"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the interaction API server",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			defer observability.Sync()

			var cfg config.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("failed to unmarshal config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			// Serve until interrupted.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, cleanup, err := buildRepository(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			llm, err := llmclient.NewClient(ctx, cfg.LLM, logger)
			if err != nil {
				return fmt.Errorf("failed to build LLM client: %w", err)
			}

			var retriever schemas.KnowledgeRetriever
			if cfg.Knowledge.Endpoint != "" {
				retriever, err = knowledge.NewHTTPRetriever(cfg.Knowledge, logger)
				if err != nil {
					return fmt.Errorf("failed to build knowledge retriever: %w", err)
				}
			} else {
				logger.Info("No knowledge endpoint configured, retrieval disabled")
				retriever = &knowledge.Static{}
			}

			m := metrics.New()
			orchestrator := agent.NewOrchestrator(logger, cfg.Agent, repo, llm, retriever, m)
			srv := server.New(logger, cfg.Server, orchestrator, m)

			return srv.Run(ctx)
		},
	}

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return serveCmd
}

// buildRepository selects the configured store backend.
func buildRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (schemas.Repository, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		pg, err := store.NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		return pg, pool.Close, nil
	case "", "memory":
		logger.Warn("Using in-memory store; task state will not survive restarts")
		return store.NewMemory(logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
