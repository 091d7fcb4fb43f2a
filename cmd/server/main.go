package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"workflowup/backend/internal/config"
	"workflowup/backend/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs after configuration is loaded.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *logging.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "workflowup",
		Short:         "Release approval workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.NewLogger(cfg.Log.Format, cfg.Log.Level).With("service", "workflowup")
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file (default ./config.yaml)")

	root.AddCommand(newServeCommand(a), newMigrateCommand(a), newExportCommand(a))
	return root
}

// openPool connects to PostgreSQL and pings it.
func (a *app) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(a.cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if a.cfg.DB.MaxConns > 0 {
		poolConfig.MaxConns = a.cfg.DB.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
