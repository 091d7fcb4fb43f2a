package main

import (
	"github.com/spf13/cobra"

	"workflowup/backend/internal/repository"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [up|down|status|version|redo|reset]",
		Short: "Run schema migrations",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) > 0 {
				command = args[0]
			}
			ctx := cmd.Context()
			pool, err := a.openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(ctx, pool, command, args[min(1, len(args)):]...); err != nil {
				return err
			}
			a.logger.Info("migrations applied", "command", command)
			return nil
		},
	}
}
