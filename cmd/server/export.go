package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"workflowup/backend/internal/archive"
	"workflowup/backend/internal/repository"
	"workflowup/backend/internal/services"
)

func newExportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <workflow-id>",
		Short: "Archive a workflow's activity log to object storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid workflow id %q", args[0])
			}
			ctx := cmd.Context()

			archiveCfg := archiveConfig(a)
			client, err := archive.NewClient(archiveCfg)
			if err != nil {
				return fmt.Errorf("archive: %w", err)
			}
			if err := archive.EnsureBucket(ctx, client, archiveCfg.Bucket, archiveCfg.Region); err != nil {
				return err
			}

			pool, err := a.openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := services.NewWorkflowService(repository.NewPostgresStore(pool), services.WithLogger(a.logger))
			key, err := archive.NewExporter(svc, client, archiveCfg.Bucket).ExportWorkflow(ctx, id)
			if err != nil {
				return err
			}
			a.logger.Info("workflow archived", "workflow_id", id, "bucket", archiveCfg.Bucket, "key", key)
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func archiveConfig(a *app) archive.Config {
	c := a.cfg.Archive
	return archive.Config{
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Region:    c.Region,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	}
}
