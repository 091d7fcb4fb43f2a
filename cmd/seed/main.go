package main

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"workflowup/backend/internal/config"
	"workflowup/backend/internal/engine"
	"workflowup/backend/internal/logging"
	"workflowup/backend/internal/repository"
	"workflowup/backend/pkg/models"
)

//go:embed users.yaml
var defaultUsers []byte

// userEntry is one user in the seed file. Role accepts the display names
// ParseRole understands; Active defaults to true.
type userEntry struct {
	Username  string `yaml:"username"`
	Email     string `yaml:"email"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Role      string `yaml:"role"`
	Active    *bool  `yaml:"active"`
}

type seedFile struct {
	Users []userEntry `yaml:"users"`
}

func main() {
	var configPath, usersPath string
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Create or update identity-store users",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Log.Format, cfg.Log.Level)

			data := defaultUsers
			if usersPath != "" {
				if data, err = os.ReadFile(usersPath); err != nil {
					return fmt.Errorf("read users file: %w", err)
				}
			}
			users, err := parseUsers(data)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
			if err != nil {
				return fmt.Errorf("failed to connect to DB: %w", err)
			}
			defer pool.Close()
			if err := repository.Migrate(ctx, pool, "up"); err != nil {
				return err
			}
			return seed(ctx, repository.NewPostgresStore(pool), users, logger, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.Flags().StringVar(&usersPath, "users", "", "YAML users file (default: built-in users)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parseUsers decodes and validates a seed file.
func parseUsers(data []byte) ([]models.User, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]models.User, 0, len(f.Users))
	for i, e := range f.Users {
		role, ok := models.ParseRole(e.Role)
		if !ok {
			return nil, fmt.Errorf("user %d (%s): unknown role %q", i+1, e.Username, e.Role)
		}
		u := models.User{
			Username:  engine.NormalizeUsername(e.Username),
			Email:     e.Email,
			FirstName: e.FirstName,
			LastName:  e.LastName,
			Role:      role,
			Active:    e.Active == nil || *e.Active,
		}
		if err := engine.ValidateUser(u); err != nil {
			return nil, fmt.Errorf("user %d (%s): %w", i+1, e.Username, err)
		}
		users = append(users, u)
	}
	return users, nil
}

// seed upserts users in a single transaction.
func seed(ctx context.Context, store repository.Store, users []models.User, logger *logging.Logger, out io.Writer) error {
	err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, u := range users {
			if err := tx.UpsertUser(ctx, u); err != nil {
				return fmt.Errorf("upsert %s: %w", u.Username, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, u := range users {
		logger.Info("Seeded user", "username", u.Username, "role", u.Role, "active", u.Active)
		fmt.Fprintf(out, "%-12s %-16s %s\n", u.Username, u.Role, u.Email)
	}
	logger.Info("Seeding complete", "users", len(users))
	return nil
}
