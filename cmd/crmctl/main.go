// Command crmctl performs operator tasks against the CRM database: applying
// the schema, bootstrapping the first admin and minting tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hongminglow/pipeline-crm/internal/auth"
	"github.com/hongminglow/pipeline-crm/internal/config"
	"github.com/hongminglow/pipeline-crm/internal/models"
	"github.com/hongminglow/pipeline-crm/internal/storage/postgres"
)

var rootCmd = &cobra.Command{
	Use:           "crmctl",
	Short:         "Operator tools for the CRM backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	_ = godotenv.Load()

	rootCmd.AddCommand(migrateCmd(), seedAdminCmd(), tokenCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*postgres.Store, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, err
	}
	if cfg.StorageDriver != config.DriverPostgres {
		return nil, cfg, fmt.Errorf("crmctl needs STORAGE_DRIVER=%s", config.DriverPostgres)
	}
	store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, cfg, err
	}
	return store, cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema and seed roles and permissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func seedAdminCmd() *cobra.Command {
	var email, password, name, business string
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create an Admin user attached to a new business",
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if email == "" || len(password) < 8 || strings.TrimSpace(business) == "" {
				return fmt.Errorf("--email, --business and a --password of at least 8 characters are required")
			}
			store, _, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			b, user, err := store.CreateBusinessWithOwner(cmd.Context(),
				models.Business{Name: strings.TrimSpace(business)},
				models.User{
					Email:        email,
					Name:         strings.TrimSpace(name),
					PasswordHash: hash,
					Role:         models.AdminRole,
				})
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %d (%s) created for business %d (%s)\n", user.ID, user.Email, b.ID, b.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email address")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	cmd.Flags().StringVar(&name, "name", "Administrator", "admin display name")
	cmd.Flags().StringVar(&business, "business", "", "business name")
	return cmd
}

func tokenCmd() *cobra.Command {
	var userID int64
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for an existing user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user-id is required")
			}
			store, cfg, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.FindByID(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("load user %d: %w", userID, err)
			}
			if ttl <= 0 {
				ttl = cfg.JWTTTL
			}
			token, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, ttl).Generate(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "id of the user to sign for")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to JWT_TTL_MINUTES")
	return cmd
}
