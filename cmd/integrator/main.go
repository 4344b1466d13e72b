package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"integrations-gateway/config"
	"integrations-gateway/internal/repository/postgres"
	"integrations-gateway/internal/transport/middleware"
)

func main() {
	// .env читается до viper, переменные окружения имеют приоритет
	_ = godotenv.Load()

	cfg := config.Load()
	setupLogger(cfg)

	root := &cobra.Command{
		Use:           "integrator",
		Short:         "Third-party integrations gateway: OAuth connect flows and webhook intake",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sqlx.Connect("postgres", cfg.DatabaseDSN)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			if err := postgres.RunMigrations(cmd.Context(), db.DB); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a random 32-byte hex key for ENCRYPTION_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			return nil
		},
	}

	var (
		userID   string
		tokenTTL time.Duration
	)
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session JWT for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			token, err := middleware.NewAuthMiddleware(cfg.JWTSecret, nil).GenerateJWT(userID, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&userID, "user", "", "user id placed into the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	root.AddCommand(serveCmd, migrateCmd, keygenCmd, tokenCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
