package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/guardian-location-service/internal/config"
	"github.com/sandeepkv93/guardian-location-service/internal/database"
	"github.com/sandeepkv93/guardian-location-service/internal/di"
	"github.com/sandeepkv93/guardian-location-service/internal/observability"
	"github.com/sandeepkv93/guardian-location-service/internal/security"
)

type options struct {
	envFile string
}

// loadConfig is swapped in tests.
var loadConfig = config.Load

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "guardiand",
		Short:         "Timed location sharing and panic escalation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.envFile != "" {
				_ = os.Setenv("ENV_FILE", opts.envFile)
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")
	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newTokenCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the session and escalation workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
			if err != nil {
				return err
			}
			a, err := di.InitializeApp(ctx, cfg, logger, lp)
			if err != nil {
				logger.Error("initialize app", "error", err)
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.Migrate(db); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return err
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a user id (development and testing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return mintToken(cmd.OutOrStdout(), cfg, subject, ttl)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user id to embed as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func mintToken(w io.Writer, cfg *config.Config, subject string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cfg.JWTAccessTTL
	}
	token, err := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret).SignAccessToken(subject, ttl)
	if err != nil {
		return fmt.Errorf("sign access token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// Execute runs the root command with a background context.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}
