package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nudge/internal/auth"
	"nudge/internal/config"
	"nudge/internal/db"
	"nudge/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "nudge",
	Short: "Deferred notification scheduling and suppression engine",
	Long: `nudge schedules reminder and nurture notifications for prospects,
investors, capital call line items and team invites, and cancels them when
the entity's state moves on.
`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(logger.Config{Environment: cfg.Env, Level: cfg.LogLevel, Service: "nudge"})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the notification jobs table and its indexes",
		Long:  "Creates the notification_jobs table used by the postgres broker, in the database named by NUDGE_QUEUE_URL (or DATABASE_URL).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			dsn := cfg.QueueURL
			if dsn == "" || !isPostgres(dsn) {
				dsn = cfg.DatabaseURL
			}
			if dsn == "" {
				return fmt.Errorf("missing env: NUDGE_QUEUE_URL or DATABASE_URL")
			}
			gdb, err := db.Connect(dsn)
			if err != nil {
				return err
			}
			if err := db.AutoMigrateAndIndexes(gdb); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <service>",
		Short: "Mint a service token for the ingest API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Require("JWT_SECRET"); err != nil {
				return err
			}
			tok, err := auth.NewJWT(cfg.JWTSecret).Sign(args[0], ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}
