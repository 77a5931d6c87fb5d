package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facesampler/internal/config"
	"github.com/andresmejia3/facesampler/internal/logging"
	"github.com/andresmejia3/facesampler/internal/store"
	"github.com/andresmejia3/facesampler/internal/utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// DB is the run ledger shared by subcommands. It stays nil when no database is configured.
	DB *store.Store
	// Cfg is the resolved configuration, loaded before any subcommand runs.
	Cfg *config.Config

	configPath string
	dbURL      string
	logLevel   string
	logJSON    bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "facesampler",
	Short:         "Build labeled face-crop datasets from real and fake videos",
	Version:       Version, // This enables the --version flag
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		// Flags beat the file and the environment.
		flags := cmd.Flags()
		if flags.Changed("db") {
			Cfg.DatabaseURL = dbURL
		}
		if flags.Changed("log-level") {
			Cfg.Log.Level = logLevel
		}
		if flags.Changed("log-json") {
			Cfg.Log.JSON = logJSON
		}
		if err := logging.Init(Cfg.Log.Level, Cfg.Log.JSON); err != nil {
			return err
		}

		if Cfg.DatabaseURL == "" {
			log.Debug().Msg("no database configured, run ledger disabled")
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if DB != nil {
			DB.Close(context.Background())
		}
		stop()
		utils.Die("Command failed", err, nil)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run ledger (default: $FACESAMPLER_DATABASE_URL or POSTGRES_*)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON log lines instead of console output")
}
