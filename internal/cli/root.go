package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	config "supplychain-iq-api/configs"
	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/server"
)

var (
	envFile  string
	dataDir  string
	logLevel string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "supplychainctl",
	Short: "Supply chain analytics toolkit",
	Long: `supplychainctl generates synthetic supply chain data, forecasts item demand
and answers questions over the inventory and supplier records.

Example usage:
  supplychainctl generate --rows 5000        # Write synthetic tables to ./data
  supplychainctl forecast --item 12 -p 14    # Forecast item 12 for 14 days
  supplychainctl index                       # Rebuild the retrieval index
  supplychainctl ask -q "which suppliers are risky?"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		} else {
			_ = godotenv.Load()
		}

		cfg = config.LoadConfig()
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		// CLIは一度きりの実行なので監視しない
		cfg.WatchDataDir = false

		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		var err error
		logger, err = logging.New(cfg.Environment, level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute はルートコマンドを実行します。失敗時は終了コード1
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file to load (default ./.env if present)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "data directory (default from DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
}

// newApp はコマンド用にサービス一式を組み立てる
func newApp(cmd *cobra.Command) (*server.App, error) {
	app, err := server.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return app, nil
}
