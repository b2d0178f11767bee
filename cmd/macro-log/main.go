// cmd/macro-log/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mcp-macro-log/internal/config"
	"mcp-macro-log/internal/draft"
	"mcp-macro-log/internal/identity"
	"mcp-macro-log/internal/server"
	"mcp-macro-log/internal/storage"
	"mcp-macro-log/internal/tracker"
)

var (
	configPath string
	debug      bool

	host     string
	port     int
	dbPath   string
	tokenTTL time.Duration
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "macro-log",
	Short: "Macro nutrient meal log served as MCP tools",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if debug {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
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

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP tool server",
	RunE:  runServe,
}

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Mint a bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mcp-macro-log version %s\n", server.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	serveCmd.Flags().StringVar(&host, "host", "", "Host address (overrides config)")
	serveCmd.Flags().IntVar(&port, "port", 0, "Port for HTTP transport (overrides config)")
	serveCmd.Flags().StringVar(&dbPath, "db-path", "", "SQLite database path (overrides config)")

	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "Token lifetime; 0 means no expiry")

	rootCmd.AddCommand(serveCmd, tokenCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath, func(cfg *config.Config) {
		if host != "" {
			cfg.Server.Host = host
		}
		if port != 0 {
			cfg.Server.Port = port
		}
		if dbPath != "" {
			cfg.Storage.DBPath = dbPath
		}
	})
}

func openStore(cfg config.StorageConfig) (tracker.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return storage.NewPostgresStorage(cfg.PostgresDsn)
	default:
		return storage.NewSQLiteStorage(cfg.DBPath)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tokens, err := identity.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	svc := tracker.New(store, draft.NewRegistry(cfg.Draft.TTL), logger.Named("tracker"))
	srv, err := server.NewMacroLogServer(cfg.Server, svc, tokens, server.NewEstimator(cfg.Estimator), logger.Named("server"))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", zap.Error(err))
	}
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	tokens, err := identity.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	tok, err := tokens.Issue(args[0], tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
