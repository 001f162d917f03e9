// Command resultsctl runs the results pipeline from a shell against the
// configured database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scholars-backend/config"
	"scholars-backend/logging"
	"scholars-backend/services"
)

var rootCmd = &cobra.Command{
	Use:           "resultsctl",
	Short:         "Validate, publish and roll back competition results",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.AddCommand(validateCmd, publishCmd, rollbackCmd, historyCmd, seedCmd, adminCmd)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is what every subcommand needs: configuration, a logger and the
// assembled pipeline.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    *services.Services
}

func setup(ctx context.Context) (*env, func(), error) {
	cfg, err := config.LoadTool(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	svc, err := services.New(ctx, cfg, logger, services.Options{RequireDatabase: true})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	cleanup := func() {
		svc.Close()
		_ = logger.Sync()
	}
	return &env{cfg: cfg, logger: logger, svc: svc}, cleanup, nil
}
