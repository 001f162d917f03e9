package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"

	"scholars-backend/config"
	"scholars-backend/controllers"
	"scholars-backend/logging"
	"scholars-backend/routes"
	"scholars-backend/services"
)

const tokenTTL = 12 * time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	svc, err := services.New(ctx, cfg, logger, services.Options{})
	if err != nil {
		return err
	}
	defer svc.Close()

	app := fiber.New(fiber.Config{BodyLimit: cfg.BodyLimit})
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	secret := []byte(cfg.JWTSecret)
	routes.Setup(app, routes.Handlers{
		Auth:    controllers.NewAuthController(svc.Users, secret, tokenTTL, logger),
		Results: controllers.NewResultsController(svc.Repo, svc.Validator, svc.Publisher, controllers.NewUploadStore(cfg.UploadTTL), logger),
		Secret:  secret,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server running", zap.String("addr", cfg.Addr))
		errCh <- app.Listen(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
