package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scholars-backend/controllers"
	"scholars-backend/metrics"
	"scholars-backend/middleware"
)

type Handlers struct {
	Auth    *controllers.AuthController
	Results *controllers.ResultsController
	Secret  []byte
}

func Setup(app *fiber.App, h Handlers) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})))

	api := app.Group("/api/admin", middleware.Metrics())
	api.Post("/auth/login", h.Auth.Login)

	admin := api.Group("", middleware.RequireAdmin(h.Secret))
	admin.Get("/me", h.Auth.Me)

	competition := admin.Group("/competitions/:competition")
	competition.Post("/registrations", h.Results.SeedRegistrations)
	competition.Post("/uploads", h.Results.CreateUpload)
	competition.Get("/uploads/:upload", h.Results.GetUpload)
	competition.Put("/uploads/:upload/mapping", h.Results.PutMapping)
	competition.Post("/uploads/:upload/validate", h.Results.Validate)
	competition.Post("/uploads/:upload/publish", h.Results.Publish)
	competition.Post("/rollback", h.Results.Rollback)
	competition.Get("/history", h.Results.History)
}
