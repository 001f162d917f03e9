package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"scholars-backend/middleware"
	"scholars-backend/models"
)

type AuthController struct {
	users    models.AdminStore
	secret   []byte
	ttl      time.Duration
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAuthController(users models.AdminStore, secret []byte, ttl time.Duration, logger *zap.Logger) *AuthController {
	return &AuthController{
		users:    users,
		secret:   secret,
		ttl:      ttl,
		validate: validator.New(),
		logger:   logger.Named("auth"),
	}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var data LoginRequest
	if err := c.BodyParser(&data); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input"})
	}
	if err := ac.validate.Struct(data); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input"})
	}

	user, err := ac.users.FindByEmail(c.UserContext(), data.Email)
	if errors.Is(err, models.ErrUserNotFound) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
	}
	if err != nil {
		ac.logger.Error("load admin user", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Login failed"})
	}

	if !user.CheckPassword(data.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
	}

	tokenString, err := middleware.IssueToken(ac.secret, user.ID, user.Email, ac.ttl)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create token"})
	}

	ac.logger.Info("admin logged in", zap.String("email", user.Email))
	return c.JSON(fiber.Map{"token": tokenString})
}

func (ac *AuthController) Me(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"id":    c.Locals(middleware.LocalUserID),
		"email": c.Locals(middleware.LocalEmail),
	})
}
