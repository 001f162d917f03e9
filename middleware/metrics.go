package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"scholars-backend/metrics"
)

// Metrics records request counts and latency per route.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		metrics.RecordHTTPRequest(c.Route().Path, c.Method(), strconv.Itoa(status), float64(time.Since(start).Microseconds())/1000)
		return err
	}
}
