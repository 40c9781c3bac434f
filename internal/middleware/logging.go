package middleware

import (
	"time"

	"PoseService/pkg/log"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type loggingMiddleware struct {
	logger *logrus.Logger
}

func newLoggingMiddleware(logger *logrus.Logger) *loggingMiddleware {
	return &loggingMiddleware{
		logger: logger,
	}
}

// NewLoggingMiddleware writes one access line per HTTP request, including
// websocket upgrades.
func (m *middleware) NewLoggingMiddleware(c *fiber.Ctx) error {
	start := time.Now()

	err := c.Next()

	latency := time.Since(start)
	status := c.Response().StatusCode()

	logFields := log.Fields{
		"request_id": m.GetRequestID(c),
		"method":     c.Method(),
		"path":       c.Path(),
		"status":     status,
		"latency_ms": latency.Milliseconds(),
		"ip":         c.IP(),
		"user_agent": c.Get(fiber.HeaderUserAgent),
	}
	if c.Query("token") != "" {
		logFields["token"] = "[SECRET]"
	}

	entry := m.loggingMiddleware.logger.WithFields(logrus.Fields(logFields))
	switch {
	case status >= 500:
		entry.Error("Server error")
	case status >= 400:
		entry.Warn("Client error")
	default:
		entry.Info("Success")
	}

	return err
}
