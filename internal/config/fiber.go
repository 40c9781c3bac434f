package config

import (
	"errors"

	"PoseService/internal/middleware"
	"PoseService/pkg/log"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
)

func NewFiber(cfg *Config) *fiber.App {
	bodyLimit := 4 * 1024 * 1024
	if cfg != nil && cfg.WSMaxMessageBytes > 0 {
		bodyLimit = int(cfg.WSMaxMessageBytes)
	}

	app := fiber.New(
		fiber.Config{
			AppName:               "Pose Service",
			BodyLimit:             bodyLimit,
			DisableKeepalive:      false,
			DisableStartupMessage: true,
			StrictRouting:         true,
			CaseSensitive:         true,
			JSONEncoder:           jsoniter.Marshal,
			JSONDecoder:           jsoniter.Unmarshal,
			ErrorHandler:          errorHandler,
		})

	return app
}

// errorHandler keeps fiber's status codes but answers in JSON and logs
// server-side failures under a trace id the client can quote.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	body := fiber.Map{"message": err.Error()}
	if code >= fiber.StatusInternalServerError {
		requestID, _ := c.Locals(middleware.RequestIDKey).(string)
		body["traceId"] = log.ErrorWithTraceID(log.Fields{
			log.RequestIDKey: requestID,
			"path":           c.Path(),
			"error":          err.Error(),
		}, "Unhandled channel server error")
		body["message"] = "internal server error"
	}

	return c.Status(code).JSON(body)
}
