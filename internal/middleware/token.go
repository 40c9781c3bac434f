package middleware

import (
	jwtPkg "PoseService/pkg/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const ClaimsKey = "token_claims"

type tokenMiddleware struct {
	secret string
}

func newTokenMiddleware(secret string) *tokenMiddleware {
	return &tokenMiddleware{secret: secret}
}

// NewTokenMiddleware requires a valid HS256 bearer token when a secret is
// configured and passes everything through otherwise.
func (m *middleware) NewTokenMiddleware(ctx *fiber.Ctx) error {
	if m.token.secret == "" {
		return ctx.Next()
	}

	fields := logrus.Fields{
		"request_id": m.GetRequestID(ctx),
		"path":       ctx.Path(),
		"client_ip":  ctx.IP(),
	}

	raw, err := jwtPkg.TokenFromRequest(ctx)
	if err != nil {
		m.log.WithFields(fields).WithField("error", err.Error()).Warn("Authorization check")
		return unauthorized(ctx)
	}

	token, err := jwtPkg.Verify(raw, m.token.secret)
	if err != nil {
		m.log.WithFields(fields).WithField("error", err.Error()).Warn("Token verification failed")
		return unauthorized(ctx)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		ctx.Locals(ClaimsKey, claims)
	}

	m.log.WithFields(fields).Debug("Authentication successful")
	return ctx.Next()
}

func unauthorized(ctx *fiber.Ctx) error {
	return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Unauthorized, access token invalid or expired",
	})
}
