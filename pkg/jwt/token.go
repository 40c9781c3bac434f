package jwtPkg

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken       = errors.New("empty token")
	ErrNoSecret      = errors.New("token secret not configured")
	ErrInvalidHeader = errors.New("invalid Authorization format")
)

// Sign issues an HS256 token carrying data and an exp claim.
func Sign(secret string, data map[string]interface{}, expiredAt time.Duration) (string, int64, error) {
	if secret == "" {
		return "", 0, ErrNoSecret
	}

	exp := time.Now().Add(expiredAt).Unix()

	claims := jwt.MapClaims{}
	for k, v := range data {
		claims[k] = v
	}
	claims["exp"] = exp

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", 0, err
	}

	return signed, exp, nil
}

// Verify parses an HS256 token and checks its signature and expiry.
func Verify(accessToken string, secret string) (*jwt.Token, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, ErrNoToken
	}

	return jwt.Parse(accessToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter for clients that cannot set headers on a
// websocket upgrade.
func TokenFromRequest(c *fiber.Ctx) (string, error) {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", ErrInvalidHeader
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}

	if token := c.Query("token"); token != "" {
		return token, nil
	}

	return "", ErrNoToken
}
