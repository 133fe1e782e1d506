package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/lms-gateway/internal/utils"
)

// Locals keys set by the JWT middlewares.
const (
	LocalUserID      = "user_id"
	LocalAccessToken = "access_token"
)

// JWTProtected returns a middleware that validates JWT bearer tokens issued by the LMS backend.
// The raw token is kept so the gateway can forward it on backend calls.
func JWTProtected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := authorizationFrom(c)
		if authorization == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		if err := authenticate(c, secret, authorization); err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		return c.Next()
	}
}

// JWTOptional authenticates the caller when a bearer token is present and lets
// anonymous requests through. An invalid token is still rejected.
func JWTOptional(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authorization := authorizationFrom(c)
		if authorization == "" {
			return c.Next()
		}

		if err := authenticate(c, secret, authorization); err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		return c.Next()
	}
}

// authorizationFrom falls back to the access_token query parameter because
// EventSource and browser websockets cannot set request headers.
func authorizationFrom(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		return header
	}
	if token := strings.TrimSpace(c.Query("access_token")); token != "" {
		return "Bearer " + token
	}
	return ""
}

func authenticate(c *fiber.Ctx, secret, authorization string) error {
	const bearer = "Bearer "
	if len(authorization) < len(bearer) || !strings.EqualFold(authorization[:len(bearer)], bearer) {
		return fmt.Errorf("invalid authorization header")
	}

	tokenString := strings.TrimSpace(authorization[len(bearer):])
	if tokenString == "" {
		return fmt.Errorf("invalid token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("invalid token claims")
	}

	userID := extractUserIDFromClaims(claims)
	if userID == "" {
		return fmt.Errorf("token subject missing")
	}

	c.Locals(LocalUserID, userID)
	c.Locals(LocalAccessToken, tokenString)
	return nil
}

func extractUserIDFromClaims(claims jwt.MapClaims) string {
	keys := []string{"sub", "userId", "user_id", "id", "_id"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if normalized := normalizeUserID(value); normalized != "" {
				return normalized
			}
		}
	}
	return ""
}

// normalizeUserID accepts string ids (backend object ids) as well as numeric subjects.
func normalizeUserID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return ""
		}
		return strconv.FormatInt(int64(v), 10)
	case int:
		if v < 0 {
			return ""
		}
		return strconv.Itoa(v)
	default:
		return ""
	}
}
