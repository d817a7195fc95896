package admin

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/haoran127/costix/internal/httpserver/httputil"
)

const (
	authHeaderPrefix = "bearer "
	tenantLocalsKey  = "tenantID"
	subjectLocalsKey = "adminSubject"
)

// authMiddleware validates the HS256 bearer token and stashes the caller's
// tenant for the handlers. Tokens must carry a tenant_id claim.
func authMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		token := ""
		if raw != "" && strings.HasPrefix(strings.ToLower(raw), authHeaderPrefix) {
			token = strings.TrimSpace(raw[len(authHeaderPrefix):])
		}
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
		}

		tenantID, subject, err := parseToken(token, secret)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired token")
		}

		c.Locals(tenantLocalsKey, tenantID)
		c.Locals(subjectLocalsKey, subject)
		return c.Next()
	}
}

func parseToken(raw, secret string) (uuid.UUID, string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return uuid.Nil, "", err
	}
	if !token.Valid {
		return uuid.Nil, "", fmt.Errorf("invalid token")
	}

	rawTenant, _ := claims["tenant_id"].(string)
	tenantID, err := uuid.Parse(rawTenant)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("tenant_id claim: %w", err)
	}
	subject, _ := claims["sub"].(string)
	return tenantID, subject, nil
}

func tenantFromCtx(c *fiber.Ctx) (uuid.UUID, bool) {
	tenantID, ok := c.Locals(tenantLocalsKey).(uuid.UUID)
	return tenantID, ok
}
