package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"
)

// AdminTokenHeader carries the admin API token. A bearer token works as well.
const AdminTokenHeader = "X-Admin-Token"

// AdminTokenAuth authenticates admin API requests against a bcrypt hash of
// the admin token. An empty hash locks the admin API.
func AdminTokenAuth(tokenHash string) fiber.Handler {
	hash := []byte(strings.TrimSpace(tokenHash))
	if len(hash) == 0 {
		log.Warn("[Admin] ADMIN_API_TOKEN_HASH is not set, admin API is disabled")
	}

	return func(c *fiber.Ctx) error {
		if len(hash) == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "admin_disabled", "message": "Admin API is not configured"})
		}

		token := extractAdminToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing admin token"})
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
			if err != bcrypt.ErrMismatchedHashAndPassword {
				log.Errorf("[Admin] Token verification failed: %v", err)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin token"})
		}
		return c.Next()
	}
}

// HashAdminToken returns the bcrypt hash to store in ADMIN_API_TOKEN_HASH.
func HashAdminToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func extractAdminToken(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get(AdminTokenHeader))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
