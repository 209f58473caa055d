package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAdminApp(t *testing.T, hash string) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Use(HTTPMetrics())
	app.Get("/admin", AdminTokenAuth(hash), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestAdminTokenAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	app := newAdminApp(t, string(hash))

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"no token", nil, fiber.StatusUnauthorized},
		{"wrong token", map[string]string{AdminTokenHeader: "nope"}, fiber.StatusUnauthorized},
		{"header token", map[string]string{AdminTokenHeader: "s3cret"}, fiber.StatusOK},
		{"bearer token", map[string]string{"Authorization": "Bearer s3cret"}, fiber.StatusOK},
		{"basic auth is not accepted", map[string]string{"Authorization": "Basic s3cret"}, fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAdminTokenAuth_DisabledWithoutHash(t *testing.T) {
	app := newAdminApp(t, "  ")
	req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
	req.Header.Set(AdminTokenHeader, "anything")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestHashAdminToken(t *testing.T) {
	hash, err := HashAdminToken("token-1")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("token-1")))
}
