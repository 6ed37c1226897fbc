package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-orm/internal/config"
	"chaos-orm/internal/engine"
)

var testAuth = config.AuthConfig{Secret: "s3cret", Issuer: "chaos", TokenTTL: time.Minute}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken(testAuth, "u1", []string{"admin"})
	require.NoError(t, err)

	claims, err := ParseAccessToken(testAuth, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "chaos", claims.Issuer)
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("editor"))
	assert.NotEmpty(t, claims.ID)
}

func TestParseAccessTokenRejects(t *testing.T) {
	token, err := GenerateAccessToken(testAuth, "u1", nil)
	require.NoError(t, err)

	other := testAuth
	other.Secret = "other"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)

	other = testAuth
	other.Issuer = "elsewhere"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)

	fallback := testAuth
	fallback.TokenTTL = -time.Minute
	token, err = GenerateAccessToken(fallback, "u1", nil)
	require.NoError(t, err)
	// A non-positive TTL falls back to the default.
	_, err = ParseAccessToken(testAuth, token)
	assert.NoError(t, err)

	_, err = GenerateAccessToken(config.AuthConfig{}, "u1", nil)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	app.Get("/me", Middleware(testAuth), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	app.Get("/admin", Middleware(testAuth), RequireRole("admin"), func(c *fiber.Ctx) error {
		return c.SendStatus(204)
	})

	admin, err := GenerateAccessToken(testAuth, "u1", []string{"admin"})
	require.NoError(t, err)
	viewer, err := GenerateAccessToken(testAuth, "u2", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"missing header", "/me", "", 401},
		{"wrong scheme", "/me", "Basic abc", 401},
		{"bad token", "/me", "Bearer nope", 401},
		{"valid token", "/me", "Bearer " + viewer, 200},
		{"role missing", "/admin", "Bearer " + viewer, 403},
		{"role present", "/admin", "Bearer " + admin, 204},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
