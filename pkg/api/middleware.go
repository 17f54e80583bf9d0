package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// secureCompare reports whether a and b are equal, in time independent of
// where they first differ.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// bearerAuth rejects requests missing "Authorization: Bearer <token>" where
// token matches the value tokenFn returns, evaluated per-request so a
// rotated token takes effect without restarting the route. An empty
// expected token fails closed (§7: a misconfigured secret must never
// behave like "auth disabled").
func bearerAuth(tokenFn func() string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			expected := tokenFn()
			if expected == "" {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "replay endpoint not configured")
			}
			got := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if got == "" || !secureCompare(got, expected) {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}
			return next(c)
		}
	}
}
