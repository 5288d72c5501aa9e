package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers every endpoint of this API
// carries. Appointment data is PHI, so responses must never be cached,
// embedded or sniffed.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")

			// The legacy XSS filter is off; the CSP below does the work.
			h.Set("X-XSS-Protection", "0")

			// JSON-only API: nothing loads resources, nothing embeds us.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			// Appointment and patient payloads must not land in any cache.
			h.Set("Cache-Control", "no-store")

			return next(c)
		}
	}
}
