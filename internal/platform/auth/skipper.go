package auth

import (
	"github.com/labstack/echo/v4"
)

// publicRoutes can be reached without a bearer token. Validation and
// emergency resolution are presented by devices and first responders that
// hold only the opaque access token.
var publicRoutes = map[string]bool{
	"/health":                   true,
	"/health/db":                true,
	"/api/v1/sessions/validate": true,
	"/api/v1/emergency/:token":  true,
}

// IsPublicRoute reports whether the matched route may be called anonymously.
func IsPublicRoute(c echo.Context) bool {
	return publicRoutes[c.Path()]
}
