package auth

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Claims issued by the hospital identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Role  string   `json:"role"`
	Roles []string `json:"roles"`
}

// role picks the first recognized role, preferring the single-valued claim.
func (c *Claims) role() Role {
	if c.Role != "" {
		return ParseRole(c.Role)
	}
	for _, r := range c.Roles {
		if role := ParseRole(r); role.Known() {
			return role
		}
	}
	if len(c.Roles) > 0 {
		return Role(c.Roles[0])
	}
	return ""
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// SigningKey verifies HS256 tokens.
	SigningKey []byte
	// PublicKey verifies RS256 tokens.
	PublicKey *rsa.PublicKey
	// Optional marks routes that may be called anonymously. A bearer token
	// presented on such a route is still verified.
	Optional func(c echo.Context) bool
}

func (cfg JWTConfig) keyFunc(t *jwt.Token) (interface{}, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(cfg.SigningKey) == 0 {
			return nil, fmt.Errorf("HS256 tokens are not accepted")
		}
		return cfg.SigningKey, nil
	case *jwt.SigningMethodRSA:
		if cfg.PublicKey == nil {
			return nil, fmt.Errorf("RS256 tokens are not accepted")
		}
		return cfg.PublicKey, nil
	}
	return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
}

// ParsePublicKeyPEM decodes an RSA public key for RS256 verification.
func ParsePublicKeyPEM(pem []byte) (*rsa.PublicKey, error) {
	return jwt.ParseRSAPublicKeyFromPEM(pem)
}

// JWTMiddleware verifies the bearer token and stores the Actor on the
// request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" && cfg.Optional != nil && cfg.Optional(c) {
				return next(c)
			}
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(strings.TrimSpace(tokenStr), claims, cfg.keyFunc)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			actor := Actor{ID: claims.Subject, Role: claims.role()}
			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			c.Set("actor_id", actor.ID)
			return next(c)
		}
	}
}

const (
	DevActorHeader = "X-Actor-ID"
	DevRoleHeader  = "X-Actor-Role"
)

// DevAuthMiddleware trusts the X-Actor-ID and X-Actor-Role headers and
// defaults to an administrator. Development only.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			actor := Actor{ID: "dev-admin", Role: RoleAdmin}
			if id := req.Header.Get(DevActorHeader); id != "" {
				actor.ID = id
				actor.Role = ParseRole(req.Header.Get(DevRoleHeader))
			}
			c.SetRequest(req.WithContext(WithActor(req.Context(), actor)))
			c.Set("actor_id", actor.ID)
			return next(c)
		}
	}
}
