package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// HMACKeyfunc verifies HS256 tokens signed with secret.
func HMACKeyfunc(secret string) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}
}

// JWKSKeyfunc fetches the key set at url and keeps it refreshed in the
// background until ctx is done.  Hosted identity providers publish their
// signing keys this way.
func JWKSKeyfunc(ctx context.Context, url string, logger *slog.Logger) (jwt.Keyfunc, error) {
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks refresh failed", "url", url, "err", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load jwks: %w", err)
	}
	return jwks.Keyfunc, nil
}

// JWTAuth validates the Bearer token with keyFunc and stores the caller's
// id (sub), email and role on the context.  A token without a role claim
// is treated as a customer.
func JWTAuth(keyFunc jwt.Keyfunc) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithLeeway(30*time.Second), jwt.WithExpirationRequired())
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !tok.Valid {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg})
			}

			sub, _ := claims.GetSubject()
			if sub == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			email, _ := claims["email"].(string)
			role, _ := claims["role"].(string)
			if role == "" {
				role = RoleCustomer
			}
			c.Set(ctxUserID, sub)
			c.Set(ctxEmail, email)
			c.Set(ctxRole, strings.ToUpper(role))
			return next(c)
		}
	}
}
