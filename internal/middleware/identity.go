package middleware

import (
	"github.com/labstack/echo/v4"
)

// Roles carried in the "role" claim.
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxEmail  = "email"
	ctxRole   = "role"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// IsAdmin reports whether the caller holds the ADMIN role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CurrentUser returns the identity JWTAuth stored on the context.  ok is
// false for unauthenticated requests.
func CurrentUser(c echo.Context) (Identity, bool) {
	id, _ := c.Get(ctxUserID).(string)
	if id == "" {
		return Identity{}, false
	}
	email, _ := c.Get(ctxEmail).(string)
	role, _ := c.Get(ctxRole).(string)
	return Identity{UserID: id, Email: email, Role: role}, true
}

// userID returns the caller id for keying, or "anon".
func userID(c echo.Context) string {
	if u, ok := CurrentUser(c); ok {
		return u.UserID
	}
	return "anon"
}
