package middleware

import "github.com/labstack/echo/v4"

// Context keys set by JWTAuth.
const (
	KeyUserID = "user_id"
	KeyRole   = "role"
)

// UserID returns the authenticated subject, or "" for anonymous requests.
func UserID(c echo.Context) string {
	if s, ok := c.Get(KeyUserID).(string); ok {
		return s
	}
	return ""
}
