package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	ctxUserID = "user_id"
	ctxClaims = "claims"
)

func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := bearerToken(c.Request())
		if raw == "" {
			return errJSON(c, http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := s.tokens.VerifyAccess(raw)
		if err != nil {
			return errJSON(c, http.StatusUnauthorized, "invalid or expired token")
		}
		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxClaims, claims)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
