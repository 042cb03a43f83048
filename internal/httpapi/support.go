package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

func (s *Server) helpAndSupport(c echo.Context) error {
	var req struct {
		Email       string `json:"email"`
		Description string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		return errJSON(c, http.StatusBadRequest, "description is required")
	}

	sr, err := s.store.CreateSupportRequest(c.Request().Context(), userID(c), strings.TrimSpace(req.Email), req.Description)
	if err != nil {
		s.log.Error().Err(err).Msg("create support request")
		return errJSON(c, http.StatusInternalServerError, "could not submit the request")
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": sr.ID, "status": "received"})
}
