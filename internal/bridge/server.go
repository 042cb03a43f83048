package bridge

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type chatRequest struct {
	SessionID   string `json:"session_id"`
	Message     string `json:"message"`
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// NewServer wires the turn handler into an echo instance. Empty paths fall
// back to /healthz and /metrics.
func NewServer(b *Bridge, log zerolog.Logger, healthPath, metricsPath string) *echo.Echo {
	if healthPath == "" {
		healthPath = "/healthz"
	}
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET(healthPath, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))

	e.POST("/chat", func(c echo.Context) error {
		var req chatRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
		// The token rides either in the Authorization header or in the
		// body for clients that cannot set headers.
		token := bearerToken(c.Request())
		if token == "" {
			token = strings.TrimSpace(req.AccessToken)
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing access token"})
		}
		req.SessionID = strings.TrimSpace(req.SessionID)
		req.Message = strings.TrimSpace(req.Message)
		if req.SessionID == "" || req.Message == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "session_id and message are required"})
		}

		text, err := b.HandleTurn(c.Request().Context(), token, req.SessionID, req.Message)
		if err != nil {
			switch {
			case errors.Is(err, ErrUpstreamUnavailable):
				return c.JSON(http.StatusBadGateway, map[string]string{"error": "chat history unavailable"})
			default:
				log.Error().Err(err).Str("session_id", req.SessionID).Msg("turn failed")
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to generate a response"})
			}
		}
		return c.JSON(http.StatusOK, chatResponse{Response: text})
	})

	return e
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
