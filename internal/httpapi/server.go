// Package httpapi is the backend REST surface: accounts, profiles, chat
// sessions and transcripts, subscriptions and support.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sportmate/internal/crypto"
	"sportmate/internal/gate"
	"sportmate/internal/queue"
	"sportmate/internal/storage"
	"sportmate/internal/token"
)

type Server struct {
	store    *storage.Store
	gate     *gate.Gate
	queue    *queue.StreamQueue
	tokens   *token.Manager
	crypto   *crypto.Manager
	payments PaymentProvider

	bridgeURL  string
	httpClient *http.Client
	log        zerolog.Logger
}

type Options struct {
	Store      *storage.Store
	Gate       *gate.Gate
	Queue      *queue.StreamQueue
	Tokens     *token.Manager
	Crypto     *crypto.Manager
	Payments   PaymentProvider
	BridgeURL  string
	HTTPClient *http.Client
	// HealthPath and MetricsPath default to /healthz and /metrics.
	HealthPath  string
	MetricsPath string
	Log         zerolog.Logger
}

func NewServer(opts Options) *echo.Echo {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/healthz"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		store:      opts.Store,
		gate:       opts.Gate,
		queue:      opts.Queue,
		tokens:     opts.Tokens,
		crypto:     opts.Crypto,
		payments:   opts.Payments,
		bridgeURL:  strings.TrimSuffix(opts.BridgeURL, "/"),
		httpClient: opts.HTTPClient,
		log:        opts.Log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET(opts.HealthPath, s.health)
	e.GET(opts.MetricsPath, echo.WrapHandler(promhttp.Handler()))

	auth := e.Group("/auth")
	auth.POST("/sign-up", s.signUp)
	auth.POST("/login", s.login)
	auth.POST("/refresh", s.refresh)
	auth.GET("/about", s.about, s.requireAuth)
	auth.POST("/about", s.updateAbout, s.requireAuth)

	chat := e.Group("/c", s.requireAuth)
	chat.POST("/chatbot/:session_id", s.chatbot)
	chat.GET("/chat-history/:session_id", s.chatHistory)
	chat.POST("/history/", s.appendHistory)
	chat.GET("/chatclass/", s.listSessions)
	chat.POST("/create-chat-class/", s.createSession)
	chat.POST("/chat-save/:session_id", s.saveChat)
	chat.GET("/saved/", s.listSaved)
	chat.GET("/export-chat-history/:session_id", s.exportHistory)

	pay := e.Group("/payments")
	pay.POST("/create-checkout-session/", s.createCheckout, s.requireAuth)
	pay.POST("/free-trial/", s.freeTrial, s.requireAuth)
	pay.GET("/setting/", s.subscription, s.requireAuth)
	pay.DELETE("/setting/", s.cancelSubscription, s.requireAuth)
	pay.POST("/webhook/", s.webhook)
	pay.GET("/success/", s.checkoutSuccess)
	pay.GET("/cancel/", s.checkoutCancel)

	e.POST("/o/help-and-support/", s.helpAndSupport, s.requireAuth)

	return e
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
