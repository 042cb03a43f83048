package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"sportmate/internal/storage"
)

// priceCents maps plan durations to what checkout charges for them.
var priceCents = map[string]int64{
	storage.DurationWeek:  499,
	storage.DurationMonth: 999,
	storage.DurationYear:  4999,
}

const trialLength = 7 * 24 * time.Hour

// CheckoutResult is the settled payment extracted from a webhook event.
type CheckoutResult struct {
	UserID      string
	StripeID    string
	Duration    string
	AmountCents int64
}

type PaymentProvider interface {
	CreateCheckout(ctx context.Context, userID, duration string, amountCents int64) (url, sessionID string, err error)
	ParseWebhook(payload []byte, signature string) (*CheckoutResult, error)
}

// ErrIgnoredEvent marks webhook events the subscription flow does not act on.
var ErrIgnoredEvent = errors.New("payments: ignored event")

// StripeGateway implements PaymentProvider against the Stripe API. The user
// id rides along as the checkout client reference so the webhook can find
// the account without decrypting anything.
type StripeGateway struct {
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripeGateway(secretKey, webhookSecret, baseURL string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{
		webhookSecret: webhookSecret,
		successURL:    strings.TrimSuffix(baseURL, "/") + "/payments/success/",
		cancelURL:     strings.TrimSuffix(baseURL, "/") + "/payments/cancel/",
	}
}

func (g *StripeGateway) CreateCheckout(_ context.Context, userID, duration string, amountCents int64) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		Metadata:          map[string]string{"duration": duration},
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyUSD)),
				UnitAmount: stripe.Int64(amountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("SportMate " + strings.ToLower(duration) + " subscription"),
				},
			},
		}},
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, sess.ID, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*CheckoutResult, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}
	if event.Type != "checkout.session.completed" {
		return nil, ErrIgnoredEvent
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if sess.ClientReferenceID == "" {
		return nil, fmt.Errorf("checkout session without client reference")
	}
	duration := sess.Metadata["duration"]
	if duration == "" {
		duration = storage.DurationMonth
	}
	return &CheckoutResult{
		UserID:      sess.ClientReferenceID,
		StripeID:    sess.ID,
		Duration:    duration,
		AmountCents: sess.AmountTotal,
	}, nil
}

func (s *Server) createCheckout(c echo.Context) error {
	var req struct {
		Duration string `json:"duration"`
	}
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	duration := strings.ToUpper(strings.TrimSpace(req.Duration))
	amount, ok := priceCents[duration]
	if !ok {
		return errJSON(c, http.StatusBadRequest, "duration must be WEEK, MONTH or YEAR")
	}

	ctx := c.Request().Context()
	uid := userID(c)
	url, sessionID, err := s.payments.CreateCheckout(ctx, uid, duration, amount)
	if err != nil {
		s.log.Error().Err(err).Msg("create checkout")
		return errJSON(c, http.StatusBadGateway, "payment provider is unavailable")
	}

	// Record the pending session so the account carries a reference to the
	// checkout even before the webhook settles it.
	sealed, err := s.crypto.SealString(sessionID)
	if err != nil {
		s.log.Error().Err(err).Msg("seal checkout session id")
		return errJSON(c, http.StatusInternalServerError, "could not start checkout")
	}
	if err := s.store.SetCheckoutRef(ctx, uid, sealed); err != nil {
		s.log.Error().Err(err).Str("user_id", uid).Msg("record checkout reference")
		return errJSON(c, http.StatusInternalServerError, "could not start checkout")
	}
	return c.JSON(http.StatusOK, map[string]string{"checkout_url": url})
}

func (s *Server) webhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "could not read payload")
	}

	result, err := s.payments.ParseWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrIgnoredEvent) {
			return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
		}
		s.log.Warn().Err(err).Msg("webhook rejected")
		return errJSON(c, http.StatusBadRequest, "invalid webhook")
	}

	ctx := c.Request().Context()
	sealed, err := s.crypto.SealString(result.StripeID)
	if err != nil {
		s.log.Error().Err(err).Msg("seal stripe id")
		return errJSON(c, http.StatusInternalServerError, "could not record payment")
	}

	start := nowUTC()
	if err := s.store.ActivatePaid(ctx, result.UserID, sealed, result.Duration, result.AmountCents, start, paidUntil(start, result.Duration)); err != nil {
		s.log.Error().Err(err).Str("user_id", result.UserID).Msg("activate subscription")
		return errJSON(c, http.StatusInternalServerError, "could not record payment")
	}
	if err := s.gate.InvalidatePlan(ctx, result.UserID); err != nil {
		s.log.Warn().Err(err).Str("user_id", result.UserID).Msg("plan cache invalidation failed")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "processed"})
}

func (s *Server) freeTrial(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)

	err := s.store.StartTrial(ctx, uid, nowUTC().Add(trialLength))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errJSON(c, http.StatusConflict, "trial is only available on the free plan")
		}
		s.log.Error().Err(err).Msg("start trial")
		return errJSON(c, http.StatusInternalServerError, "could not start trial")
	}
	if err := s.gate.InvalidatePlan(ctx, uid); err != nil {
		s.log.Warn().Err(err).Str("user_id", uid).Msg("plan cache invalidation failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "trial started"})
}

func (s *Server) subscription(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)

	out := map[string]any{"plan": storage.PlanFree}
	sub, err := s.store.GetSubscription(ctx, uid)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		s.log.Error().Err(err).Msg("lookup subscription")
		return errJSON(c, http.StatusInternalServerError, "could not load subscription")
	default:
		out["plan"] = sub.Plan
		out["amount_paid_cents"] = sub.AmountPaidCents
		if sub.Duration != nil {
			out["duration"] = *sub.Duration
		}
		if sub.EndDate != nil {
			out["end_date"] = sub.EndDate.Format("2006-01-02T15:04:05Z07:00")
		}
	}

	used, err := s.gate.Used(ctx, uid)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", uid).Msg("usage readout failed")
	} else {
		out["used_messages"] = used
		out["free_limit"] = s.gate.Limit()
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) cancelSubscription(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)

	if err := s.store.DowngradeToFree(ctx, uid); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errJSON(c, http.StatusConflict, "no active subscription to cancel")
		}
		s.log.Error().Err(err).Str("user_id", uid).Msg("cancel subscription")
		return errJSON(c, http.StatusInternalServerError, "could not cancel subscription")
	}
	if err := s.gate.InvalidatePlan(ctx, uid); err != nil {
		s.log.Warn().Err(err).Str("user_id", uid).Msg("plan cache invalidation failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "subscription cancelled"})
}

// Stripe redirects the browser here after checkout. The webhook, not this
// page, is what upgrades the plan.
func (s *Server) checkoutSuccess(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "payment received, your subscription will activate shortly"})
}

func (s *Server) checkoutCancel(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "checkout cancelled"})
}

func paidUntil(start time.Time, duration string) time.Time {
	switch duration {
	case storage.DurationWeek:
		return start.Add(7 * 24 * time.Hour)
	case storage.DurationYear:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
