package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sportmate/internal/crypto"
	"sportmate/internal/gate"
	"sportmate/internal/queue"
	"sportmate/internal/storage"
	"sportmate/internal/token"
)

type fakePayments struct {
	checkoutURL string
	sessionID   string
	checkoutErr error
	result      *CheckoutResult
	parseErr    error

	gotUserID   string
	gotDuration string
	gotAmount   int64
}

func (f *fakePayments) CreateCheckout(_ context.Context, userID, duration string, amountCents int64) (string, string, error) {
	f.gotUserID, f.gotDuration, f.gotAmount = userID, duration, amountCents
	if f.checkoutErr != nil {
		return "", "", f.checkoutErr
	}
	return f.checkoutURL, f.sessionID, nil
}

func (f *fakePayments) ParseWebhook(_ []byte, _ string) (*CheckoutResult, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.result, nil
}

type testEnv struct {
	t      *testing.T
	api    *httptest.Server
	store  *storage.Store
	queue  *queue.StreamQueue
	pay    *fakePayments
	crypto *crypto.Manager
}

func newTestEnv(t *testing.T, freeLimit int64, bridgeHandler http.HandlerFunc) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := storage.Open(context.Background(), "sqlite",
		fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name), true, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens, err := token.NewManager("test-secret", time.Minute, time.Hour)
	require.NoError(t, err)

	key := bytes.Repeat([]byte{0x42}, 32)
	cm, err := crypto.NewManager("k1", map[string][]byte{"k1": key})
	require.NoError(t, err)

	q := queue.NewStreamQueue(rdb, "sportmate:exchanges", "sportmate-writers", "api-test", 50*time.Millisecond)
	require.NoError(t, q.EnsureGroup(context.Background()))

	if bridgeHandler == nil {
		bridgeHandler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"response":"ok"}`))
		}
	}
	bridge := httptest.NewServer(bridgeHandler)
	t.Cleanup(bridge.Close)

	pay := &fakePayments{checkoutURL: "https://checkout.stripe.com/pay/cs_test", sessionID: "cs_test_123"}

	e := NewServer(Options{
		Store:     store,
		Gate:      gate.New(rdb, store, freeLimit, time.Minute),
		Queue:     q,
		Tokens:    tokens,
		Crypto:    cm,
		Payments:  pay,
		BridgeURL: bridge.URL,
		Log:       zerolog.Nop(),
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return &testEnv{t: t, api: srv, store: store, queue: q, pay: pay, crypto: cm}
}

func (env *testEnv) do(method, path, authToken string, body any) (*http.Response, map[string]any) {
	env.t.Helper()

	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(env.t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequest(method, env.api.URL+path, reader)
	require.NoError(env.t, err)
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(env.t, err)
	env.t.Cleanup(func() { resp.Body.Close() })

	var out map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (env *testEnv) signUp(email, username string) (accessToken, uid string) {
	env.t.Helper()
	resp, body := env.do(http.MethodPost, "/auth/sign-up", "", map[string]string{
		"email":     email,
		"username":  username,
		"full_name": "Test User",
		"password":  "supersecret",
	})
	require.Equal(env.t, http.StatusCreated, resp.StatusCode)
	tokens := body["tokens"].(map[string]any)
	user := body["user"].(map[string]any)
	return tokens["access"].(string), user["id"].(string)
}

func TestCustomOpsPaths(t *testing.T) {
	e := NewServer(Options{HealthPath: "/livez", MetricsPath: "/ops/metrics", Log: zerolog.Nop()})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/livez")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ops/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignUpAndLogin(t *testing.T) {
	env := newTestEnv(t, 10, nil)

	access, _ := env.signUp("a@example.com", "alice")
	require.NotEmpty(t, access)

	resp, _ := env.do(http.MethodPost, "/auth/sign-up", "", map[string]string{
		"email": "a@example.com", "username": "other", "password": "supersecret",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := env.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@example.com", "password": "supersecret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["tokens"].(map[string]any)["refresh"])

	resp, _ = env.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@example.com", "password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignUpValidation(t *testing.T) {
	env := newTestEnv(t, 10, nil)

	resp, _ := env.do(http.MethodPost, "/auth/sign-up", "", map[string]string{
		"email": "not-an-email", "username": "x", "password": "supersecret",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/auth/sign-up", "", map[string]string{
		"email": "a@example.com", "username": "x", "password": "short",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefreshTokens(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	env.signUp("a@example.com", "alice")

	resp, body := env.do(http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@example.com", "password": "supersecret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refresh := body["tokens"].(map[string]any)["refresh"].(string)

	resp, body = env.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["tokens"].(map[string]any)["access"])

	resp, _ = env.do(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh": "garbage"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProfileOneShot(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	access, _ := env.signUp("a@example.com", "alice")

	resp, body := env.do(http.MethodGet, "/auth/about", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "", body["favorite_sport"])

	resp, _ = env.do(http.MethodPost, "/auth/about", access, map[string]string{
		"favorite_sport": "tennis", "details": "club player",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(http.MethodPost, "/auth/about", access, map[string]string{
		"favorite_sport": "golf",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "About already updated.", body["error"])

	resp, body = env.do(http.MethodGet, "/auth/about", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "tennis", body["favorite_sport"])
	require.Equal(t, "club player", body["details"])
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, 10, nil)

	resp, _ := env.do(http.MethodGet, "/c/chatclass/", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(http.MethodGet, "/c/chatclass/", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionsLifecycle(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	access, _ := env.signUp("a@example.com", "alice")

	resp, body := env.do(http.MethodPost, "/c/create-chat-class/", access, map[string]string{"title": "drills"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessionID := body["session_id"].(string)

	resp, body = env.do(http.MethodGet, "/c/chatclass/", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)

	resp, _ = env.do(http.MethodPost, "/c/chat-save/"+sessionID, access, map[string]string{"title": "drills"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/c/chat-save/"+sessionID, access, map[string]string{"title": "drills"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(http.MethodGet, "/c/saved/", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["saved"].([]any), 1)
}

func TestSessionOwnership(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	aliceTok, aliceID := env.signUp("a@example.com", "alice")
	bobTok, _ := env.signUp("b@example.com", "bob")

	sess, err := env.store.CreateSession(context.Background(), aliceID, "private")
	require.NoError(t, err)

	resp, _ := env.do(http.MethodGet, "/c/chat-history/"+sess.ID, bobTok, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(http.MethodGet, "/c/chat-history/"+sess.ID, aliceTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/c/chat-save/"+sess.ID, bobTok, map[string]string{})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatHistoryUnknownSessionIsEmpty(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	access, _ := env.signUp("a@example.com", "alice")

	resp, body := env.do(http.MethodGet, "/c/chat-history/brand-new", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body["exchanges"])
}

func TestAppendHistoryEnqueues(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	access, uid := env.signUp("a@example.com", "alice")

	resp, _ := env.do(http.MethodPost, "/c/history/", access, map[string]string{
		"session_id":   "sess-1",
		"user_message": "who won?",
		"bot_message":  "team A",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	msgs, err := env.queue.Read(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, uid, msgs[0].Job.UserID)
	require.Equal(t, "sess-1", msgs[0].Job.SessionID)
	require.Equal(t, "team A", msgs[0].Job.BotMessage)
}

func TestChatbotForwardsToBridge(t *testing.T) {
	var gotAuth, gotBody string
	env := newTestEnv(t, 10, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.String()
		_, _ = w.Write([]byte(`{"response":"stretch first"}`))
	})
	access, _ := env.signUp("a@example.com", "alice")

	resp, body := env.do(http.MethodPost, "/c/chatbot/sess-1", access, map[string]string{"message": "warmup?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "stretch first", body["response"])
	require.Equal(t, "Bearer "+access, gotAuth)
	require.Contains(t, gotBody, `"session_id":"sess-1"`)
}

func TestChatbotBridgeDownMapsTo502(t *testing.T) {
	env := newTestEnv(t, 10, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"chat history unavailable"}`))
	})
	access, _ := env.signUp("a@example.com", "alice")

	resp, _ := env.do(http.MethodPost, "/c/chatbot/sess-1", access, map[string]string{"message": "hi"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestChatbotGateDenies(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	access, _ := env.signUp("a@example.com", "alice")

	resp, _ := env.do(http.MethodPost, "/c/chatbot/sess-1", access, map[string]string{"message": "one"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/c/chatbot/sess-1", access, map[string]string{"message": "two"})
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestCheckoutAndWebhook(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	access, uid := env.signUp("a@example.com", "alice")

	resp, body := env.do(http.MethodPost, "/payments/create-checkout-session/", access, map[string]string{"duration": "MONTH"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://checkout.stripe.com/pay/cs_test", body["checkout_url"])
	require.Equal(t, uid, env.pay.gotUserID)
	require.Equal(t, int64(999), env.pay.gotAmount)

	// The pending checkout already left a sealed session reference behind.
	sub, err := env.store.GetSubscription(context.Background(), uid)
	require.NoError(t, err)
	require.NotNil(t, sub.EncStripeID)
	pending, err := env.crypto.OpenString(*sub.EncStripeID)
	require.NoError(t, err)
	require.Equal(t, "cs_test_123", pending)

	env.pay.result = &CheckoutResult{
		UserID:      uid,
		StripeID:    "cs_live_abc123",
		Duration:    storage.DurationMonth,
		AmountCents: 999,
	}
	resp, _ = env.do(http.MethodPost, "/payments/webhook/", "", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sub, err = env.store.GetSubscription(context.Background(), uid)
	require.NoError(t, err)
	require.Equal(t, storage.PlanPaid, sub.Plan)
	require.NotNil(t, sub.EncStripeID)

	opened, err := env.crypto.OpenString(*sub.EncStripeID)
	require.NoError(t, err)
	require.Equal(t, "cs_live_abc123", opened)

	// The upgraded plan lifts the gate immediately.
	resp, _ = env.do(http.MethodPost, "/c/chatbot/sess-1", access, map[string]string{"message": "back again"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCheckoutRejectsBadDuration(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	access, _ := env.signUp("a@example.com", "alice")

	resp, _ := env.do(http.MethodPost, "/payments/create-checkout-session/", access, map[string]string{"duration": "DECADE"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookRejected(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	env.pay.parseErr = fmt.Errorf("bad signature")

	resp, _ := env.do(http.MethodPost, "/payments/webhook/", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFreeTrialOnce(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	access, _ := env.signUp("a@example.com", "alice")

	resp, _ := env.do(http.MethodPost, "/payments/free-trial/", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/payments/free-trial/", access, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := env.do(http.MethodGet, "/payments/setting/", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, storage.PlanTrial, body["plan"])
}

func TestSubscriptionUsageReadout(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	access, _ := env.signUp("a@example.com", "alice")

	resp, body := env.do(http.MethodGet, "/payments/setting/", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(0), body["used_messages"])
	require.Equal(t, float64(2), body["free_limit"])

	resp, _ = env.do(http.MethodPost, "/c/chatbot/sess-1", access, map[string]string{"message": "one"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(http.MethodGet, "/payments/setting/", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["used_messages"])
}

func TestCancelSubscription(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	access, _ := env.signUp("o@example.com", "otto")

	// Nothing to cancel on a fresh account.
	resp, _ := env.do(http.MethodDelete, "/payments/setting/", access, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(http.MethodPost, "/payments/free-trial/", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(http.MethodDelete, "/payments/setting/", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(http.MethodGet, "/payments/setting/", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, storage.PlanFree, body["plan"])
}

func TestExportChatHistory(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	access, uid := env.signUp("a@example.com", "alice")

	sess, err := env.store.CreateSession(context.Background(), uid, "drills")
	require.NoError(t, err)
	answer := "start slow"
	_, err = env.store.AppendExchange(context.Background(), sess.ID, uid, "how to warm up?", &answer)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, env.api.URL+"/c/export-chat-history/"+sess.ID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), ".json")

	var out struct {
		SessionID string `json:"session_id"`
		Title     string `json:"title"`
		Exchanges []struct {
			UserMessage string  `json:"user_message"`
			BotMessage  *string `json:"bot_message"`
		} `json:"exchanges"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, sess.ID, out.SessionID)
	require.Equal(t, "drills", out.Title)
	require.Len(t, out.Exchanges, 1)
	require.Equal(t, "how to warm up?", out.Exchanges[0].UserMessage)
	require.Equal(t, "start slow", *out.Exchanges[0].BotMessage)
}

func TestHelpAndSupport(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	access, _ := env.signUp("a@example.com", "alice")

	resp, body := env.do(http.MethodPost, "/o/help-and-support/", access, map[string]string{
		"email":       "a@example.com",
		"description": "export is broken",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, body["id"])

	resp, _ = env.do(http.MethodPost, "/o/help-and-support/", access, map[string]string{"description": "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, 10, nil)
	resp, body := env.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}
