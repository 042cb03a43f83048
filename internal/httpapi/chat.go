package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"sportmate/internal/metrics"
	"sportmate/internal/queue"
	"sportmate/internal/storage"
)

type exchangeResponse struct {
	UserMessage string  `json:"user_message"`
	BotMessage  *string `json:"bot_message"`
	CreatedAt   string  `json:"created_at"`
}

// chatbot runs the usage gate and hands the turn to the bridge service.
func (s *Server) chatbot(c echo.Context) error {
	sessionID := c.Param("session_id")
	var req struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return errJSON(c, http.StatusBadRequest, "message is required")
	}

	decision, err := s.gate.Allow(c.Request().Context(), userID(c))
	if err != nil {
		s.log.Error().Err(err).Msg("usage gate")
		return errJSON(c, http.StatusInternalServerError, "could not process the message")
	}
	if !decision.Allowed {
		metrics.Global().GateDenied.Inc()
		return errJSON(c, http.StatusPaymentRequired, "free message limit reached, subscribe to continue")
	}

	return s.forwardToBridge(c, sessionID, req.Message)
}

func (s *Server) forwardToBridge(c echo.Context, sessionID, message string) error {
	payload, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"message":    message,
	})
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "could not process the message")
	}

	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodPost, s.bridgeURL+"/chat", strings.NewReader(string(payload)))
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "could not process the message")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.Request().Header.Get("Authorization"))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.Global().UpstreamFailures.Inc()
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("bridge unreachable")
		return errJSON(c, http.StatusBadGateway, "assistant is unavailable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errJSON(c, http.StatusBadGateway, "assistant is unavailable")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return c.JSONBlob(http.StatusOK, body)
	case resp.StatusCode == http.StatusBadGateway:
		return c.JSONBlob(http.StatusBadGateway, body)
	default:
		s.log.Error().Int("status", resp.StatusCode).Str("session_id", sessionID).Msg("bridge error")
		return errJSON(c, http.StatusInternalServerError, "could not process the message")
	}
}

func (s *Server) chatHistory(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Error().Err(err).Msg("lookup session")
		return errJSON(c, http.StatusInternalServerError, "could not load history")
	}
	// Unknown sessions read as empty so a fresh conversation has a
	// transcript from its first turn.
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"exchanges": []exchangeResponse{}})
	}
	if sess.UserID != userID(c) {
		return errJSON(c, http.StatusForbidden, "not your session")
	}

	list, err := s.store.ListExchanges(ctx, sessionID)
	if err != nil {
		s.log.Error().Err(err).Msg("list exchanges")
		return errJSON(c, http.StatusInternalServerError, "could not load history")
	}

	out := make([]exchangeResponse, 0, len(list))
	for _, ex := range list {
		out = append(out, exchangeResponse{
			UserMessage: ex.UserMessage,
			BotMessage:  ex.BotMessage,
			CreatedAt:   ex.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"exchanges": out})
}

// appendHistory accepts a finished exchange and queues it for the writer.
func (s *Server) appendHistory(c echo.Context) error {
	var req struct {
		SessionID   string `json:"session_id"`
		UserMessage string `json:"user_message"`
		BotMessage  string `json:"bot_message"`
	}
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.UserMessage) == "" {
		return errJSON(c, http.StatusBadRequest, "session_id and user_message are required")
	}

	_, err := s.queue.Enqueue(c.Request().Context(), queue.ExchangeJob{
		SessionID:   req.SessionID,
		UserID:      userID(c),
		UserMessage: req.UserMessage,
		BotMessage:  req.BotMessage,
	})
	if err != nil {
		s.log.Error().Err(err).Str("session_id", req.SessionID).Msg("enqueue exchange")
		return errJSON(c, http.StatusInternalServerError, "could not record the exchange")
	}
	metrics.Global().EnqueuedJobs.Inc()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) listSessions(c echo.Context) error {
	sessions, err := s.store.ListSessions(c.Request().Context(), userID(c))
	if err != nil {
		s.log.Error().Err(err).Msg("list sessions")
		return errJSON(c, http.StatusInternalServerError, "could not load sessions")
	}
	out := make([]map[string]string, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]string{
			"session_id": sess.ID,
			"title":      sess.Title,
			"created_at": sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) createSession(c echo.Context) error {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	sess, err := s.store.CreateSession(c.Request().Context(), userID(c), strings.TrimSpace(req.Title))
	if err != nil {
		s.log.Error().Err(err).Msg("create session")
		return errJSON(c, http.StatusInternalServerError, "could not create session")
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"session_id": sess.ID,
		"title":      sess.Title,
	})
}

func (s *Server) saveChat(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")
	uid := userID(c)

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errJSON(c, http.StatusNotFound, "session not found")
		}
		s.log.Error().Err(err).Msg("lookup session")
		return errJSON(c, http.StatusInternalServerError, "could not save chat")
	}
	if sess.UserID != uid {
		return errJSON(c, http.StatusForbidden, "not your session")
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = sess.Title
	}

	saved, err := s.store.SaveChat(ctx, uid, sessionID, title, nowUTC())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadySaved) {
			return errJSON(c, http.StatusConflict, "chat already saved")
		}
		s.log.Error().Err(err).Msg("save chat")
		return errJSON(c, http.StatusInternalServerError, "could not save chat")
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"id":         saved.ID,
		"session_id": saved.SessionID,
		"title":      saved.Title,
	})
}

func (s *Server) listSaved(c echo.Context) error {
	saved, err := s.store.ListSavedChats(c.Request().Context(), userID(c))
	if err != nil {
		s.log.Error().Err(err).Msg("list saved chats")
		return errJSON(c, http.StatusInternalServerError, "could not load saved chats")
	}
	out := make([]map[string]string, 0, len(saved))
	for _, sc := range saved {
		out = append(out, map[string]string{
			"id":         sc.ID,
			"session_id": sc.SessionID,
			"title":      sc.Title,
			"pin_date":   sc.PinDate.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"saved": out})
}

// exportHistory renders the transcript as a JSON download.
func (s *Server) exportHistory(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("session_id")

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errJSON(c, http.StatusNotFound, "session not found")
		}
		s.log.Error().Err(err).Msg("lookup session")
		return errJSON(c, http.StatusInternalServerError, "could not export history")
	}
	if sess.UserID != userID(c) {
		return errJSON(c, http.StatusForbidden, "not your session")
	}

	list, err := s.store.ListExchanges(ctx, sessionID)
	if err != nil {
		s.log.Error().Err(err).Msg("list exchanges")
		return errJSON(c, http.StatusInternalServerError, "could not export history")
	}

	out := struct {
		SessionID string             `json:"session_id"`
		Title     string             `json:"title"`
		Exchanges []exchangeResponse `json:"exchanges"`
	}{
		SessionID: sessionID,
		Title:     sess.Title,
		Exchanges: make([]exchangeResponse, 0, len(list)),
	}
	for _, ex := range list {
		out.Exchanges = append(out.Exchanges, exchangeResponse{
			UserMessage: ex.UserMessage,
			BotMessage:  ex.BotMessage,
			CreatedAt:   ex.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", "chat-"+sessionID+".json"))
	return c.JSON(http.StatusOK, out)
}
