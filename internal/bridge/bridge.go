// Package bridge turns one user message into one assistant reply. It pulls
// the transcript and profile from the backend, drives the model through an
// a bounded number of tool rounds, and writes the finished exchange back without
// blocking the response.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sportmate/internal/metrics"
	"sportmate/internal/providers"
	"sportmate/internal/tools"
)

var (
	// ErrUpstreamUnavailable means the backend could not serve the
	// transcript, the turn cannot proceed without it.
	ErrUpstreamUnavailable = errors.New("bridge: upstream unavailable")
	// ErrModelInvocation covers provider failures and tool loops that
	// never settle on text.
	ErrModelInvocation = errors.New("bridge: model invocation failed")
)

type Config struct {
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxToolRounds int
	AppendTimeout time.Duration
}

type Bridge struct {
	cfg      Config
	provider providers.Provider
	tools    *tools.Registry
	history  HistoryFetcher
	profiles ProfileFetcher
	appender HistoryAppender
	log      zerolog.Logger
}

func New(cfg Config, provider providers.Provider, reg *tools.Registry, history HistoryFetcher, profiles ProfileFetcher, appender HistoryAppender, log zerolog.Logger) *Bridge {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 1
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = 10 * time.Second
	}
	return &Bridge{
		cfg:      cfg,
		provider: provider,
		tools:    reg,
		history:  history,
		profiles: profiles,
		appender: appender,
		log:      log,
	}
}

// HandleTurn produces the assistant reply for one user message. A missing
// transcript aborts the turn, a missing profile does not.
func (b *Bridge) HandleTurn(ctx context.Context, authToken, sessionID, userMessage string) (string, error) {
	m := metrics.Global()
	m.TurnsTotal.Inc()

	turns, err := b.history.History(ctx, authToken, sessionID)
	if err != nil {
		m.UpstreamFailures.Inc()
		b.log.Error().Err(err).Str("session_id", sessionID).Msg("history fetch failed")
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	profile, err := b.profiles.Profile(ctx, authToken)
	if err != nil {
		b.log.Warn().Err(err).Str("session_id", sessionID).Msg("profile fetch failed, using placeholders")
		profile = UserProfile{}
	}

	req := providers.ChatRequest{
		Model:        b.cfg.Model,
		SystemPrompt: systemPrompt,
		History:      turns,
		Input:        composeInput(userMessage, profile),
		Tools:        b.tools.Defs(),
		MaxTokens:    b.cfg.MaxTokens,
		Temperature:  b.cfg.Temperature,
	}

	resp, err := b.provider.Chat(ctx, req)
	if err != nil {
		b.log.Error().Err(err).Str("session_id", sessionID).Msg("provider call failed")
		return "", fmt.Errorf("%w: %v", ErrModelInvocation, err)
	}

	for round := 0; resp.ToolCall != nil; round++ {
		if round >= b.cfg.MaxToolRounds {
			b.log.Error().Str("session_id", sessionID).Str("tool", resp.ToolCall.Name).Msg("tool round limit exceeded")
			return "", fmt.Errorf("%w: tool round limit exceeded", ErrModelInvocation)
		}

		m.ToolCalls.Inc()
		result, err := b.tools.Dispatch(ctx, *resp.ToolCall)
		if err != nil {
			b.log.Warn().Err(err).Str("tool", resp.ToolCall.Name).Msg("tool call failed")
			result = "The search tool is currently unavailable. Answer from your own knowledge and say the information may be out of date."
			if errors.Is(err, tools.ErrUnknownTool) {
				result = "unknown tool"
			}
		}

		req.ToolExchanges = append(req.ToolExchanges, providers.ToolExchange{Call: *resp.ToolCall, Result: result})
		resp, err = b.provider.Chat(ctx, req)
		if err != nil {
			b.log.Error().Err(err).Str("session_id", sessionID).Msg("provider follow-up call failed")
			return "", fmt.Errorf("%w: %v", ErrModelInvocation, err)
		}
	}

	b.persistAsync(authToken, sessionID, userMessage, resp.Text)
	return resp.Text, nil
}

// persistAsync writes the exchange back on its own context so a slow
// backend never delays the reply. Failures are logged and dropped, the
// transcript loses at most this one turn.
func (b *Bridge) persistAsync(authToken, sessionID, userMessage, botMessage string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.AppendTimeout)
		defer cancel()
		if err := b.appender.Append(ctx, authToken, sessionID, userMessage, botMessage); err != nil {
			b.log.Error().Err(err).Str("session_id", sessionID).Msg("exchange persist failed")
		}
	}()
}
