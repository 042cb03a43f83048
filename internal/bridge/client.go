package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sportmate/internal/providers"
)

// UserProfile is the slice of the account the system prompt cares about.
type UserProfile struct {
	FullName      string `json:"full_name"`
	FavoriteSport string `json:"favorite_sport"`
	Details       string `json:"details"`
}

type HistoryFetcher interface {
	History(ctx context.Context, authToken, sessionID string) ([]providers.Turn, error)
}

type ProfileFetcher interface {
	Profile(ctx context.Context, authToken string) (UserProfile, error)
}

type HistoryAppender interface {
	Append(ctx context.Context, authToken, sessionID, userMessage, botMessage string) error
}

// APIClient talks to the backend service on behalf of the turn being
// handled, forwarding the caller's bearer token.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, client *http.Client) *APIClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

var (
	_ HistoryFetcher  = (*APIClient)(nil)
	_ ProfileFetcher  = (*APIClient)(nil)
	_ HistoryAppender = (*APIClient)(nil)
)

func (c *APIClient) History(ctx context.Context, authToken, sessionID string) ([]providers.Turn, error) {
	body, err := c.get(ctx, authToken, "/c/chat-history/"+sessionID)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Exchanges []struct {
			UserMessage string  `json:"user_message"`
			BotMessage  *string `json:"bot_message"`
		} `json:"exchanges"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	turns := make([]providers.Turn, 0, len(resp.Exchanges)*2)
	for _, ex := range resp.Exchanges {
		turns = append(turns, providers.Turn{Role: providers.RoleUser, Content: ex.UserMessage})
		if ex.BotMessage != nil && *ex.BotMessage != "" {
			turns = append(turns, providers.Turn{Role: providers.RoleAssistant, Content: *ex.BotMessage})
		}
	}
	return turns, nil
}

func (c *APIClient) Profile(ctx context.Context, authToken string) (UserProfile, error) {
	body, err := c.get(ctx, authToken, "/auth/about")
	if err != nil {
		return UserProfile{}, err
	}
	var p UserProfile
	if err := json.Unmarshal(body, &p); err != nil {
		return UserProfile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (c *APIClient) Append(ctx context.Context, authToken, sessionID, userMessage, botMessage string) error {
	payload, err := json.Marshal(map[string]string{
		"session_id":   sessionID,
		"user_message": userMessage,
		"bot_message":  botMessage,
	})
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/c/history/", strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("append history status %d", resp.StatusCode)
	}
	return nil
}

func (c *APIClient) get(ctx context.Context, authToken, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s status %d", path, resp.StatusCode)
	}
	return body, nil
}
