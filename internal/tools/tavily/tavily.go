// Package tavily wraps the Tavily search API as a model-callable tool.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/tools"
)

const toolName = "tavily_search"

type Config struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	HTTPClient *http.Client
}

type Tool struct {
	cfg Config
}

func New(cfg Config) *Tool {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &Tool{cfg: cfg}
}

var _ tools.Tool = (*Tool)(nil)

func (t *Tool) Name() string {
	return toolName
}

func (t *Tool) Description() string {
	return "Search the web for current sports information such as scores, fixtures, transfers and news. Input is a plain search query."
}

// Call runs a search and returns a compact digest the model can quote from.
func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "", fmt.Errorf("tavily: empty query")
	}

	payload, err := json.Marshal(map[string]any{
		"api_key":     t.cfg.APIKey,
		"query":       query,
		"max_results": t.cfg.MaxResults,
	})
	if err != nil {
		return "", fmt.Errorf("tavily: marshal request: %w", err)
	}

	url := strings.TrimSuffix(t.cfg.BaseURL, "/") + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("tavily: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("tavily: status %d", resp.StatusCode)
	}

	var parsed struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("tavily: decode response: %w", err)
	}

	var b strings.Builder
	if strings.TrimSpace(parsed.Answer) != "" {
		b.WriteString(parsed.Answer)
		b.WriteString("\n\n")
	}
	for i, r := range parsed.Results {
		if i >= t.cfg.MaxResults {
			break
		}
		fmt.Fprintf(&b, "%s (%s): %s\n", r.Title, r.URL, r.Content)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "No results found.", nil
	}
	return out, nil
}
