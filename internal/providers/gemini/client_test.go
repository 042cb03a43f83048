package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sportmate/internal/providers"
)

func TestBuildPayloadGenerateContent(t *testing.T) {
	c := New(Config{BaseURL: "https://generativelanguage.googleapis.com/v1beta"})

	body, endpoint, err := c.buildPayload(providers.ChatRequest{
		Model:        "gemini-2.5-flash",
		SystemPrompt: "You are a sports coach",
		History: []providers.Turn{
			{Role: providers.RoleUser, Content: "how do I serve?"},
			{Role: providers.RoleAssistant, Content: "toss the ball higher"},
		},
		Input:       "and the grip?",
		MaxTokens:   256,
		Temperature: 0.7,
		Tools: []providers.ToolDef{{
			Name:        "tavily_search",
			Description: "web search",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	contents, ok := payload["contents"].([]any)
	if !ok || len(contents) != 3 {
		t.Fatalf("expected 3 contents entries, got %#v", payload["contents"])
	}
	second, _ := contents[1].(map[string]any)
	if second["role"] != "model" {
		t.Fatalf("assistant turn should map to model role, got %#v", second["role"])
	}
	if _, ok := payload["systemInstruction"]; !ok {
		t.Fatalf("systemInstruction missing in payload")
	}
	if _, ok := payload["tools"]; !ok {
		t.Fatalf("tools missing in payload")
	}
}

func TestBuildPayloadToolExchange(t *testing.T) {
	c := New(Config{BaseURL: "https://generativelanguage.googleapis.com/v1beta"})

	body, _, err := c.buildPayload(providers.ChatRequest{
		Model: "gemini-2.5-flash",
		Input: "latest scores?",
		ToolExchanges: []providers.ToolExchange{
			{
				Call:   providers.ToolCall{Name: "tavily_search", Arguments: map[string]any{"query": "scores"}},
				Result: "team A won 2-1",
			},
			{
				Call:   providers.ToolCall{Name: "tavily_search", Arguments: map[string]any{"query": "standings"}},
				Result: "team A leads the table",
			},
		},
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	var payload struct {
		Contents []struct {
			Role  string           `json:"role"`
			Parts []map[string]any `json:"parts"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Contents) != 5 {
		t.Fatalf("expected input + two call/response pairs, got %d entries", len(payload.Contents))
	}
	for _, i := range []int{1, 3} {
		if _, ok := payload.Contents[i].Parts[0]["functionCall"]; !ok {
			t.Fatalf("functionCall part missing at %d: %#v", i, payload.Contents[i])
		}
		if _, ok := payload.Contents[i+1].Parts[0]["functionResponse"]; !ok {
			t.Fatalf("functionResponse part missing at %d: %#v", i+1, payload.Contents[i+1])
		}
	}
	second, _ := payload.Contents[3].Parts[0]["functionCall"].(map[string]any)
	args, _ := second["args"].(map[string]any)
	if args["query"] != "standings" {
		t.Fatalf("round order lost: %#v", payload.Contents[3])
	}
}

func TestParseGenerateContentText(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"keep your "},{"text":"eye on the ball"}]}}]}`)
	resp, err := parseGenerateContent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.ToolCall != nil {
		t.Fatalf("unexpected tool call: %+v", resp.ToolCall)
	}
	if resp.Text != "keep your eye on the ball" {
		t.Fatalf("text = %q", resp.Text)
	}
}

func TestParseGenerateContentFunctionCall(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"tavily_search","args":{"query":"nba finals"}}}]}}]}`)
	resp, err := parseGenerateContent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.ToolCall == nil || resp.ToolCall.Name != "tavily_search" {
		t.Fatalf("tool call: %+v", resp.ToolCall)
	}
	if resp.ToolCall.Arguments["query"] != "nba finals" {
		t.Fatalf("arguments: %#v", resp.ToolCall.Arguments)
	}
}

func TestChatRetriesOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 2, BackoffBase: 1})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{Model: "gemini-2.5-flash", Input: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "ok" || calls != 2 {
		t.Fatalf("text=%q calls=%d", resp.Text, calls)
	}
}

func TestChatDoesNotRetryClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3, BackoffBase: 1})
	if _, err := c.Chat(context.Background(), providers.ChatRequest{Model: "gemini-2.5-flash", Input: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
