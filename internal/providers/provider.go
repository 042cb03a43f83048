package providers

import "context"

type Turn struct {
	Role    string
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolDef describes a function the model may call. Parameters is a JSON
// schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolExchange carries a resolved tool call back into a follow-up request.
type ToolExchange struct {
	Call   ToolCall
	Result string
}

type ChatRequest struct {
	Model        string
	SystemPrompt string
	History      []Turn
	Input        string
	Tools        []ToolDef
	// ToolExchanges accumulates one entry per completed tool round, in
	// order, so a follow-up call replays every earlier observation.
	ToolExchanges []ToolExchange
	MaxTokens     int
	Temperature   float64
}

// ChatResponse holds either final text or a tool call, never both.
type ChatResponse struct {
	Text     string
	ToolCall *ToolCall
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
