// Package tools holds the model-callable tool registry.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/tools"

	"sportmate/internal/providers"
)

// ErrUnknownTool means the model asked for a tool nobody registered.
var ErrUnknownTool = errors.New("tools: unknown tool")

// Registry maps tool names to their implementations and keeps the schemas
// advertised to the model.
type Registry struct {
	byName map[string]tools.Tool
	defs   []providers.ToolDef
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]tools.Tool{}}
}

// Register adds a tool together with the JSON schema of its arguments.
func (r *Registry) Register(t tools.Tool, parameters map[string]any) {
	r.byName[t.Name()] = t
	r.defs = append(r.defs, providers.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  parameters,
	})
}

func (r *Registry) Defs() []providers.ToolDef {
	return r.defs
}

// Dispatch resolves a tool call from the model. The query argument is the
// single input every registered tool takes.
func (r *Registry) Dispatch(ctx context.Context, call providers.ToolCall) (string, error) {
	t, ok := r.byName[call.Name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	query, _ := call.Arguments["query"].(string)
	return t.Call(ctx, query)
}

// QuerySchema is the argument schema shared by the search tools.
func QuerySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}
