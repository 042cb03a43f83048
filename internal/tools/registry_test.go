package tools

import (
	"context"
	"errors"
	"testing"

	"sportmate/internal/providers"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes the query" }
func (echoTool) Call(_ context.Context, input string) (string, error) {
	return "echo: " + input, nil
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{}, QuerySchema())

	defs := r.Defs()
	if len(defs) != 1 || defs[0].Name != "echo" {
		t.Fatalf("defs: %+v", defs)
	}

	out, err := r.Dispatch(context.Background(), providers.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"query": "hello"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out != "echo: hello" {
		t.Fatalf("out = %q", out)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), providers.ToolCall{Name: "missing"})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}
