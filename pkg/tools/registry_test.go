package tools

import (
	"context"
	"testing"
)

type fakeTool struct {
	name   string
	result *ToolResult
	closed bool
}

func (t *fakeTool) Name() string                        { return t.name }
func (t *fakeTool) Description() string                 { return "fake tool" }
func (t *fakeTool) Parameters() map[string]interface{}  { return map[string]interface{}{"type": "object"} }
func (t *fakeTool) Execute(context.Context, map[string]interface{}) *ToolResult {
	return t.result
}
func (t *fakeTool) Close() error {
	t.closed = true
	return nil
}

func TestRegistry_ExecuteKnownTool(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fakeTool{name: "echo", result: &ToolResult{ForLLM: "ok"}})

	result := registry.Execute(context.Background(), "echo", map[string]interface{}{"x": 1})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if result.ForLLM != "ok" {
		t.Errorf("ForLLM = %q", result.ForLLM)
	}
}

func TestRegistry_ExecuteUnknownToolReturnsErrorResult(t *testing.T) {
	registry := NewToolRegistry()

	result := registry.Execute(context.Background(), "missing", nil)
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestRegistry_ExecuteNilResultBecomesError(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fakeTool{name: "broken", result: nil})

	result := registry.Execute(context.Background(), "broken", nil)
	if !result.IsError {
		t.Fatal("expected error result for nil tool result")
	}
}

func TestRegistry_CloseClosesClosableTools(t *testing.T) {
	registry := NewToolRegistry()
	tool := &fakeTool{name: "closable", result: &ToolResult{}}
	registry.Register(tool)

	if err := registry.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !tool.closed {
		t.Error("tool was not closed")
	}
}

func TestSanitizeToolArgs_RedactsSensitiveKeys(t *testing.T) {
	args := map[string]interface{}{
		"query":   "weather",
		"api_key": "secret-value",
		"nested":  map[string]interface{}{"token": "abc", "safe": "ok"},
	}

	sanitized := sanitizeToolArgs(args)
	if sanitized["api_key"] != "<redacted>" {
		t.Errorf("api_key = %v", sanitized["api_key"])
	}
	nested := sanitized["nested"].(map[string]interface{})
	if nested["token"] != "<redacted>" {
		t.Errorf("nested token = %v", nested["token"])
	}
	if nested["safe"] != "ok" {
		t.Errorf("nested safe = %v", nested["safe"])
	}
}
