// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package tools

import "context"

// Tool is the interface that all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ClosableTool is an optional interface for tools that hold runtime resources
// and require explicit teardown when the agent stops.
type ClosableTool interface {
	Tool
	Close() error
}

// ToolResult separates what the model sees from what could be surfaced to a
// human. Errors are reported to the model as text so the reasoning loop can
// recover instead of aborting.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Err     error
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, ForUser: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

func ToolToSchema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}
