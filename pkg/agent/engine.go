// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/petrovich/pkg/logger"
	"github.com/dotsetgreg/petrovich/pkg/memory"
	"github.com/dotsetgreg/petrovich/pkg/providers"
	"github.com/dotsetgreg/petrovich/pkg/tools"
)

// ErrIterationCapReached is returned when the model keeps requesting tools
// past the configured safety cap.
var ErrIterationCapReached = fmt.Errorf("reasoning iteration cap reached")

// Engine drives one reasoning cycle: Query, tool execution, back to Query,
// until the model produces a plain answer. Every produced turn is persisted
// before the next model call reads it, so the stored thread is both the call
// context and the single source of state.
type Engine struct {
	provider      providers.LLMProvider
	tools         *tools.ToolRegistry
	store         *memory.Store
	model         string
	maxIterations int
	maxTokens     int
	temperature   float64
	agentName     string
	now           func() time.Time
}

type EngineOptions struct {
	Model         string
	MaxIterations int
	MaxTokens     int
	Temperature   float64
	AgentName     string
}

func NewEngine(provider providers.LLMProvider, registry *tools.ToolRegistry, store *memory.Store, opts EngineOptions) *Engine {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	return &Engine{
		provider:      provider,
		tools:         registry,
		store:         store,
		model:         opts.Model,
		maxIterations: opts.MaxIterations,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
		agentName:     opts.AgentName,
		now:           time.Now,
	}
}

// Respond produces the final assistant reply for the thread's current state.
// The caller holds the thread lock.
func (e *Engine) Respond(ctx context.Context, threadKey string) (string, error) {
	if err := e.ensurePersona(ctx, threadKey); err != nil {
		return "", err
	}

	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		turns, err := e.store.Load(ctx, threadKey)
		if err != nil {
			return "", fmt.Errorf("load thread context: %w", err)
		}

		messages := toWireMessages(turns)
		toolDefs := e.tools.ToProviderDefs()

		logger.DebugCF("agent", "Model query", map[string]interface{}{
			"thread":    threadKey,
			"iteration": iteration,
			"max":       e.maxIterations,
			"messages":  len(messages),
			"tools":     len(toolDefs),
		})

		response, err := e.provider.Chat(ctx, messages, toolDefs, e.model, map[string]interface{}{
			"max_tokens":  e.maxTokens,
			"temperature": e.temperature,
		})
		if err != nil {
			return "", fmt.Errorf("model invocation: %w", err)
		}

		if len(response.ToolCalls) == 0 {
			content := strings.TrimSpace(response.Content)
			if content == "" {
				return "", fmt.Errorf("model returned empty final response")
			}
			if err := e.store.Append(ctx, threadKey, memory.Turn{
				Role:    memory.RoleAssistant,
				Content: content,
			}); err != nil {
				return "", fmt.Errorf("persist assistant turn: %w", err)
			}
			return content, nil
		}

		if err := e.executeToolRound(ctx, threadKey, response); err != nil {
			return "", err
		}
	}

	logger.ErrorCF("agent", "Iteration cap reached, aborting cycle", map[string]interface{}{
		"thread": threadKey,
		"cap":    e.maxIterations,
	})
	return "", ErrIterationCapReached
}

// ensurePersona appends the persona system turn unless the thread already
// carries one. It is re-added each cycle because pruning strips system turns.
func (e *Engine) ensurePersona(ctx context.Context, threadKey string) error {
	turns, err := e.store.Load(ctx, threadKey)
	if err != nil {
		return fmt.Errorf("load thread for persona check: %w", err)
	}
	for _, turn := range turns {
		if turn.Role == memory.RoleSystem {
			return nil
		}
	}
	if err := e.store.Append(ctx, threadKey, memory.Turn{
		Role:    memory.RoleSystem,
		Content: e.personaPrompt(),
	}); err != nil {
		return fmt.Errorf("persist persona turn: %w", err)
	}
	return nil
}

func (e *Engine) personaPrompt() string {
	name := e.agentName
	if name == "" {
		name = "Петрович"
	}
	now := e.now()
	return fmt.Sprintf(`Ты — %s, остроумный и добродушный участник группового чата. `+
		`Отвечай коротко, по-человечески, с лёгким юмором, на языке собеседников. `+
		`Ты видишь сообщения в формате "Имя: текст" — обращайся к людям по имени, когда уместно. `+
		`Если нужна актуальная информация, пользуйся поиском. `+
		`Сегодня %s, время %s.`,
		name,
		now.Format("02.01.2006"),
		now.Format("15:04"))
}

// executeToolRound persists the tool-call turn, runs each requested tool, and
// persists each result before the next Query reads them.
func (e *Engine) executeToolRound(ctx context.Context, threadKey string, response *providers.LLMResponse) error {
	specs := make([]memory.ToolCallSpec, 0, len(response.ToolCalls))
	for _, call := range response.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		specs = append(specs, memory.ToolCallSpec{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: string(args),
		})
	}
	if err := e.store.Append(ctx, threadKey, memory.Turn{
		Role:      memory.RoleToolCall,
		Content:   strings.TrimSpace(response.Content),
		ToolCalls: specs,
	}); err != nil {
		return fmt.Errorf("persist tool-call turn: %w", err)
	}

	for _, call := range response.ToolCalls {
		result := e.tools.Execute(ctx, call.Name, call.Arguments)
		if err := e.store.Append(ctx, threadKey, memory.Turn{
			Role:       memory.RoleToolResult,
			Content:    result.ForLLM,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		}); err != nil {
			return fmt.Errorf("persist tool-result turn: %w", err)
		}
	}
	return nil
}

// toWireMessages converts stored turns into the provider wire shape. Sender
// names are prefixed onto user turns so the model can track who is speaking.
func toWireMessages(turns []memory.Turn) []providers.Message {
	messages := make([]providers.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case memory.RoleSystem:
			messages = append(messages, providers.Message{Role: "system", Content: turn.Content})
		case memory.RoleUser:
			content := turn.Content
			if turn.Sender != "" {
				content = turn.Sender + ": " + content
			}
			messages = append(messages, providers.Message{Role: "user", Content: content})
		case memory.RoleAssistant:
			messages = append(messages, providers.Message{Role: "assistant", Content: turn.Content})
		case memory.RoleToolCall:
			calls := make([]providers.ToolCall, 0, len(turn.ToolCalls))
			for _, spec := range turn.ToolCalls {
				calls = append(calls, providers.ToolCall{
					ID:   spec.ID,
					Type: "function",
					Function: &providers.FunctionCall{
						Name:      spec.Name,
						Arguments: spec.Arguments,
					},
				})
			}
			messages = append(messages, providers.Message{
				Role:      "assistant",
				Content:   turn.Content,
				ToolCalls: calls,
			})
		case memory.RoleToolResult:
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    turn.Content,
				ToolCallID: turn.ToolCallID,
			})
		}
	}
	return messages
}
