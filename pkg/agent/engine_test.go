package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/petrovich/pkg/memory"
	"github.com/dotsetgreg/petrovich/pkg/providers"
	"github.com/dotsetgreg/petrovich/pkg/tools"
)

func newEngineFixture(t *testing.T, provider providers.LLMProvider) (*Engine, *memory.Store) {
	t.Helper()
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := NewEngine(provider, tools.NewToolRegistry(), store, EngineOptions{
		Model:         "test-model",
		MaxIterations: 3,
		AgentName:     "Петрович",
	})
	return engine, store
}

func TestEngine_InjectsPersonaOnce(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "готово", FinishReason: "stop"},
	}}
	engine, store := newEngineFixture(t, provider)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "discord:1",
		memory.Turn{Role: memory.RoleUser, Sender: "Ваня", Content: "Петрович?"}))

	_, err := engine.Respond(ctx, "discord:1")
	require.NoError(t, err)

	turns, err := store.Load(ctx, "discord:1")
	require.NoError(t, err)

	systemCount := 0
	for _, turn := range turns {
		if turn.Role == memory.RoleSystem {
			systemCount++
		}
	}
	require.Equal(t, 1, systemCount)

	// A second cycle on the unpruned thread must not add another persona turn.
	provider.responses = []*providers.LLMResponse{{Content: "ещё раз", FinishReason: "stop"}}
	_, err = engine.Respond(ctx, "discord:1")
	require.NoError(t, err)

	turns, err = store.Load(ctx, "discord:1")
	require.NoError(t, err)
	systemCount = 0
	for _, turn := range turns {
		if turn.Role == memory.RoleSystem {
			systemCount++
		}
	}
	require.Equal(t, 1, systemCount)
}

func TestEngine_PersonaCarriesDate(t *testing.T) {
	engine, _ := newEngineFixture(t, &scriptedProvider{})
	engine.now = func() time.Time {
		return time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)
	}

	prompt := engine.personaPrompt()
	require.Contains(t, prompt, "Петрович")
	require.Contains(t, prompt, "30.08.2026")
	require.Contains(t, prompt, "14:05")
}

func TestEngine_PersistsEveryTurnBeforeNextQuery(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{
			ToolCalls: []providers.ToolCall{{
				ID:        "call_1",
				Name:      "echo",
				Arguments: map[string]interface{}{"text": "hi"},
			}},
			FinishReason: "tool_calls",
		},
		{Content: "сделано", FinishReason: "stop"},
	}}
	engine, store := newEngineFixture(t, provider)
	engine.tools.Register(&staticTool{name: "echo", reply: "hi"})
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "discord:1",
		memory.Turn{Role: memory.RoleUser, Content: "Петрович, эхо"}))

	reply, err := engine.Respond(ctx, "discord:1")
	require.NoError(t, err)
	require.Equal(t, "сделано", reply)

	turns, err := store.Load(ctx, "discord:1")
	require.NoError(t, err)
	// user, persona, tool-call, tool-result, assistant
	require.Len(t, turns, 5)
	require.Equal(t, memory.RoleToolCall, turns[2].Role)
	require.Equal(t, memory.RoleToolResult, turns[3].Role)
	require.Equal(t, "call_1", turns[3].ToolCallID)
	require.Equal(t, memory.RoleAssistant, turns[4].Role)
}

func TestToWireMessages(t *testing.T) {
	turns := []memory.Turn{
		{Role: memory.RoleSystem, Content: "persona"},
		{Role: memory.RoleUser, Sender: "Оля", Content: "привет"},
		{Role: memory.RoleToolCall, ToolCalls: []memory.ToolCallSpec{
			{ID: "call_1", Name: "web_search", Arguments: `{"query":"x"}`},
		}},
		{Role: memory.RoleToolResult, ToolCallID: "call_1", Content: "результат"},
		{Role: memory.RoleAssistant, Content: "ответ"},
	}

	messages := toWireMessages(turns)
	require.Len(t, messages, 5)
	require.Equal(t, "system", messages[0].Role)
	require.Equal(t, "Оля: привет", messages[1].Content)
	require.Equal(t, "assistant", messages[2].Role)
	require.Len(t, messages[2].ToolCalls, 1)
	require.Equal(t, "web_search", messages[2].ToolCalls[0].Function.Name)
	require.Equal(t, "tool", messages[3].Role)
	require.Equal(t, "call_1", messages[3].ToolCallID)
	require.Equal(t, "assistant", messages[4].Role)
}
