package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/petrovich/pkg/bus"
	"github.com/dotsetgreg/petrovich/pkg/memory"
	"github.com/dotsetgreg/petrovich/pkg/policy"
	"github.com/dotsetgreg/petrovich/pkg/providers"
	"github.com/dotsetgreg/petrovich/pkg/tools"
	"github.com/dotsetgreg/petrovich/pkg/transcribe"
)

// scriptedProvider replays canned responses in order.
type scriptedProvider struct {
	responses []*providers.LLMResponse
	err       error
	calls     int
}

func (p *scriptedProvider) Chat(_ context.Context, _ []providers.Message, _ []providers.ToolDefinition, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &providers.LLMResponse{Content: "ответ по умолчанию", FinishReason: "stop"}, nil
	}
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "scripted" }

type fakeTranscriber struct {
	voiceText string
	videoText string
	videoErr  error
}

func (f *fakeTranscriber) Voice(context.Context, string, string) (string, error) {
	return f.voiceText, nil
}

func (f *fakeTranscriber) Video(context.Context, string, string) (string, error) {
	if f.videoErr != nil {
		return "", f.videoErr
	}
	return f.videoText, nil
}

type fixture struct {
	bus   *bus.MessageBus
	store *memory.Store
	orch  *Orchestrator
}

func newFixture(t *testing.T, provider providers.LLMProvider, transcriber Transcriber, historyLimit int) *fixture {
	t.Helper()

	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	msgBus := bus.NewMessageBus()
	t.Cleanup(msgBus.Close)

	registry := tools.NewToolRegistry()
	engine := NewEngine(provider, registry, store, EngineOptions{
		Model:         "test-model",
		MaxIterations: 5,
		AgentName:     "Петрович",
	})

	detector := policy.NewMentionDetector(policy.Identity{Name: "Петрович", Handle: "petrovich_bot"})
	pol := policy.New(detector, 0, 0.5, policy.WithRandSource(func() float64 { return 0.99 }))

	return &fixture{
		bus:   msgBus,
		store: store,
		orch:  NewOrchestrator(msgBus, store, pol, engine, transcriber, historyLimit),
	}
}

func (f *fixture) registerTool(tool tools.Tool) {
	f.orch.engine.tools.Register(tool)
}

func (f *fixture) outbound(t *testing.T) (bus.OutboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	return f.bus.SubscribeOutbound(ctx)
}

func textEvent(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "discord",
		ChatID:     "42",
		SenderID:   "u1",
		SenderName: "Оля",
		Kind:       bus.KindText,
		Text:       text,
	}
}

func TestProcessEvent_MentionProducesReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "Привет, Оля!", FinishReason: "stop"},
	}}
	f := newFixture(t, provider, nil, 30)

	outcome := f.orch.ProcessEvent(context.Background(), textEvent("Петрович, привет"))
	require.Equal(t, OutcomeReplied, outcome)

	out, ok := f.outbound(t)
	require.True(t, ok)
	require.Equal(t, "Привет, Оля!", out.Content)
	require.Equal(t, "42", out.ChatID)

	turns, err := f.store.Load(context.Background(), "discord:42")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, memory.RoleUser, turns[0].Role)
	require.Equal(t, memory.RoleAssistant, turns[1].Role)
}

func TestProcessEvent_NoTriggerStaysSilentButPrunes(t *testing.T) {
	f := newFixture(t, &scriptedProvider{}, nil, 3)

	for i := 0; i < 5; i++ {
		outcome := f.orch.ProcessEvent(context.Background(), textEvent(fmt.Sprintf("сообщение %d", i)))
		require.Equal(t, OutcomeSuppressed, outcome)
	}

	if _, ok := f.outbound(t); ok {
		t.Fatal("no reply expected")
	}

	turns, err := f.store.Load(context.Background(), "discord:42")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	require.Equal(t, "сообщение 2", turns[0].Content)
}

func TestProcessEvent_ToolRoundTrip(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{
			ToolCalls: []providers.ToolCall{{
				ID:        "call_1",
				Name:      "weather",
				Arguments: map[string]interface{}{"city": "Москва"},
			}},
			FinishReason: "tool_calls",
		},
		{Content: "В Москве +21.", FinishReason: "stop"},
	}}
	f := newFixture(t, provider, nil, 30)
	f.registerTool(&staticTool{name: "weather", reply: "+21C"})

	outcome := f.orch.ProcessEvent(context.Background(), textEvent("Петрович, какая погода?"))
	require.Equal(t, OutcomeReplied, outcome)
	require.Equal(t, 2, provider.calls)

	out, ok := f.outbound(t)
	require.True(t, ok)
	require.Equal(t, "В Москве +21.", out.Content)

	// Prune already ran: scaffolding must be gone.
	turns, err := f.store.Load(context.Background(), "discord:42")
	require.NoError(t, err)
	for _, turn := range turns {
		require.False(t, turn.IsScaffolding())
	}
}

func TestProcessEvent_ModelFailureSuppressed(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("quota exceeded")}
	f := newFixture(t, provider, nil, 30)

	outcome := f.orch.ProcessEvent(context.Background(), textEvent("Петрович, ты тут?"))
	require.Equal(t, OutcomeSuppressed, outcome)

	if _, ok := f.outbound(t); ok {
		t.Fatal("errors must never reach the channel")
	}
}

func TestProcessEvent_IterationCapSuppressed(t *testing.T) {
	// The model never stops asking for tools.
	looping := &scriptedProvider{responses: []*providers.LLMResponse{
		{
			ToolCalls:    []providers.ToolCall{{ID: "call_x", Name: "weather", Arguments: map[string]interface{}{}}},
			FinishReason: "tool_calls",
		},
	}}
	f := newFixture(t, looping, nil, 30)
	f.registerTool(&staticTool{name: "weather", reply: "+21C"})

	outcome := f.orch.ProcessEvent(context.Background(), textEvent("Петрович, зациклись"))
	require.Equal(t, OutcomeSuppressed, outcome)
	require.Equal(t, 5, looping.calls)
}

func TestProcessEvent_VoiceTranscriptTreatedAsText(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "Слышу тебя!", FinishReason: "stop"},
	}}
	transcriber := &fakeTranscriber{voiceText: "Петрович, расскажи анекдот"}
	f := newFixture(t, provider, transcriber, 30)

	msg := textEvent("")
	msg.Kind = bus.KindVoice
	msg.AttachmentRef = "https://cdn.example/voice.ogg"
	msg.AttachmentName = "voice.ogg"

	outcome := f.orch.ProcessEvent(context.Background(), msg)
	require.Equal(t, OutcomeReplied, outcome)

	turns, err := f.store.Load(context.Background(), "discord:42")
	require.NoError(t, err)
	require.Equal(t, "Петрович, расскажи анекдот", turns[0].Content)
}

func TestProcessEvent_VideoTranscriptSuppressedButStored(t *testing.T) {
	transcriber := &fakeTranscriber{videoText: "закадровый текст ролика"}
	f := newFixture(t, &scriptedProvider{}, transcriber, 30)

	msg := textEvent("")
	msg.Kind = bus.KindVideo
	msg.AttachmentRef = "https://cdn.example/clip.mp4"
	msg.AttachmentName = "clip.mp4"

	outcome := f.orch.ProcessEvent(context.Background(), msg)
	require.Equal(t, OutcomeSuppressed, outcome)

	if _, ok := f.outbound(t); ok {
		t.Fatal("suppressed turn must never produce a reply")
	}

	turns, err := f.store.Load(context.Background(), "discord:42")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.True(t, turns[0].SuppressResponse)
	require.Contains(t, turns[0].Content, "закадровый текст ролика")
}

func TestProcessEvent_SilentVideoIngestsNothing(t *testing.T) {
	transcriber := &fakeTranscriber{videoErr: transcribe.ErrNoAudioTrack}
	f := newFixture(t, &scriptedProvider{}, transcriber, 30)

	msg := textEvent("")
	msg.Kind = bus.KindVideo
	msg.AttachmentRef = "https://cdn.example/silent.mp4"

	outcome := f.orch.ProcessEvent(context.Background(), msg)
	require.Equal(t, OutcomeSuppressed, outcome)

	turns, err := f.store.Load(context.Background(), "discord:42")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestProcessEvent_PhotoDecisionRunsOnCaption(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "Отличное фото!", FinishReason: "stop"},
	}}
	f := newFixture(t, provider, nil, 30)

	msg := textEvent("Петрович, оцени")
	msg.Kind = bus.KindPhoto
	msg.AttachmentName = "sunset.jpg"

	outcome := f.orch.ProcessEvent(context.Background(), msg)
	require.Equal(t, OutcomeReplied, outcome)

	turns, err := f.store.Load(context.Background(), "discord:42")
	require.NoError(t, err)
	require.Contains(t, turns[0].Content, "[фото: sunset.jpg]")
	require.Contains(t, turns[0].Content, "Петрович, оцени")
}

type staticTool struct {
	name  string
	reply string
}

func (t *staticTool) Name() string                       { return t.name }
func (t *staticTool) Description() string                { return "static test tool" }
func (t *staticTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (t *staticTool) Execute(context.Context, map[string]interface{}) *tools.ToolResult {
	return &tools.ToolResult{ForLLM: t.reply, ForUser: t.reply}
}
