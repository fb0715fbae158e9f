package policy

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/petrovich/pkg/memory"
	"github.com/dotsetgreg/petrovich/pkg/providers"
)

type stubJudge struct {
	reply    string
	err      error
	lastSent []providers.Message
}

func (s *stubJudge) Chat(_ context.Context, messages []providers.Message, _ []providers.ToolDefinition, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	s.lastSent = messages
	if s.err != nil {
		return nil, s.err
	}
	return &providers.LLMResponse{Content: s.reply, FinishReason: "stop"}, nil
}

func (s *stubJudge) GetDefaultModel() string { return "stub-judge" }

func testIdentity() Identity {
	return Identity{Name: "Петрович", Handle: "petrovich_bot"}
}

func TestMentionDetector(t *testing.T) {
	detector := NewMentionDetector(testIdentity())

	cases := []struct {
		text string
		want bool
	}{
		{"Петрович, привет", true},
		{"а что скажет ПЕТРОВИЧ?", true},
		{"эй бот, ты тут?", true},
		{"this bot is useless", true},
		{"@petrovich_bot расскажи анекдот", true},
		{"обычное сообщение про погоду", false},
		{"", false},
		{"   ", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, detector.Mentioned(tc.text), "text=%q", tc.text)
	}
}

func TestPolicy_MentionAlwaysEngages(t *testing.T) {
	p := New(NewMentionDetector(testIdentity()), 0, 0.5,
		WithRandSource(func() float64 { return 0.99 }))

	decision := p.Decide(context.Background(), nil, "Петрович, привет")
	require.True(t, decision.Engage)
	require.Equal(t, "mention", decision.Reason)
}

func TestPolicy_RandomDrawPrecedesMentionCheck(t *testing.T) {
	p := New(NewMentionDetector(testIdentity()), 1.0, 0.5,
		WithRandSource(func() float64 { return 0.0 }))

	decision := p.Decide(context.Background(), nil, "ничего интересного")
	require.True(t, decision.Engage)
	require.Equal(t, "random", decision.Reason)
}

func TestPolicy_RandomRateConverges(t *testing.T) {
	const probability = 0.05
	src := rand.New(rand.NewSource(42))
	p := New(NewMentionDetector(testIdentity()), probability, 0.5,
		WithRandSource(src.Float64))

	const samples = 20000
	engaged := 0
	for i := 0; i < samples; i++ {
		if p.Decide(context.Background(), nil, "про погоду").Engage {
			engaged++
		}
	}
	rate := float64(engaged) / samples
	require.InDelta(t, probability, rate, 0.01)
}

func TestPolicy_JudgeAboveThresholdEngages(t *testing.T) {
	judge := &stubJudge{reply: "0.87"}
	p := New(NewMentionDetector(testIdentity()), 0, 0.5,
		WithRandSource(func() float64 { return 0.99 }),
		WithJudge(judge, "judge-model"))

	decision := p.Decide(context.Background(), nil, "как думаете, куда поехать летом?")
	require.True(t, decision.Engage)
	require.Equal(t, "judge", decision.Reason)
	require.InDelta(t, 0.87, decision.Score, 1e-9)
}

func TestPolicy_JudgeBelowThresholdStaysSilent(t *testing.T) {
	judge := &stubJudge{reply: "0.30"}
	p := New(NewMentionDetector(testIdentity()), 0, 0.5,
		WithRandSource(func() float64 { return 0.99 }),
		WithJudge(judge, "judge-model"))

	decision := p.Decide(context.Background(), nil, "обсуждаем свои дела")
	require.False(t, decision.Engage)
	require.InDelta(t, 0.30, decision.Score, 1e-9)
}

func TestPolicy_JudgeGarbageFailsClosed(t *testing.T) {
	judge := &stubJudge{reply: "not a number"}
	p := New(NewMentionDetector(testIdentity()), 0, 0.5,
		WithRandSource(func() float64 { return 0.99 }),
		WithJudge(judge, "judge-model"))

	require.False(t, p.Decide(context.Background(), nil, "что-то").Engage)
}

func TestPolicy_JudgeErrorFailsClosed(t *testing.T) {
	judge := &stubJudge{err: errors.New("503")}
	p := New(NewMentionDetector(testIdentity()), 0, 0.5,
		WithRandSource(func() float64 { return 0.99 }),
		WithJudge(judge, "judge-model"))

	decision := p.Decide(context.Background(), nil, "что-то")
	require.False(t, decision.Engage)
	require.Equal(t, "judge-error", decision.Reason)
}

func TestPolicy_JudgePromptBracketsHistory(t *testing.T) {
	judge := &stubJudge{reply: "0.10"}
	p := New(NewMentionDetector(testIdentity()), 0, 0.5,
		WithRandSource(func() float64 { return 0.99 }),
		WithJudge(judge, "judge-model"))

	recent := []memory.Turn{
		{Role: memory.RoleSystem, Content: "persona"},
		{Role: memory.RoleUser, Sender: "Оля", Content: "кто смотрел новый фильм?"},
		{Role: memory.RoleAssistant, Content: "Я смотрел."},
	}
	p.Decide(context.Background(), recent, "кто смотрел новый фильм?")

	sent := judge.lastSent
	require.Len(t, sent, 4)
	require.Equal(t, "system", sent[0].Role)
	require.Equal(t, "system", sent[len(sent)-1].Role)
	require.Equal(t, sent[0].Content, sent[len(sent)-1].Content)
	require.Equal(t, "Оля: кто смотрел новый фильм?", sent[1].Content)
	require.Equal(t, "Петрович: Я смотрел.", sent[2].Content)
}

func TestJudgeWindow_KeepsLastConversationalTurns(t *testing.T) {
	var turns []memory.Turn
	for i := 0; i < 10; i++ {
		turns = append(turns, memory.Turn{Role: memory.RoleUser, Content: "msg"})
	}
	turns = append(turns, memory.Turn{Role: memory.RoleToolResult, Content: "tool"})

	window := judgeWindow(turns, 6)
	require.Len(t, window, 6)
	for _, turn := range window {
		require.False(t, turn.IsScaffolding())
	}
}

func TestParseJudgeScore(t *testing.T) {
	score, err := parseJudgeScore(" 0.42\n")
	require.NoError(t, err)
	require.InDelta(t, 0.42, score, 1e-9)

	score, err = parseJudgeScore("0,75")
	require.NoError(t, err)
	require.InDelta(t, 0.75, score, 1e-9)

	_, err = parseJudgeScore("1.50")
	require.Error(t, err)

	_, err = parseJudgeScore("")
	require.Error(t, err)
}
