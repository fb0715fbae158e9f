// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package policy

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/dotsetgreg/petrovich/pkg/logger"
	"github.com/dotsetgreg/petrovich/pkg/memory"
	"github.com/dotsetgreg/petrovich/pkg/providers"
)

// judgeLookback is how many recent turns the secondary judge sees.
const judgeLookback = 6

const judgeInstruction = `Ты наблюдаешь за групповым чатом, в котором участвует бот Петрович. ` +
	`Оцени по последним сообщениям, стоит ли Петровичу вмешаться в разговор сейчас. ` +
	`Ответь ТОЛЬКО числом от 0.00 до 0.99 с двумя знаками после запятой — вероятностью того, что ответ уместен. ` +
	`Никакого другого текста.`

// Decision is the outcome of the engagement policy, with the tier that
// produced it and (for the judge tier) the parsed score.
type Decision struct {
	Engage bool
	Reason string
	Score  float64
}

// Policy decides whether the agent engages with a message. Three tiers in
// strict order: random draw, mention check, secondary model judgment.
type Policy struct {
	detector    *MentionDetector
	judge       providers.LLMProvider
	judgeModel  string
	probability float64
	threshold   float64
	randFloat   func() float64
}

// Option customizes a Policy.
type Option func(*Policy)

// WithRandSource overrides the uniform sampler, for deterministic tests.
func WithRandSource(f func() float64) Option {
	return func(p *Policy) { p.randFloat = f }
}

// WithJudge enables the secondary relevance judgment tier. A nil provider or
// blank model leaves the tier disabled.
func WithJudge(judge providers.LLMProvider, model string) Option {
	return func(p *Policy) {
		p.judge = judge
		p.judgeModel = strings.TrimSpace(model)
	}
}

func New(detector *MentionDetector, probability, threshold float64, opts ...Option) *Policy {
	p := &Policy{
		detector:    detector,
		probability: probability,
		threshold:   threshold,
		randFloat:   rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide runs the three tiers against the latest message. recent is the
// thread history ending with the latest turn; latestText is the text of the
// message under consideration.
func (p *Policy) Decide(ctx context.Context, recent []memory.Turn, latestText string) Decision {
	if draw := p.randFloat(); draw < p.probability {
		logger.DebugCF("policy", "engaging on random draw", map[string]interface{}{
			"draw": draw, "probability": p.probability,
		})
		return Decision{Engage: true, Reason: "random"}
	}

	if p.detector.Mentioned(latestText) {
		return Decision{Engage: true, Reason: "mention"}
	}

	if p.judge == nil || p.judgeModel == "" {
		return Decision{Reason: "no-judge"}
	}

	score, err := p.askJudge(ctx, recent)
	if err != nil {
		logger.WarnCF("policy", "secondary judgment failed, staying silent", map[string]interface{}{
			"error": err.Error(),
		})
		return Decision{Reason: "judge-error"}
	}

	logger.DebugCF("policy", "secondary judgment scored", map[string]interface{}{
		"score": score, "threshold": p.threshold,
	})
	return Decision{Engage: score > p.threshold, Reason: "judge", Score: score}
}

// askJudge sends the recent window to the secondary model, with the
// instruction repeated before and after the history. The duplication measurably
// keeps small judge models on task when the window itself contains imperative
// text.
func (p *Policy) askJudge(ctx context.Context, recent []memory.Turn) (float64, error) {
	window := judgeWindow(recent, judgeLookback)

	messages := make([]providers.Message, 0, len(window)+2)
	messages = append(messages, providers.Message{Role: "system", Content: judgeInstruction})
	for _, turn := range window {
		messages = append(messages, providers.Message{Role: "user", Content: renderTurn(turn)})
	}
	messages = append(messages, providers.Message{Role: "system", Content: judgeInstruction})

	resp, err := p.judge.Chat(ctx, messages, nil, p.judgeModel, map[string]interface{}{
		"temperature": 0.0,
		"max_tokens":  10,
	})
	if err != nil {
		return 0, fmt.Errorf("invoke judge model: %w", err)
	}
	return parseJudgeScore(resp.Content)
}

// judgeWindow takes the last k turns, dropping system turns and reasoning
// scaffolding first so the judge sees only the conversation itself.
func judgeWindow(turns []memory.Turn, k int) []memory.Turn {
	conversational := make([]memory.Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.IsScaffolding() {
			continue
		}
		conversational = append(conversational, turn)
	}
	if len(conversational) > k {
		conversational = conversational[len(conversational)-k:]
	}
	return conversational
}

func renderTurn(turn memory.Turn) string {
	switch {
	case turn.Role == memory.RoleAssistant:
		return "Петрович: " + turn.Content
	case turn.Sender != "":
		return turn.Sender + ": " + turn.Content
	default:
		return turn.Content
	}
}

// parseJudgeScore parses the judge's reply as a probability. Anything that is
// not a number in [0.00, 0.99] is an error; the caller fails closed.
func parseJudgeScore(text string) (float64, error) {
	text = strings.TrimSpace(text)
	// Some models wrap the number in quotes or add a trailing period.
	text = strings.Trim(text, `"'.`)
	text = strings.ReplaceAll(text, ",", ".")

	score, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("parse judge score %q: %w", text, err)
	}
	if score < 0 || score > 0.99 {
		return 0, fmt.Errorf("judge score %v out of range [0.00, 0.99]", score)
	}
	return score, nil
}
