// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dotsetgreg/petrovich/pkg/bus"
	"github.com/dotsetgreg/petrovich/pkg/logger"
	"github.com/dotsetgreg/petrovich/pkg/memory"
	"github.com/dotsetgreg/petrovich/pkg/policy"
	"github.com/dotsetgreg/petrovich/pkg/transcribe"
)

// CycleOutcome is the terminal state of one processed event.
type CycleOutcome string

const (
	OutcomeReplied    CycleOutcome = "replied"
	OutcomeSuppressed CycleOutcome = "suppressed"
)

// Transcriber is the media-to-text collaborator the orchestrator needs.
// Satisfied by transcribe.Pipeline.
type Transcriber interface {
	Voice(ctx context.Context, url, filename string) (string, error)
	Video(ctx context.Context, url, filename string) (string, error)
}

// Orchestrator runs the per-event pipeline: normalize the inbound event into
// a turn, decide whether to engage, reason, prune, then reply or stay silent.
// Each inbound event gets its own goroutine; events for the same thread queue
// behind the thread lock.
type Orchestrator struct {
	bus          *bus.MessageBus
	store        *memory.Store
	policy       *policy.Policy
	engine       *Engine
	transcriber  Transcriber
	historyLimit int
	running      atomic.Bool
	wg           sync.WaitGroup
}

func NewOrchestrator(msgBus *bus.MessageBus, store *memory.Store, pol *policy.Policy, engine *Engine, transcriber Transcriber, historyLimit int) *Orchestrator {
	return &Orchestrator{
		bus:          msgBus,
		store:        store,
		policy:       pol,
		engine:       engine,
		transcriber:  transcriber,
		historyLimit: historyLimit,
	}
}

// Run consumes inbound events until the context is canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.running.Store(true)

	for o.running.Load() {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return nil
		default:
			msg, ok := o.bus.ConsumeInbound(ctx)
			if !ok {
				continue
			}
			o.wg.Add(1)
			go func(msg bus.InboundMessage) {
				defer o.wg.Done()
				o.ProcessEvent(ctx, msg)
			}(msg)
		}
	}

	o.wg.Wait()
	return nil
}

func (o *Orchestrator) Stop() {
	o.running.Store(false)
}

// ProcessEvent runs the full pipeline for one inbound event and returns its
// terminal state. Errors never leave this method: every failure is logged and
// collapses to Suppressed.
func (o *Orchestrator) ProcessEvent(ctx context.Context, msg bus.InboundMessage) CycleOutcome {
	threadKey := msg.ThreadKey()

	turn, decisionText, ingest, err := o.normalize(ctx, msg)
	if err != nil {
		logger.ErrorCF("agent", "Failed to normalize inbound event", map[string]interface{}{
			"thread": threadKey,
			"kind":   string(msg.Kind),
			"error":  err.Error(),
		})
		return OutcomeSuppressed
	}
	if !ingest {
		return OutcomeSuppressed
	}

	unlock := o.store.LockThread(threadKey)
	defer unlock()

	if err := o.store.Append(ctx, threadKey, turn); err != nil {
		logger.ErrorCF("agent", "Failed to append inbound turn", map[string]interface{}{
			"thread": threadKey,
			"error":  err.Error(),
		})
		return OutcomeSuppressed
	}
	if err := o.store.SetThreadOrigin(ctx, threadKey, msg.Channel, msg.ChatID); err != nil {
		logger.WarnCF("agent", "Failed to record thread origin", map[string]interface{}{
			"thread": threadKey,
			"error":  err.Error(),
		})
	}

	outcome := OutcomeSuppressed
	if !turn.SuppressResponse {
		outcome = o.decideAndReason(ctx, threadKey, msg, decisionText)
	}

	o.prune(ctx, threadKey)
	return outcome
}

func (o *Orchestrator) decideAndReason(ctx context.Context, threadKey string, msg bus.InboundMessage, decisionText string) CycleOutcome {
	recent, err := o.store.Load(ctx, threadKey)
	if err != nil {
		logger.ErrorCF("agent", "Failed to load thread for decision", map[string]interface{}{
			"thread": threadKey,
			"error":  err.Error(),
		})
		return OutcomeSuppressed
	}

	decision := o.policy.Decide(ctx, recent, decisionText)
	logger.InfoCF("agent", "Engagement decision", map[string]interface{}{
		"thread": threadKey,
		"engage": decision.Engage,
		"reason": decision.Reason,
	})
	if !decision.Engage {
		return OutcomeSuppressed
	}

	reply, err := o.engine.Respond(ctx, threadKey)
	if err != nil {
		if errors.Is(err, ErrIterationCapReached) {
			logger.WarnCF("agent", "Reasoning exceeded tool-call cap", map[string]interface{}{
				"thread": threadKey,
			})
		} else {
			logger.ErrorCF("agent", "Reasoning cycle failed", map[string]interface{}{
				"thread": threadKey,
				"error":  err.Error(),
			})
		}
		return OutcomeSuppressed
	}

	o.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	})
	return OutcomeReplied
}

// Volunteer runs a reasoning cycle for an idle thread without a triggering
// inbound event. Used by the heartbeat service to keep quiet chats lively.
func (o *Orchestrator) Volunteer(ctx context.Context, threadKey, channel, chatID string) CycleOutcome {
	unlock := o.store.LockThread(threadKey)
	defer unlock()

	turns, err := o.store.Load(ctx, threadKey)
	if err != nil || len(turns) == 0 {
		return OutcomeSuppressed
	}

	reply, err := o.engine.Respond(ctx, threadKey)
	if err != nil {
		logger.WarnCF("agent", "Volunteered cycle failed", map[string]interface{}{
			"thread": threadKey,
			"error":  err.Error(),
		})
		o.prune(ctx, threadKey)
		return OutcomeSuppressed
	}

	o.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: reply,
	})
	o.prune(ctx, threadKey)
	return OutcomeReplied
}

// normalize converts an inbound event into the turn to persist plus the text
// the decision policy should see. ingest=false means nothing enters history
// (a video without an audio track).
func (o *Orchestrator) normalize(ctx context.Context, msg bus.InboundMessage) (turn memory.Turn, decisionText string, ingest bool, err error) {
	switch msg.Kind {
	case bus.KindText:
		return memory.Turn{
			Role:    memory.RoleUser,
			Sender:  msg.SenderName,
			Content: msg.Text,
		}, msg.Text, true, nil

	case bus.KindVoice:
		if o.transcriber == nil {
			return memory.Turn{}, "", false, fmt.Errorf("voice message received but transcription is not configured")
		}
		transcript, terr := o.transcriber.Voice(ctx, msg.AttachmentRef, msg.AttachmentName)
		if terr != nil {
			return memory.Turn{}, "", false, fmt.Errorf("transcribe voice: %w", terr)
		}
		return memory.Turn{
			Role:    memory.RoleUser,
			Sender:  msg.SenderName,
			Content: transcript,
		}, transcript, true, nil

	case bus.KindVideo:
		if o.transcriber == nil {
			return memory.Turn{}, "", false, fmt.Errorf("video message received but transcription is not configured")
		}
		transcript, terr := o.transcriber.Video(ctx, msg.AttachmentRef, msg.AttachmentName)
		if errors.Is(terr, transcribe.ErrNoAudioTrack) {
			logger.DebugCF("agent", "Video without audio track, nothing to ingest", map[string]interface{}{
				"thread": msg.ThreadKey(),
			})
			return memory.Turn{}, "", false, nil
		}
		if terr != nil {
			return memory.Turn{}, "", false, fmt.Errorf("transcribe video: %w", terr)
		}
		// Video transcripts enrich context but never trigger a reply.
		return memory.Turn{
			Role:             memory.RoleUser,
			Sender:           msg.SenderName,
			Content:          fmt.Sprintf("[видео от %s]: %s", msg.SenderName, transcript),
			SuppressResponse: true,
		}, "", true, nil

	case bus.KindPhoto:
		return memory.Turn{
			Role:    memory.RoleUser,
			Sender:  msg.SenderName,
			Content: attachmentNote("фото", msg.AttachmentName, msg.Text),
		}, msg.Text, true, nil

	case bus.KindDocument:
		return memory.Turn{
			Role:    memory.RoleUser,
			Sender:  msg.SenderName,
			Content: attachmentNote("документ", msg.AttachmentName, msg.Text),
		}, msg.Text, true, nil

	default:
		return memory.Turn{}, "", false, fmt.Errorf("unknown content kind %q", msg.Kind)
	}
}

func attachmentNote(kind, name, caption string) string {
	note := "[" + kind
	if name != "" {
		note += ": " + name
	}
	note += "]"
	if caption != "" {
		note += " " + caption
	}
	return note
}

// prune runs both phases unconditionally after every cycle, replied or not.
func (o *Orchestrator) prune(ctx context.Context, threadKey string) {
	sanitized, bounded, err := o.store.Prune(ctx, threadKey, o.historyLimit)
	if err != nil {
		logger.ErrorCF("agent", "Prune failed", map[string]interface{}{
			"thread": threadKey,
			"error":  err.Error(),
		})
		return
	}
	if sanitized > 0 || bounded > 0 {
		logger.DebugCF("agent", "Pruned thread history", map[string]interface{}{
			"thread":    threadKey,
			"sanitized": sanitized,
			"bounded":   bounded,
		})
	}
}
