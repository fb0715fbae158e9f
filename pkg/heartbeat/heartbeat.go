// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

// Package heartbeat periodically volunteers the agent into quiet chats. On a
// cron schedule it finds threads idle past a threshold and, gated by the same
// random-response probability as the decision policy, runs a volunteered
// reasoning cycle for one of them.
package heartbeat

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/petrovich/pkg/logger"
	"github.com/dotsetgreg/petrovich/pkg/memory"
)

const tickInterval = time.Minute

// ThreadLister exposes the stored threads. Satisfied by memory.Store.
type ThreadLister interface {
	ListThreads(ctx context.Context) ([]memory.ThreadInfo, error)
}

// VolunteerFunc runs one volunteered cycle for a thread.
type VolunteerFunc func(ctx context.Context, threadKey, channel, chatID string)

type Service struct {
	store       ThreadLister
	volunteer   VolunteerFunc
	schedule    string
	idleAfter   time.Duration
	probability float64
	gron        *gronx.Gronx
	randFloat   func() float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

type Options struct {
	Schedule    string
	IdleAfter   time.Duration
	Probability float64
}

func NewService(store ThreadLister, volunteer VolunteerFunc, opts Options) (*Service, error) {
	gron := gronx.New()
	if !gron.IsValid(opts.Schedule) {
		return nil, fmt.Errorf("invalid heartbeat schedule %q", opts.Schedule)
	}
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = 2 * time.Hour
	}

	return &Service{
		store:       store,
		volunteer:   volunteer,
		schedule:    opts.Schedule,
		idleAfter:   opts.IdleAfter,
		probability: opts.Probability,
		gron:        gron,
		randFloat:   rand.Float64,
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)

	logger.InfoCF("heartbeat", "Heartbeat service started", map[string]interface{}{
		"schedule":   s.schedule,
		"idle_after": s.idleAfter.String(),
	})
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	logger.InfoC("heartbeat", "Heartbeat service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.schedule, now)
			if err != nil {
				logger.WarnCF("heartbeat", "Schedule evaluation failed", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			if due {
				s.tick(ctx, now)
			}
		}
	}
}

// tick volunteers into at most one idle thread per due schedule slot so the
// agent never floods multiple chats at once.
func (s *Service) tick(ctx context.Context, now time.Time) {
	candidates, err := s.idleThreads(ctx, now)
	if err != nil {
		logger.WarnCF("heartbeat", "Failed to list threads", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if len(candidates) == 0 {
		return
	}

	if draw := s.randFloat(); draw >= s.probability {
		logger.DebugCF("heartbeat", "Volunteer draw failed, staying quiet", map[string]interface{}{
			"draw": draw, "probability": s.probability,
		})
		return
	}

	picked := candidates[int(s.randFloat()*float64(len(candidates)))%len(candidates)]
	logger.InfoCF("heartbeat", "Volunteering into idle thread", map[string]interface{}{
		"thread": picked.ThreadKey,
		"idle":   now.Sub(picked.LastActivity).String(),
	})
	s.volunteer(ctx, picked.ThreadKey, picked.Channel, picked.ChatID)
}

func (s *Service) idleThreads(ctx context.Context, now time.Time) ([]memory.ThreadInfo, error) {
	infos, err := s.store.ListThreads(ctx)
	if err != nil {
		return nil, err
	}

	var idle []memory.ThreadInfo
	for _, info := range infos {
		if info.Channel == "" || info.ChatID == "" {
			continue
		}
		if info.TurnCount == 0 {
			continue
		}
		if now.Sub(info.LastActivity) >= s.idleAfter {
			idle = append(idle, info)
		}
	}
	return idle, nil
}
