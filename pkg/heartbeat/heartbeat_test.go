package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/dotsetgreg/petrovich/pkg/memory"
)

type fakeLister struct {
	infos []memory.ThreadInfo
}

func (f *fakeLister) ListThreads(context.Context) ([]memory.ThreadInfo, error) {
	return f.infos, nil
}

func TestNewService_RejectsInvalidSchedule(t *testing.T) {
	_, err := NewService(&fakeLister{}, nil, Options{Schedule: "not a cron"})
	if err == nil {
		t.Fatal("expected invalid schedule error")
	}
}

func TestTick_VolunteersIntoIdleThread(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{infos: []memory.ThreadInfo{
		{ThreadKey: "discord:1", Channel: "discord", ChatID: "1", TurnCount: 5, LastActivity: now.Add(-3 * time.Hour)},
		{ThreadKey: "discord:2", Channel: "discord", ChatID: "2", TurnCount: 5, LastActivity: now.Add(-time.Minute)},
	}}

	var volunteered []string
	svc, err := NewService(lister, func(_ context.Context, threadKey, _, _ string) {
		volunteered = append(volunteered, threadKey)
	}, Options{Schedule: "*/30 * * * *", IdleAfter: 2 * time.Hour, Probability: 1.0})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.randFloat = func() float64 { return 0.0 }

	svc.tick(context.Background(), now)

	if len(volunteered) != 1 {
		t.Fatalf("expected 1 volunteered thread, got %d", len(volunteered))
	}
	if volunteered[0] != "discord:1" {
		t.Errorf("volunteered into %q, want the idle thread", volunteered[0])
	}
}

func TestTick_ProbabilityGateHolds(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{infos: []memory.ThreadInfo{
		{ThreadKey: "discord:1", Channel: "discord", ChatID: "1", TurnCount: 5, LastActivity: now.Add(-3 * time.Hour)},
	}}

	called := false
	svc, err := NewService(lister, func(context.Context, string, string, string) {
		called = true
	}, Options{Schedule: "* * * * *", IdleAfter: time.Hour, Probability: 0.05})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.randFloat = func() float64 { return 0.9 }

	svc.tick(context.Background(), now)
	if called {
		t.Error("volunteer should not run when the draw misses")
	}
}

func TestIdleThreads_SkipsOriginlessAndEmpty(t *testing.T) {
	now := time.Now()
	lister := &fakeLister{infos: []memory.ThreadInfo{
		{ThreadKey: "discord:1", TurnCount: 5, LastActivity: now.Add(-3 * time.Hour)},
		{ThreadKey: "discord:2", Channel: "discord", ChatID: "2", TurnCount: 0, LastActivity: now.Add(-3 * time.Hour)},
		{ThreadKey: "discord:3", Channel: "discord", ChatID: "3", TurnCount: 2, LastActivity: now.Add(-3 * time.Hour)},
	}}

	svc, err := NewService(lister, nil, Options{Schedule: "* * * * *", IdleAfter: time.Hour, Probability: 1})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	idle, err := svc.idleThreads(context.Background(), now)
	if err != nil {
		t.Fatalf("idleThreads: %v", err)
	}
	if len(idle) != 1 || idle[0].ThreadKey != "discord:3" {
		t.Errorf("idleThreads = %+v", idle)
	}
}
