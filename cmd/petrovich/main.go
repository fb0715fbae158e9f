// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/dotsetgreg/petrovich/pkg/agent"
	"github.com/dotsetgreg/petrovich/pkg/bus"
	"github.com/dotsetgreg/petrovich/pkg/channels"
	"github.com/dotsetgreg/petrovich/pkg/config"
	"github.com/dotsetgreg/petrovich/pkg/heartbeat"
	"github.com/dotsetgreg/petrovich/pkg/logger"
	"github.com/dotsetgreg/petrovich/pkg/memory"
	"github.com/dotsetgreg/petrovich/pkg/policy"
	"github.com/dotsetgreg/petrovich/pkg/providers"
	"github.com/dotsetgreg/petrovich/pkg/tools"
	"github.com/dotsetgreg/petrovich/pkg/transcribe"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

const appName = "petrovich"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	fmt.Printf("  Go: %s\n", runtime.Version())
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".petrovich", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

// runtimeComponents is everything the serve and chat commands share.
type runtimeComponents struct {
	cfg   *config.Config
	bus   *bus.MessageBus
	store *memory.Store
	orch  *agent.Orchestrator
}

func (r *runtimeComponents) close() {
	r.bus.Close()
	if err := r.store.Close(); err != nil {
		logger.WarnCF("main", "Failed to close memory store", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logger.Sync()
}

// buildRuntime wires config, logger, store, provider, tools, policy, and the
// orchestrator. alwaysEngage forces the decision policy open, for the local
// REPL where silence would just be confusing.
func buildRuntime(cfg *config.Config, alwaysEngage bool) (*runtimeComponents, error) {
	logger.Configure(cfg.Logging.Level, cfg.Logging.File)

	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	store, err := memory.NewStore(filepath.Join(workspace, "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create model provider: %w", err)
	}

	registry := tools.NewToolRegistry()
	if searchTool := tools.NewWebSearchTool(cfg.Tools.Web); searchTool != nil {
		registry.Register(searchTool)
	} else {
		logger.WarnC("main", "No web search backend enabled")
	}

	engine := agent.NewEngine(provider, registry, store, agent.EngineOptions{
		Model:         cfg.Agent.Model,
		MaxIterations: cfg.Agent.MaxToolIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		AgentName:     cfg.Agent.Name,
	})

	probability := cfg.Policy.RandomResponseProbability
	if alwaysEngage {
		probability = 1.0
	}
	detector := policy.NewMentionDetector(policy.Identity{
		Name:   cfg.Agent.Name,
		Handle: cfg.Agent.Handle,
	})
	policyOpts := []policy.Option{}
	if cfg.JudgeConfigured() {
		policyOpts = append(policyOpts, policy.WithJudge(provider, cfg.Agent.JudgeModel))
	}
	pol := policy.New(detector, probability, cfg.Policy.DecisionThreshold, policyOpts...)

	var transcriber agent.Transcriber
	if whisper, werr := providers.NewWhisperTranscriber(cfg); werr != nil {
		logger.WarnCF("main", "Transcription unavailable, voice/video will be skipped", map[string]interface{}{
			"error": werr.Error(),
		})
	} else {
		transcriber = transcribe.NewPipeline(whisper, filepath.Join(workspace, "tmp"))
	}

	msgBus := bus.NewMessageBus()
	orch := agent.NewOrchestrator(msgBus, store, pol, engine, transcriber, cfg.Policy.HistoryLimit)

	return &runtimeComponents{
		cfg:   cfg,
		bus:   msgBus,
		store: store,
		orch:  orch,
	}, nil
}

func serveCmd(debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	rt, err := buildRuntime(cfg, false)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, err := channels.NewManager(cfg, rt.bus)
	if err != nil {
		return fmt.Errorf("initialize channels: %w", err)
	}
	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	go func() {
		if err := rt.orch.Run(ctx); err != nil {
			logger.ErrorCF("main", "Orchestrator stopped with error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	var hb *heartbeat.Service
	if cfg.Heartbeat.Enabled {
		hb, err = heartbeat.NewService(rt.store,
			func(ctx context.Context, threadKey, channel, chatID string) {
				rt.orch.Volunteer(ctx, threadKey, channel, chatID)
			},
			heartbeat.Options{
				Schedule:    cfg.Heartbeat.Schedule,
				IdleAfter:   time.Duration(cfg.Heartbeat.IdleMinutes) * time.Minute,
				Probability: cfg.Policy.RandomResponseProbability,
			})
		if err != nil {
			return fmt.Errorf("initialize heartbeat: %w", err)
		}
		hb.Start(ctx)
	}

	fmt.Printf("%s is running. Press Ctrl+C to stop.\n", cfg.Agent.Name)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	if hb != nil {
		hb.Stop()
	}
	rt.orch.Stop()
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := manager.StopAll(stopCtx); err != nil {
		logger.WarnCF("main", "Channel shutdown reported errors", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}
