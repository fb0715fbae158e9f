// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Policy    PolicyConfig    `json:"policy"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Tools     ToolsConfig     `json:"tools"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Logging   LoggingConfig   `json:"logging"`
}

type AgentConfig struct {
	// Name is the colloquial name the bot answers to in chat ("Петрович").
	Name string `json:"name" env:"PETROVICH_AGENT_NAME"`
	// Handle is the registered transport handle, matched as "@handle".
	Handle            string  `json:"handle" env:"PETROVICH_AGENT_HANDLE"`
	Workspace         string  `json:"workspace" env:"PETROVICH_AGENT_WORKSPACE"`
	Provider          string  `json:"provider" env:"PETROVICH_AGENT_PROVIDER"`
	Model             string  `json:"model" env:"PETROVICH_AGENT_MODEL"`
	JudgeModel        string  `json:"judge_model" env:"PETROVICH_AGENT_JUDGE_MODEL"`
	TranscribeModel   string  `json:"transcribe_model" env:"PETROVICH_AGENT_TRANSCRIBE_MODEL"`
	MaxTokens         int     `json:"max_tokens" env:"PETROVICH_AGENT_MAX_TOKENS"`
	Temperature       float64 `json:"temperature" env:"PETROVICH_AGENT_TEMPERATURE"`
	MaxToolIterations int     `json:"max_tool_iterations" env:"PETROVICH_AGENT_MAX_TOOL_ITERATIONS"`
}

// PolicyConfig is the engagement policy bundle. Loaded once at startup and
// never re-read mid-run; Validate rejects out-of-range values before the
// process starts.
type PolicyConfig struct {
	// RandomResponseProbability is the chance, in [0,1], of volunteering a
	// reply to a message that never mentioned the bot.
	RandomResponseProbability float64 `json:"random_response_probability" env:"PETROVICH_POLICY_RANDOM_RESPONSE_PROBABILITY"`
	// DecisionThreshold is the minimum judge score, in [0,1], required to
	// engage when neither the random draw nor a mention fired.
	DecisionThreshold float64 `json:"decision_threshold" env:"PETROVICH_POLICY_DECISION_THRESHOLD"`
	// HistoryLimit is the number of conversational turns retained per thread
	// after each cycle's prune.
	HistoryLimit int `json:"history_limit" env:"PETROVICH_POLICY_HISTORY_LIMIT"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string   `json:"token" env:"PETROVICH_CHANNELS_DISCORD_TOKEN"`
	AllowFrom []string `json:"allow_from" env:"PETROVICH_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	OpenAI     ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
	Proxy   string `json:"proxy,omitempty"`
}

type ToolsConfig struct {
	Web WebToolsConfig `json:"web"`
}

type WebToolsConfig struct {
	Tavily     TavilyConfig     `json:"tavily"`
	Brave      BraveConfig      `json:"brave"`
	DuckDuckGo DuckDuckGoConfig `json:"duckduckgo"`
}

type TavilyConfig struct {
	Enabled       bool   `json:"enabled" env:"PETROVICH_TOOLS_WEB_TAVILY_ENABLED"`
	APIKey        string `json:"api_key" env:"PETROVICH_TOOLS_WEB_TAVILY_API_KEY"`
	MaxResults    int    `json:"max_results" env:"PETROVICH_TOOLS_WEB_TAVILY_MAX_RESULTS"`
	IncludeAnswer bool   `json:"include_answer" env:"PETROVICH_TOOLS_WEB_TAVILY_INCLUDE_ANSWER"`
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled" env:"PETROVICH_TOOLS_WEB_BRAVE_ENABLED"`
	APIKey     string `json:"api_key" env:"PETROVICH_TOOLS_WEB_BRAVE_API_KEY"`
	MaxResults int    `json:"max_results" env:"PETROVICH_TOOLS_WEB_BRAVE_MAX_RESULTS"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled" env:"PETROVICH_TOOLS_WEB_DUCKDUCKGO_ENABLED"`
	MaxResults int  `json:"max_results" env:"PETROVICH_TOOLS_WEB_DUCKDUCKGO_MAX_RESULTS"`
}

type HeartbeatConfig struct {
	Enabled bool `json:"enabled" env:"PETROVICH_HEARTBEAT_ENABLED"`
	// Schedule is a cron expression gating when idle volunteering may run.
	Schedule string `json:"schedule" env:"PETROVICH_HEARTBEAT_SCHEDULE"`
	// IdleMinutes is how long a thread must be quiet before it qualifies.
	IdleMinutes int `json:"idle_minutes" env:"PETROVICH_HEARTBEAT_IDLE_MINUTES"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"PETROVICH_LOG_LEVEL"`
	File  string `json:"file" env:"PETROVICH_LOG_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:              "Петрович",
			Handle:            "",
			Workspace:         "~/.petrovich",
			Provider:          "openrouter",
			Model:             "openai/gpt-5.2",
			JudgeModel:        "openai/gpt-5-mini",
			TranscribeModel:   "whisper-1",
			MaxTokens:         8192,
			Temperature:       0.7,
			MaxToolIterations: 10,
		},
		Policy: PolicyConfig{
			RandomResponseProbability: 0.05,
			DecisionThreshold:         0.5,
			HistoryLimit:              30,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{},
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{},
			OpenAI:     ProviderConfig{},
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				Tavily: TavilyConfig{
					Enabled:       false,
					MaxResults:    10,
					IncludeAnswer: true,
				},
				Brave: BraveConfig{
					Enabled:    false,
					MaxResults: 5,
				},
				DuckDuckGo: DuckDuckGoConfig{
					Enabled:    true,
					MaxResults: 5,
				},
			},
		},
		Heartbeat: HeartbeatConfig{
			Enabled:     false,
			Schedule:    "*/30 * * * *",
			IdleMinutes: 120,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path (missing file keeps defaults), applies env overrides,
// and validates. A validation error here is fatal to the caller: the process
// must not start on a bad policy bundle.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	p := c.Policy
	if p.RandomResponseProbability < 0 || p.RandomResponseProbability > 1 {
		return fmt.Errorf("policy.random_response_probability must be in [0,1], got %v", p.RandomResponseProbability)
	}
	if p.DecisionThreshold < 0 || p.DecisionThreshold > 1 {
		return fmt.Errorf("policy.decision_threshold must be in [0,1], got %v", p.DecisionThreshold)
	}
	if p.HistoryLimit <= 0 {
		return fmt.Errorf("policy.history_limit must be positive, got %d", p.HistoryLimit)
	}
	if strings.TrimSpace(c.Agent.Name) == "" {
		return fmt.Errorf("agent.name is required")
	}
	if strings.TrimSpace(c.Agent.Model) == "" {
		return fmt.Errorf("agent.model is required")
	}
	if c.Agent.MaxToolIterations <= 0 {
		return fmt.Errorf("agent.max_tool_iterations must be positive, got %d", c.Agent.MaxToolIterations)
	}
	return nil
}

// JudgeConfigured reports whether the secondary relevance judgment is enabled.
func (c *Config) JudgeConfigured() bool {
	return strings.TrimSpace(c.Agent.JudgeModel) != ""
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Agent.Workspace)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
