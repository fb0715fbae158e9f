// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/petrovich/pkg/agent"
	"github.com/dotsetgreg/petrovich/pkg/bus"
	"github.com/dotsetgreg/petrovich/pkg/config"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:           appName,
		Short:         "Петрович, a group chat companion",
		Long:          "Петрович listens to group chats, decides on his own when to speak,\nand answers with web search and voice/video transcription at hand.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			return cmd.Help()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "print version and exit")

	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newInitCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to chat channels and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd(debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "force debug logging")
	return cmd
}

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent in a local REPL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return chatCmd()
		},
	}
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := getConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", path)
			fmt.Println("Fill in the provider API key and Discord token before running 'petrovich serve'.")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

// chatCmd drives the same pipeline the channels use, but from stdin. The
// decision policy is forced open here: a REPL that stays silent most of the
// time is useless for trying things out.
func chatCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := buildRuntime(cfg, true)
	if err != nil {
		return err
	}
	defer rt.close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".petrovich_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	sessionID := uuid.NewString()
	fmt.Printf("Chatting with %s. Type 'exit' to quit.\n\n", cfg.Agent.Name)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		outcome := rt.orch.ProcessEvent(context.Background(), bus.InboundMessage{
			Channel:    "cli",
			ChatID:     sessionID,
			SenderID:   "local",
			SenderName: "Ты",
			Kind:       bus.KindText,
			Text:       line,
		})
		if outcome != agent.OutcomeReplied {
			fmt.Println("(молчит)")
			continue
		}

		readCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		reply, ok := rt.bus.SubscribeOutbound(readCtx)
		cancel()
		if !ok {
			fmt.Println("(ответ потерялся)")
			continue
		}
		fmt.Printf("%s> %s\n", cfg.Agent.Name, reply.Content)
	}

	fmt.Println("Пока!")
	return nil
}
