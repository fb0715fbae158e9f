// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package channels

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dotsetgreg/petrovich/pkg/bus"
	"github.com/dotsetgreg/petrovich/pkg/config"
	"github.com/dotsetgreg/petrovich/pkg/logger"
)

const sendTimeout = 10 * time.Second

// discordMessageLimit is below Discord's hard 2000-char cap to leave room
// for natural split points.
const discordMessageLimit = 1500

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord connection")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord connection")
	c.setRunning(false)

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord connection not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("chat ID is empty")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	for _, chunk := range splitMessage(msg.Content, discordMessageLimit) {
		if err := c.sendChunk(ctx, msg.ChatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

// splitMessage breaks long replies at natural boundaries, preferring
// newlines, then spaces, and never splitting inside a ``` fence when the
// closing fence is within reach.
func splitMessage(content string, limit int) []string {
	var messages []string

	for len(content) > 0 {
		if len(content) <= limit {
			messages = append(messages, content)
			break
		}

		msgEnd := lastBoundary(content[:limit])

		if openIdx := unclosedFenceIndex(content[:msgEnd]); openIdx >= 0 {
			if closeIdx := closingFenceIndex(content, msgEnd); closeIdx > 0 && closeIdx <= limit+500 {
				msgEnd = closeIdx
			} else if cut := lastBoundary(content[:openIdx]); cut > 0 {
				msgEnd = cut
			}
		}

		if msgEnd <= 0 {
			msgEnd = limit
		}
		messages = append(messages, content[:msgEnd])
		content = strings.TrimSpace(content[msgEnd:])
	}

	return messages
}

// lastBoundary finds the best split point near the end of s: the last
// newline within 200 chars, else the last space within 100, else len(s).
func lastBoundary(s string) int {
	if idx := lastIndexWithin(s, 200, func(b byte) bool { return b == '\n' }); idx > 0 {
		return idx
	}
	if idx := lastIndexWithin(s, 100, func(b byte) bool { return b == ' ' || b == '\t' }); idx > 0 {
		return idx
	}
	return len(s)
}

func lastIndexWithin(s string, window int, match func(byte) bool) int {
	start := len(s) - window
	if start < 0 {
		start = 0
	}
	for i := len(s) - 1; i >= start; i-- {
		if match(s[i]) {
			return i
		}
	}
	return -1
}

// unclosedFenceIndex returns the position of the last opening ``` without a
// matching close, or -1 when all fences are balanced.
func unclosedFenceIndex(text string) int {
	count := 0
	lastOpen := -1
	for i := 0; i+2 < len(text); i++ {
		if text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			if count%2 == 0 {
				lastOpen = i
			}
			count++
			i += 2
		}
	}
	if count%2 == 1 {
		return lastOpen
	}
	return -1
}

func closingFenceIndex(text string, startIdx int) int {
	for i := startIdx; i+2 < len(text); i++ {
		if text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			return i + 3
		}
	}
	return -1
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}

	senderName := m.Author.GlobalName
	if senderName == "" {
		senderName = m.Author.Username
	}

	events := normalizeDiscordMessage(m, senderName)
	if len(events) == 0 {
		return
	}

	logger.DebugCF("discord", "Received message", map[string]interface{}{
		"sender": senderName,
		"chat":   m.ChannelID,
		"events": len(events),
	})

	for _, event := range events {
		c.Publish(event)
	}
}

// normalizeDiscordMessage converts a raw Discord message into normalized
// inbound events, one per attachment plus one for bare text. A caption
// travels with the first attachment.
func normalizeDiscordMessage(m *discordgo.MessageCreate, senderName string) []bus.InboundMessage {
	base := bus.InboundMessage{
		ChatID:     m.ChannelID,
		SenderID:   m.Author.ID,
		SenderName: senderName,
		Metadata: map[string]string{
			"message_id": m.ID,
			"guild_id":   m.GuildID,
		},
	}

	if len(m.Attachments) == 0 {
		if strings.TrimSpace(m.Content) == "" {
			return nil
		}
		event := base
		event.Kind = bus.KindText
		event.Text = m.Content
		return []bus.InboundMessage{event}
	}

	events := make([]bus.InboundMessage, 0, len(m.Attachments))
	caption := m.Content
	for _, attachment := range m.Attachments {
		event := base
		event.Kind = classifyAttachment(attachment.Filename, attachment.ContentType)
		event.Text = caption
		event.AttachmentRef = attachment.URL
		event.AttachmentName = attachment.Filename
		events = append(events, event)
		caption = ""
	}
	return events
}

func classifyAttachment(filename, contentType string) bus.ContentKind {
	ct := strings.ToLower(contentType)
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case strings.HasPrefix(ct, "audio/"), ext == ".ogg", ext == ".oga", ext == ".mp3", ext == ".m4a", ext == ".wav", ext == ".opus":
		return bus.KindVoice
	case strings.HasPrefix(ct, "video/"), ext == ".mp4", ext == ".mov", ext == ".webm", ext == ".mkv":
		return bus.KindVideo
	case strings.HasPrefix(ct, "image/"), ext == ".jpg", ext == ".jpeg", ext == ".png", ext == ".gif", ext == ".webp":
		return bus.KindPhoto
	default:
		return bus.KindDocument
	}
}
