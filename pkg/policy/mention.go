// Petrovich - group chat companion agent
// License: MIT
//
// Copyright (c) 2026 Petrovich contributors

package policy

import "strings"

// Identity describes how the agent can be addressed in a chat.
type Identity struct {
	// Name is the colloquial display name, e.g. "Петрович".
	Name string
	// Handle is the registered @-handle without the @ prefix.
	Handle string
}

// MentionDetector is the cheap substring trigger check that runs on every
// inbound message before any model is involved.
type MentionDetector struct {
	keywords []string
}

func NewMentionDetector(identity Identity) *MentionDetector {
	keywords := []string{"бот", "bot"}
	if name := strings.TrimSpace(identity.Name); name != "" {
		keywords = append(keywords, strings.ToLower(name))
	}
	if handle := strings.TrimSpace(identity.Handle); handle != "" {
		keywords = append(keywords, "@"+strings.ToLower(strings.TrimPrefix(handle, "@")))
	}
	return &MentionDetector{keywords: keywords}
}

// Mentioned reports whether text addresses the agent directly. Empty text is
// never a mention.
func (d *MentionDetector) Mentioned(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	for _, keyword := range d.keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
