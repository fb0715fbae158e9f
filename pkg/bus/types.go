package bus

import "fmt"

// ContentKind classifies an inbound message payload. The orchestrator
// switches over this exhaustively; there is no duck-typed attribute probing.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindVoice    ContentKind = "voice"
	KindVideo    ContentKind = "video"
	KindPhoto    ContentKind = "photo"
	KindDocument ContentKind = "document"
)

// InboundMessage is the normalized event a transport channel delivers to the
// core. The core never sees raw transport payloads.
type InboundMessage struct {
	Channel        string
	ChatID         string
	SenderID       string
	SenderName     string
	Kind           ContentKind
	Text           string // message text, or the caption for media kinds
	AttachmentRef  string // transport-specific reference (URL), empty if none
	AttachmentName string
	Metadata       map[string]string
}

// ThreadKey derives the stable conversation identity for this message.
func (m InboundMessage) ThreadKey() string {
	return fmt.Sprintf("%s:%s", m.Channel, m.ChatID)
}

// OutboundMessage is a reply surfaced back to a transport channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
