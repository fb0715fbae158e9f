package memory

import "time"

// Role classifies a turn within a conversation thread.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleToolCall marks an assistant turn that requested tool invocations.
	RoleToolCall Role = "tool_call"
	// RoleToolResult carries the output of a previously requested tool call.
	RoleToolResult Role = "tool_result"
)

// ToolCallSpec records one requested tool invocation on a tool_call turn.
// Arguments is the raw JSON argument string from the model.
type ToolCallSpec struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn is a single exchanged unit in a thread. Seq is assigned by the store
// on append and is monotonic within the thread.
type Turn struct {
	ID        string
	ThreadKey string
	Seq       int64
	Role      Role
	Sender    string
	Content   string
	// ToolCallID links a tool_result turn back to its pending call.
	ToolCallID string
	ToolName   string
	ToolCalls  []ToolCallSpec
	// SuppressResponse marks a turn that is recorded in history but must
	// never trigger a reply (e.g. an ingested video transcript).
	SuppressResponse bool
	CreatedAt        time.Time
}

// IsScaffolding reports whether the turn is reasoning scaffolding that the
// sanitize phase removes: system instructions, tool results, and assistant
// turns that carried tool-call requests.
func (t Turn) IsScaffolding() bool {
	switch t.Role {
	case RoleSystem, RoleToolResult, RoleToolCall:
		return true
	}
	return t.Role == RoleAssistant && len(t.ToolCalls) > 0
}

// ThreadInfo summarizes one stored conversation thread.
type ThreadInfo struct {
	ThreadKey    string
	Channel      string
	ChatID       string
	TurnCount    int
	LastActivity time.Time
}
