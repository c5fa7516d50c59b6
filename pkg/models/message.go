package models

import (
	"errors"
	"fmt"
	"time"
)

// Role is the author of a Message. Only user and assistant turns are
// modeled at the conversation level; tool results travel inside an
// assistant-or-user message as ToolResponse content, not as a distinct
// role (mirrors the teacher's reply-loop vocabulary with tool-call
// content folded into Content rather than Role).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an ordered pair (role, content[]).
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   []Content `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// NewMessage builds a Message with a fresh-generated id left for the
// caller (session stores assign one on append if empty).
func NewMessage(role Role, content ...Content) *Message {
	return &Message{Role: role, Content: content}
}

// ToolRequestIDs returns the ids of every ToolRequest content item in m.
func (m *Message) ToolRequestIDs() []string {
	var ids []string
	for _, c := range m.Content {
		if c.IsToolRequest() {
			ids = append(ids, c.ToolRequestID)
		}
	}
	return ids
}

// ToolResponseIDs returns the ids of every ToolResponse content item in m.
func (m *Message) ToolResponseIDs() []string {
	var ids []string
	for _, c := range m.Content {
		if c.IsToolResponse() {
			ids = append(ids, c.ToolResponseID)
		}
	}
	return ids
}

// Conversation is an ordered sequence of Messages plus the no-consecutive-
// same-role invariant from §3 of the data model.
type Conversation struct {
	Messages []*Message
}

// NewConversation builds an empty, validated conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// UnvalidatedConversation wraps a raw message slice without checking the
// ordering/pairing invariants, for internal use (e.g. replaying a branch
// mid-compaction) where the caller takes responsibility for correctness.
func UnvalidatedConversation(messages []*Message) *Conversation {
	return &Conversation{Messages: messages}
}

// Append validates that msg does not repeat the role of the conversation's
// current last message, then appends it. An assistant turn that itself
// contains multiple content parts is still one Message, so the invariant
// only ever fires when a caller tries to push two separate same-role
// Messages back to back.
func (c *Conversation) Append(msg *Message) error {
	if msg == nil {
		return errors.New("models: nil message")
	}
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Role == msg.Role {
		return fmt.Errorf("models: consecutive %s messages not allowed", msg.Role)
	}
	if err := validateToolPairing(c.Messages, msg); err != nil {
		return err
	}
	c.Messages = append(c.Messages, msg)
	return nil
}

// validateToolPairing enforces that every ToolRequest id in the assistant
// message immediately preceding next (if next is a user message) is
// matched by exactly one ToolResponse id in next, matched positionally by
// id rather than by ordinal position.
func validateToolPairing(existing []*Message, next *Message) error {
	if next.Role != RoleUser || len(existing) == 0 {
		return nil
	}
	prev := existing[len(existing)-1]
	if prev.Role != RoleAssistant {
		return nil
	}
	requested := map[string]bool{}
	for _, id := range prev.ToolRequestIDs() {
		requested[id] = true
	}
	if len(requested) == 0 {
		return nil
	}
	responded := map[string]bool{}
	for _, id := range next.ToolResponseIDs() {
		responded[id] = true
	}
	for id := range requested {
		if !responded[id] {
			return fmt.Errorf("models: tool request %q has no matching tool response in the following turn", id)
		}
	}
	return nil
}

// Last returns the final message in the conversation, or nil if empty.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// SessionType distinguishes how a session was created and how it
// participates in the reply loop.
type SessionType string

const (
	SessionInteractive SessionType = "interactive"
	SessionHidden      SessionType = "hidden"
	SessionSubAgent    SessionType = "sub_agent"
)

// Session is the persistent record backing one conversation.
type Session struct {
	ID                string         `json:"id"`
	WorkingDir        string         `json:"working_dir"`
	Description       string         `json:"description,omitempty"`
	Type              SessionType    `json:"type"`
	Messages          []*Message     `json:"messages,omitempty"`
	EnabledExtensions []string       `json:"enabled_extensions,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`

	// CompactedThrough is the id of the last message folded into the
	// standing summary by the most recent replace_messages compaction,
	// preserved so the session id stays stable across compaction per §3.
	CompactedThrough string `json:"compacted_through,omitempty"`
}

// TokenBudget accompanies every emitted message event so a front can
// render usage/limit without a second round trip.
type TokenBudget struct {
	Input        int     `json:"input"`
	Output       int     `json:"output"`
	Total        int     `json:"total"`
	ContextLimit int     `json:"context_limit"`
	PercentUsed  float64 `json:"percent_used"`
}

// PermissionVerdict is the outcome of the tool dispatcher's permission
// gate decision procedure (§4.5).
type PermissionVerdict string

const (
	VerdictAllowOnce    PermissionVerdict = "allow_once"
	VerdictAllowSession PermissionVerdict = "allow_session"
	VerdictDeny         PermissionVerdict = "deny"
	VerdictAskUser      PermissionVerdict = "ask_user"
)

// ToolAnnotations describe hints an extension attaches to a Tool
// definition; read_only_hint participates directly in the permission
// gate's auto-allow path.
type ToolAnnotations struct {
	ReadOnlyHint    bool   `json:"read_only_hint,omitempty"`
	DestructiveHint bool   `json:"destructive_hint,omitempty"`
	IdempotentHint  bool   `json:"idempotent_hint,omitempty"`
	OpenWorldHint   bool   `json:"open_world_hint,omitempty"`
	Title           string `json:"title,omitempty"`
}

// Tool is the LLM-facing and dispatcher-facing description of a callable
// tool, fully qualified as "<extension-name>__<tool-name>" once resolved
// through an extension.
type Tool struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema []byte           `json:"input_schema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}
