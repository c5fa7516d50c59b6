package sessions

import (
	"context"
	"errors"

	"github.com/goosehq/goose/pkg/models"
)

// ErrNotFound is returned by Get when no session exists with the given id.
var ErrNotFound = errors.New("sessions: not found")

// ErrOrderViolation is returned by Append when a message would violate the
// conversation's role-alternation or tool request/response pairing
// invariant.
var ErrOrderViolation = errors.New("sessions: message ordering violation")

// Store is the durable, append-only conversation log described in the
// session store component: create/get/append/list/delete, plus a
// compaction-only replace_messages escape hatch.
type Store interface {
	// CreateSession assigns an id, persists an empty message list, and
	// returns the stored session.
	CreateSession(ctx context.Context, workingDir, description string, typ models.SessionType) (*models.Session, error)

	// GetSession returns the session, optionally including its messages.
	// Returns ErrNotFound if no such session exists.
	GetSession(ctx context.Context, id string, includeMessages bool) (*models.Session, error)

	// Append atomically appends messages to the session's conversation.
	// If opID is non-empty, a repeated call with the same opID is a no-op
	// returning the same result (idempotent multi-append). Returns
	// ErrOrderViolation if any message would violate conversation
	// ordering invariants.
	Append(ctx context.Context, id string, opID string, messages []*models.Message) error

	// ListSessions returns sessions ordered by UpdatedAt descending.
	ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// DeleteSession removes a session and its message history.
	DeleteSession(ctx context.Context, id string) error

	// ReplaceMessages overwrites a session's message list. Only valid for
	// internal compaction; token must match the compaction token minted
	// for this session (see internal/agent/compaction.go) or the call is
	// rejected, preventing an ordinary caller from bypassing append-only
	// semantics.
	ReplaceMessages(ctx context.Context, id string, token CompactionToken, messages []*models.Message) error
}

// CompactionToken authorizes a ReplaceMessages call. Minted once per
// compaction pass by the reply driver and consumed on use.
type CompactionToken string

// ListOptions configures session listing.
type ListOptions struct {
	WorkingDir string
	Type       models.SessionType
	Limit      int
	Offset     int
}
