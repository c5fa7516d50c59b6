package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/goosehq/goose/pkg/models"
)

// maxMessagesPerSession limits messages retained per in-memory session to
// bound memory growth for long-running local processes; durable backends
// (postgres, sqlite) have no such cap and rely on compaction instead.
const maxMessagesPerSession = 4000

// MemoryStore is an in-memory Store implementation for tests and the
// default local CLI front when no durable backend is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	opIDs    map[string]map[string]bool
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		opIDs:    map[string]map[string]bool{},
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, workingDir, description string, typ models.SessionType) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	session := &models.Session{
		ID:          uuid.NewString(),
		WorkingDir:  workingDir,
		Description: description,
		Type:        typ,
		Messages:    []*models.Message{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.sessions[session.ID] = session
	return cloneSession(session), nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string, includeMessages bool) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := cloneSession(session)
	if !includeMessages {
		clone.Messages = nil
	}
	return clone, nil
}

func (m *MemoryStore) Append(ctx context.Context, id string, opID string, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}

	if opID != "" {
		seen := m.opIDs[id]
		if seen == nil {
			seen = map[string]bool{}
			m.opIDs[id] = seen
		}
		if seen[opID] {
			return nil
		}
		seen[opID] = true
	}

	conv := models.UnvalidatedConversation(append([]*models.Message{}, session.Messages...))
	validated := &models.Conversation{Messages: conv.Messages[:len(conv.Messages):len(conv.Messages)]}
	// Replay the existing tail through Append to re-derive invariants
	// before committing new messages, rather than trusting the stored
	// slice blindly.
	for _, msg := range messages {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		if err := validated.Append(msg); err != nil {
			return ErrOrderViolation
		}
	}

	session.Messages = append(session.Messages, messages...)
	if len(session.Messages) > maxMessagesPerSession {
		excess := len(session.Messages) - maxMessagesPerSession
		session.Messages = session.Messages[excess:]
	}
	session.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, session := range m.sessions {
		if opts.WorkingDir != "" && session.WorkingDir != opts.WorkingDir {
			continue
		}
		if opts.Type != "" && session.Type != opts.Type {
			continue
		}
		clone := cloneSession(session)
		clone.Messages = nil
		out = append(out, clone)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		return []*models.Session{}, nil
	}
	end := len(out)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return out[start:end], nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.opIDs, id)
	return nil
}

func (m *MemoryStore) ReplaceMessages(ctx context.Context, id string, token CompactionToken, messages []*models.Message) error {
	if token == "" {
		return ErrOrderViolation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.Messages = append([]*models.Message{}, messages...)
	session.UpdatedAt = time.Now()
	return nil
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	if session.Metadata != nil {
		clone.Metadata = deepCloneMap(session.Metadata)
	}
	if session.Messages != nil {
		clone.Messages = append([]*models.Message{}, session.Messages...)
	}
	if session.EnabledExtensions != nil {
		clone.EnabledExtensions = append([]string{}, session.EnabledExtensions...)
	}
	return &clone
}

// deepCloneMap creates a deep copy of a map[string]any to prevent shared
// references between stored and returned sessions.
func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = deepCloneValue(v)
	}
	return clone
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		cloned := make([]any, len(val))
		for i, item := range val {
			cloned[i] = deepCloneValue(item)
		}
		return cloned
	default:
		return v
	}
}
