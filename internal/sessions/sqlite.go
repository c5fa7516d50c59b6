package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/goosehq/goose/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store against a local sqlite file, the default
// durable backend for the single-process CLI front. Uses the pure-Go
// modernc.org/sqlite driver to avoid a cgo dependency.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a sqlite database at path and
// ensures its schema exists.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers through one connection

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	working_dir TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT 'interactive',
	enabled_extensions TEXT,
	metadata TEXT,
	compacted_through TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_updated_at_idx ON sessions (updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (session_id, seq)
);
CREATE INDEX IF NOT EXISTS messages_session_id_idx ON messages (session_id, seq);

CREATE TABLE IF NOT EXISTS append_operations (
	session_id TEXT NOT NULL,
	op_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, op_id)
);
`

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, workingDir, description string, typ models.SessionType) (*models.Session, error) {
	now := time.Now()
	session := &models.Session{
		ID:          uuid.NewString(),
		WorkingDir:  workingDir,
		Description: description,
		Type:        typ,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	extJSON, _ := json.Marshal(session.EnabledExtensions)
	metaJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, working_dir, description, type, enabled_extensions, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.WorkingDir, session.Description, session.Type, string(extJSON), string(metaJSON), session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Messages = []*models.Message{}
	return session, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string, includeMessages bool) (*models.Session, error) {
	session := &models.Session{ID: id}
	var extJSON, metaJSON sql.NullString
	var compactedThrough sql.NullString

	row := s.db.QueryRowContext(ctx,
		`SELECT id, working_dir, description, type, enabled_extensions, metadata, compacted_through, created_at, updated_at FROM sessions WHERE id = ?`,
		id,
	)
	if err := row.Scan(&session.ID, &session.WorkingDir, &session.Description, &session.Type,
		&extJSON, &metaJSON, &compactedThrough, &session.CreatedAt, &session.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if compactedThrough.Valid {
		session.CompactedThrough = compactedThrough.String
	}
	if extJSON.Valid && extJSON.String != "" && extJSON.String != "null" {
		_ = json.Unmarshal([]byte(extJSON.String), &session.EnabledExtensions)
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &session.Metadata)
	}

	if includeMessages {
		messages, err := s.loadMessages(ctx, id)
		if err != nil {
			return nil, err
		}
		session.Messages = messages
	}
	return session, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var contentJSON string
		if err := rows.Scan(&msg.ID, &msg.Role, &contentJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(contentJSON), &msg.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, id string, opID string, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if opID != "" {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM append_operations WHERE session_id = ? AND op_id = ?`, id, opID).Scan(&exists)
		if err == nil {
			return tx.Commit()
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check op: %w", err)
		}
	}

	existing, err := s.loadMessages(ctx, id)
	if err != nil {
		return err
	}
	conv := &models.Conversation{Messages: existing}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM messages WHERE session_id = ?`, id).Scan(&maxSeq); err != nil {
		return fmt.Errorf("select max seq: %w", err)
	}
	seq := -1
	if maxSeq.Valid {
		seq = int(maxSeq.Int64)
	}

	for _, msg := range messages {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		if err := conv.Append(msg); err != nil {
			return ErrOrderViolation
		}
		seq++
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshal content: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, id, seq, msg.Role, string(contentJSON), msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}

	if opID != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO append_operations (session_id, op_id, created_at) VALUES (?, ?, ?)`, id, opID, time.Now()); err != nil {
			return fmt.Errorf("record op: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT id, working_dir, description, type, enabled_extensions, metadata, compacted_through, created_at, updated_at FROM sessions WHERE 1=1`
	var args []interface{}
	if opts.WorkingDir != "" {
		query += " AND working_dir = ?"
		args = append(args, opts.WorkingDir)
	}
	if opts.Type != "" {
		query += " AND type = ?"
		args = append(args, opts.Type)
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		var extJSON, metaJSON, compactedThrough sql.NullString
		if err := rows.Scan(&session.ID, &session.WorkingDir, &session.Description, &session.Type,
			&extJSON, &metaJSON, &compactedThrough, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if compactedThrough.Valid {
			session.CompactedThrough = compactedThrough.String
		}
		if extJSON.Valid && extJSON.String != "" && extJSON.String != "null" {
			_ = json.Unmarshal([]byte(extJSON.String), &session.EnabledExtensions)
		}
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			_ = json.Unmarshal([]byte(metaJSON.String), &session.Metadata)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ReplaceMessages(ctx context.Context, id string, token CompactionToken, messages []*models.Message) error {
	if token == "" {
		return ErrOrderViolation
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	for seq, msg := range messages {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshal content: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, id, seq, msg.Role, string(contentJSON), msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("replace message: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET compacted_through = ?, updated_at = ? WHERE id = ?`, string(token), time.Now(), id); err != nil {
		return fmt.Errorf("update compacted_through: %w", err)
	}
	return tx.Commit()
}
