package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/goosehq/goose/pkg/models"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store against Postgres (or CockroachDB, which
// speaks the Postgres wire protocol unchanged). It is the durable backend
// for the HTTP/WebSocket front.
type PostgresStore struct {
	db *sql.DB

	stmtCreateSession  *sql.Stmt
	stmtGetSession     *sql.Stmt
	stmtDeleteSession  *sql.Stmt
	stmtAppendMessage  *sql.Stmt
	stmtGetMessages    *sql.Stmt
	stmtTouchSession   *sql.Stmt
	stmtCheckOp        *sql.Stmt
	stmtRecordOp       *sql.Stmt
	stmtDeleteMessages *sql.Stmt
}

// DB exposes the underlying connection for migrations and related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// PostgresConfig holds connection parameters.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sensible defaults for a local CockroachDB
// or Postgres instance.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            26257,
		User:            "root",
		Password:        "",
		Database:        "goose",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a pooled connection and prepares statements.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)
	return newPostgresStoreWithDSN(dsn, config)
}

// NewPostgresStoreFromDSN opens a store from a raw DSN/URL.
func NewPostgresStoreFromDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}
	return newPostgresStoreWithDSN(dsn, config)
}

func newPostgresStoreWithDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, working_dir, description, type, enabled_extensions, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, working_dir, description, type, enabled_extensions, metadata, compacted_through, created_at, updated_at
		FROM sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}

	s.stmtDeleteSession, err = s.db.Prepare(`DELETE FROM sessions WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete session: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, session_id, seq, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("prepare append message: %w", err)
	}

	s.stmtGetMessages, err = s.db.Prepare(`
		SELECT id, role, content, created_at
		FROM messages WHERE session_id = $1
		ORDER BY seq ASC
	`)
	if err != nil {
		return fmt.Errorf("prepare get messages: %w", err)
	}

	s.stmtTouchSession, err = s.db.Prepare(`UPDATE sessions SET updated_at = $1 WHERE id = $2`)
	if err != nil {
		return fmt.Errorf("prepare touch session: %w", err)
	}

	s.stmtCheckOp, err = s.db.Prepare(`SELECT 1 FROM append_operations WHERE session_id = $1 AND op_id = $2`)
	if err != nil {
		return fmt.Errorf("prepare check op: %w", err)
	}

	s.stmtRecordOp, err = s.db.Prepare(`INSERT INTO append_operations (session_id, op_id, created_at) VALUES ($1, $2, $3)`)
	if err != nil {
		return fmt.Errorf("prepare record op: %w", err)
	}

	s.stmtDeleteMessages, err = s.db.Prepare(`DELETE FROM messages WHERE session_id = $1`)
	if err != nil {
		return fmt.Errorf("prepare delete messages: %w", err)
	}

	return nil
}

// Close closes the database connection and prepared statements.
func (s *PostgresStore) Close() error {
	stmts := []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtDeleteSession,
		s.stmtAppendMessage, s.stmtGetMessages, s.stmtTouchSession,
		s.stmtCheckOp, s.stmtRecordOp, s.stmtDeleteMessages,
	}
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, workingDir, description string, typ models.SessionType) (*models.Session, error) {
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

	_, err = s.stmtCreateSession.ExecContext(ctx,
		session.ID, session.WorkingDir, session.Description, session.Type,
		extJSON, metaJSON, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Messages = []*models.Message{}
	return session, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string, includeMessages bool) (*models.Session, error) {
	session := &models.Session{ID: id}
	var extJSON, metaJSON []byte
	var compactedThrough sql.NullString

	err := s.stmtGetSession.QueryRowContext(ctx, id).Scan(
		&session.ID, &session.WorkingDir, &session.Description, &session.Type,
		&extJSON, &metaJSON, &compactedThrough, &session.CreatedAt, &session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if compactedThrough.Valid {
		session.CompactedThrough = compactedThrough.String
	}
	if len(extJSON) > 0 && string(extJSON) != "null" {
		if err := json.Unmarshal(extJSON, &session.EnabledExtensions); err != nil {
			return nil, fmt.Errorf("unmarshal enabled_extensions: %w", err)
		}
	}
	if len(metaJSON) > 0 && string(metaJSON) != "null" {
		if err := json.Unmarshal(metaJSON, &session.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
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

func (s *PostgresStore) loadMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.stmtGetMessages.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var contentJSON []byte
		if err := rows.Scan(&msg.ID, &msg.Role, &contentJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *PostgresStore) Append(ctx context.Context, id string, opID string, messages []*models.Message) error {
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
		err := tx.StmtContext(ctx, s.stmtCheckOp).QueryRowContext(ctx, id, opID).Scan(&exists)
		if err == nil {
			return tx.Commit() // already applied; idempotent no-op
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

	var maxSeq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) FROM messages WHERE session_id = $1`, id)
	if err := row.Scan(&maxSeq); err != nil {
		return fmt.Errorf("select max seq: %w", err)
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
		maxSeq++
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshal content: %w", err)
		}
		if _, err := tx.StmtContext(ctx, s.stmtAppendMessage).ExecContext(ctx,
			msg.ID, id, maxSeq, msg.Role, contentJSON, msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}

	if opID != "" {
		if _, err := tx.StmtContext(ctx, s.stmtRecordOp).ExecContext(ctx, id, opID, time.Now()); err != nil {
			return fmt.Errorf("record op: %w", err)
		}
	}

	if _, err := tx.StmtContext(ctx, s.stmtTouchSession).ExecContext(ctx, time.Now(), id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `
		SELECT id, working_dir, description, type, enabled_extensions, metadata, compacted_through, created_at, updated_at
		FROM sessions WHERE 1=1
	`
	var args []interface{}
	argPos := 1
	if opts.WorkingDir != "" {
		query += fmt.Sprintf(" AND working_dir = $%d", argPos)
		args = append(args, opts.WorkingDir)
		argPos++
	}
	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, opts.Type)
		argPos++
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, opts.Limit)
		argPos++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		var extJSON, metaJSON []byte
		var compactedThrough sql.NullString
		if err := rows.Scan(
			&session.ID, &session.WorkingDir, &session.Description, &session.Type,
			&extJSON, &metaJSON, &compactedThrough, &session.CreatedAt, &session.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if compactedThrough.Valid {
			session.CompactedThrough = compactedThrough.String
		}
		if len(extJSON) > 0 && string(extJSON) != "null" {
			_ = json.Unmarshal(extJSON, &session.EnabledExtensions)
		}
		if len(metaJSON) > 0 && string(metaJSON) != "null" {
			_ = json.Unmarshal(metaJSON, &session.Metadata)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.stmtDeleteSession.ExecContext(ctx, id)
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

func (s *PostgresStore) ReplaceMessages(ctx context.Context, id string, token CompactionToken, messages []*models.Message) error {
	if token == "" {
		return ErrOrderViolation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.StmtContext(ctx, s.stmtDeleteMessages).ExecContext(ctx, id); err != nil {
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
		if _, err := tx.StmtContext(ctx, s.stmtAppendMessage).ExecContext(ctx,
			msg.ID, id, seq, msg.Role, contentJSON, msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("replace message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET compacted_through = $1, updated_at = $2 WHERE id = $3`,
		string(token), time.Now(), id,
	); err != nil {
		return fmt.Errorf("update compacted_through: %w", err)
	}

	return tx.Commit()
}
