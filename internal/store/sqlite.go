package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

// SQLiteStore implements Sessions, Bindings, Directory, Feedback, Transcript
// and Prompts on a single SQLite database.
type SQLiteStore struct {
	db         *sql.DB
	sessionTTL time.Duration
	logger     *logger.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path. The schema
// is created on first open. Parent directories are created if needed.
func NewSQLiteStore(path string, sessionTTL time.Duration, log *logger.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL for concurrent readers alongside the single writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:         db,
		sessionTTL: sessionTTL,
		logger:     log,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Info("sqlite store initialized")
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_key       TEXT PRIMARY KEY,
			contact           TEXT,
			state             TEXT NOT NULL,
			identity_code     TEXT,
			identity_name     TEXT,
			identity_contact  TEXT,
			agent_type        TEXT,
			conversation_id   TEXT,
			awaiting_feedback INTEGER NOT NULL DEFAULT 0,
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_contact ON sessions(contact, updated_at);

		CREATE TABLE IF NOT EXISTS agent_sessions (
			conversation_id     TEXT NOT NULL,
			agent_id            TEXT NOT NULL,
			session_key         TEXT NOT NULL,
			external_session_id TEXT NOT NULL,
			agent_type          TEXT,
			identity_code       TEXT,
			identity_name       TEXT,
			active              INTEGER NOT NULL DEFAULT 1,
			created_at          TIMESTAMP NOT NULL,
			updated_at          TIMESTAMP NOT NULL,
			PRIMARY KEY (conversation_id, agent_id)
		);
		CREATE INDEX IF NOT EXISTS idx_agent_sessions_key ON agent_sessions(session_key);

		CREATE TABLE IF NOT EXISTS agents (
			code           TEXT PRIMARY KEY COLLATE NOCASE,
			display_name   TEXT NOT NULL,
			contact_number TEXT,
			active         INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS feedback (
			conversation_id TEXT PRIMARY KEY,
			session_key     TEXT,
			identity_code   TEXT,
			identity_name   TEXT,
			agent_type      TEXT,
			feedback        TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'pending',
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transcript (
			id              TEXT PRIMARY KEY,
			session_key     TEXT NOT NULL,
			conversation_id TEXT,
			role            TEXT NOT NULL,
			body            TEXT NOT NULL,
			state           TEXT,
			agent_type      TEXT,
			created_at      TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transcript_key ON transcript(session_key, created_at);

		CREATE TABLE IF NOT EXISTS prompts (
			name TEXT PRIMARY KEY,
			text TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Sessions ---

func (s *SQLiteStore) Get(ctx context.Context, sessionKey string) (*model.ConversationSession, error) {
	query := `
		SELECT session_key, contact, state, identity_code, identity_name, identity_contact,
		       agent_type, conversation_id, awaiting_feedback, created_at, updated_at
		FROM sessions WHERE session_key = ?
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: getting session: %v", ErrUnavailable, err)
	}

	now := time.Now().UTC()
	if now.Sub(sess.UpdatedAt) > s.sessionTTL {
		// Expired sessions behave exactly like missing ones.
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, sessionKey); err != nil {
			s.logger.Warn("failed to delete expired session", zap.Error(err))
		}
		return nil, ErrNotFound
	}

	// Reads extend the sliding window.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_key = ?`, now, sessionKey); err != nil {
		s.logger.Warn("failed to touch session", zap.Error(err))
	}
	sess.UpdatedAt = now
	return sess, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, sess *model.ConversationSession) error {
	now := time.Now().UTC()
	var code, name, contact string
	if sess.Identity != nil {
		code, name, contact = sess.Identity.Code, sess.Identity.DisplayName, sess.Identity.ContactNumber
	}

	query := `
		INSERT INTO sessions (session_key, contact, state, identity_code, identity_name,
			identity_contact, agent_type, conversation_id, awaiting_feedback, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			contact = excluded.contact,
			state = excluded.state,
			identity_code = excluded.identity_code,
			identity_name = excluded.identity_name,
			identity_contact = excluded.identity_contact,
			agent_type = excluded.agent_type,
			conversation_id = excluded.conversation_id,
			awaiting_feedback = excluded.awaiting_feedback,
			updated_at = excluded.updated_at
	`
	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.ExecContext(ctx, query,
		sess.SessionKey, sess.Contact, string(sess.State), code, name, contact,
		string(sess.AgentType), sess.ConversationID, boolToInt(sess.AwaitingFeedback), createdAt, now)
	if err != nil {
		return fmt.Errorf("%w: upserting session: %v", ErrUnavailable, err)
	}
	sess.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetOrCreateByContact(ctx context.Context, contact string) (string, error) {
	now := time.Now().UTC()
	if contact != "" {
		cutoff := now.Add(-s.sessionTTL)
		var key string
		err := s.db.QueryRowContext(ctx, `
			SELECT session_key FROM sessions
			WHERE contact = ? AND updated_at > ?
			ORDER BY updated_at DESC LIMIT 1
		`, contact, cutoff).Scan(&key)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: looking up session by contact: %v", ErrUnavailable, err)
		}
	}

	sess := model.NewSession(newSessionKey(), contact, now)
	if err := s.Upsert(ctx, &sess); err != nil {
		return "", err
	}
	return sess.SessionKey, nil
}

func scanSession(row *sql.Row) (*model.ConversationSession, error) {
	var sess model.ConversationSession
	var contact, code, name, idContact, agentType, convID sql.NullString
	var awaiting int
	err := row.Scan(&sess.SessionKey, &contact, (*string)(&sess.State), &code, &name,
		&idContact, &agentType, &convID, &awaiting, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Contact = contact.String
	sess.AgentType = model.AgentType(agentType.String)
	sess.ConversationID = convID.String
	sess.AwaitingFeedback = awaiting != 0
	if code.String != "" {
		sess.Identity = &model.Identity{
			Code:          code.String,
			DisplayName:   name.String,
			ContactNumber: idContact.String,
		}
	}
	return &sess, nil
}

// --- Bindings ---

func (s *SQLiteStore) UpsertBinding(ctx context.Context, b *model.AgentSessionBinding) error {
	now := time.Now().UTC()
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	query := `
		INSERT INTO agent_sessions (conversation_id, agent_id, session_key, external_session_id,
			agent_type, identity_code, identity_name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(conversation_id, agent_id) DO UPDATE SET
			session_key = excluded.session_key,
			external_session_id = excluded.external_session_id,
			agent_type = excluded.agent_type,
			identity_code = excluded.identity_code,
			identity_name = excluded.identity_name,
			active = 1,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		b.ConversationID, b.AgentID, b.SessionKey, b.ExternalSessionID,
		string(b.AgentType), b.IdentityCode, b.IdentityName, createdAt, now)
	if err != nil {
		return fmt.Errorf("upserting binding: %w", err)
	}
	b.Active = true
	b.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetActiveBinding(ctx context.Context, conversationID, agentID string) (*model.AgentSessionBinding, error) {
	query := `
		SELECT conversation_id, agent_id, session_key, external_session_id, agent_type,
		       identity_code, identity_name, active, created_at, updated_at
		FROM agent_sessions
		WHERE conversation_id = ? AND agent_id = ? AND active = 1
	`
	b, err := scanBinding(s.db.QueryRowContext(ctx, query, conversationID, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting binding: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) DeactivateBindings(ctx context.Context, conversationID, agentID string) error {
	now := time.Now().UTC()
	var err error
	if agentID == "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE agent_sessions SET active = 0, updated_at = ? WHERE conversation_id = ?`,
			now, conversationID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE agent_sessions SET active = 0, updated_at = ? WHERE conversation_id = ? AND agent_id = ?`,
			now, conversationID, agentID)
	}
	if err != nil {
		return fmt.Errorf("deactivating bindings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeactivateBindingsBySessionKey(ctx context.Context, sessionKey string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET active = 0, updated_at = ? WHERE session_key = ?`,
		now, sessionKey)
	if err != nil {
		return fmt.Errorf("deactivating bindings by session key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListBindings(ctx context.Context, sessionKey string) ([]model.AgentSessionBinding, error) {
	query := `
		SELECT conversation_id, agent_id, session_key, external_session_id, agent_type,
		       identity_code, identity_name, active, created_at, updated_at
		FROM agent_sessions
		WHERE session_key = ?
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("listing bindings: %w", err)
	}
	defer rows.Close()

	var out []model.AgentSessionBinding
	for rows.Next() {
		b, err := scanBindingRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning binding: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(row *sql.Row) (*model.AgentSessionBinding, error) {
	return scanBindingRows(row)
}

func scanBindingRows(row rowScanner) (*model.AgentSessionBinding, error) {
	var b model.AgentSessionBinding
	var agentType, code, name sql.NullString
	var active int
	err := row.Scan(&b.ConversationID, &b.AgentID, &b.SessionKey, &b.ExternalSessionID,
		&agentType, &code, &name, &active, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.AgentType = model.AgentType(agentType.String)
	b.IdentityCode = code.String
	b.IdentityName = name.String
	b.Active = active != 0
	return &b, nil
}

// --- Directory ---

func (s *SQLiteStore) FindByCode(ctx context.Context, code string) (*model.Identity, error) {
	query := `
		SELECT code, display_name, contact_number FROM agents
		WHERE code = ? COLLATE NOCASE AND active = 1
	`
	var id model.Identity
	var contact sql.NullString
	err := s.db.QueryRowContext(ctx, query, code).Scan(&id.Code, &id.DisplayName, &contact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up code: %w", err)
	}
	id.ContactNumber = contact.String
	return &id, nil
}

// UpsertAgent registers or updates a directory entry. Used by seeding and
// the ops surface.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, id *model.Identity) error {
	query := `
		INSERT INTO agents (code, display_name, contact_number, active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(code) DO UPDATE SET
			display_name = excluded.display_name,
			contact_number = excluded.contact_number,
			active = 1
	`
	if _, err := s.db.ExecContext(ctx, query, id.Code, id.DisplayName, id.ContactNumber); err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// --- Feedback ---

func (s *SQLiteStore) EnsurePlaceholder(ctx context.Context, rec *FeedbackRecord) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO feedback (conversation_id, session_key, identity_code, identity_name,
			agent_type, feedback, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT(conversation_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ConversationID, rec.SessionKey, rec.IdentityCode, rec.IdentityName,
		string(rec.AgentType), PlaceholderFeedback, now, now)
	if err != nil {
		return fmt.Errorf("creating feedback placeholder: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveFeedback(ctx context.Context, conversationID, text string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO feedback (conversation_id, feedback, status, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			feedback = excluded.feedback,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, text, now, now); err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFeedback(ctx context.Context, conversationID string) (*FeedbackRecord, error) {
	query := `
		SELECT conversation_id, session_key, identity_code, identity_name, agent_type,
		       feedback, status, created_at, updated_at
		FROM feedback WHERE conversation_id = ?
	`
	var rec FeedbackRecord
	var sessionKey, code, name, agentType sql.NullString
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&rec.ConversationID, &sessionKey, &code, &name, &agentType,
		&rec.Feedback, (*string)(&rec.Status), &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting feedback: %w", err)
	}
	rec.SessionKey = sessionKey.String
	rec.IdentityCode = code.String
	rec.IdentityName = name.String
	rec.AgentType = model.AgentType(agentType.String)
	return &rec, nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, conversationID string, status FeedbackStatus) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE feedback SET status = ?, updated_at = ? WHERE conversation_id = ?`,
		string(status), now, conversationID)
	if err != nil {
		return fmt.Errorf("setting feedback status: %w", err)
	}
	return nil
}

// --- Transcript ---

func (s *SQLiteStore) SaveTranscriptMessage(ctx context.Context, msg *model.TranscriptMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO transcript (id, session_key, conversation_id, role, body, state, agent_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.SessionKey, msg.ConversationID, string(msg.Role), msg.Body,
		string(msg.State), string(msg.AgentType), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving transcript message: %w", err)
	}
	return nil
}

// --- Prompts ---

func (s *SQLiteStore) PromptOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, text FROM prompts`)
	if err != nil {
		return nil, fmt.Errorf("loading prompt overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, text string
		if err := rows.Scan(&name, &text); err != nil {
			return nil, fmt.Errorf("scanning prompt: %w", err)
		}
		out[name] = text
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
