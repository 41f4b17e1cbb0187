package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/locrit/platform/internal/model"
	"github.com/locrit/platform/pkg/logger"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (and creates if needed) the database at path.
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: log.Component("store"),
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("SQLite store initialized", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			topic TEXT NOT NULL,
			type TEXT NOT NULL,
			participants TEXT NOT NULL,
			style TEXT NOT NULL,
			duration INTEGER NOT NULL,
			message_frequency INTEGER NOT NULL,
			max_messages INTEGER NOT NULL,
			status TEXT NOT NULL,
			is_active INTEGER NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			ended_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_active ON conversations(is_active, created_at);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL DEFAULT '',
			locrit_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			sender TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_locrit ON messages(locrit_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateConversation inserts conv, assigning an ID when empty.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *model.Conversation) (string, error) {
	c := *conv
	if c.ID == "" {
		c.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if err := s.writeConversation(ctx, s.db, &c, true); err != nil {
		return "", fmt.Errorf("inserting conversation: %w", err)
	}
	return c.ID, nil
}

// UpdateConversation applies patch inside a transaction.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	conv, err := s.readConversation(ctx, tx, id)
	if err != nil {
		return err
	}
	patch.Apply(conv, s.now())

	if err := s.writeConversation(ctx, tx, conv, false); err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	return tx.Commit()
}

// GetConversation returns a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return s.readConversation(ctx, s.db, id)
}

// GetActiveConversations returns active conversations, newest first.
func (s *SQLiteStore) GetActiveConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, conversationSelect+` WHERE is_active = 1 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// SendMessage inserts msg, assigning an ID and timestamp when empty.
func (s *SQLiteStore) SendMessage(ctx context.Context, msg *model.ChatMessage) (string, error) {
	if err := ValidateMessage(msg); err != nil {
		return "", err
	}
	m := *msg
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, locrit_id, content, sender, sender_id, sender_name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.LocritID, m.Content, string(m.Sender), m.SenderID, m.SenderName,
		formatTime(m.Timestamp),
	)
	if err != nil {
		return "", fmt.Errorf("inserting message: %w", err)
	}
	return m.ID, nil
}

// GetLocritMessages returns the messages of a Locrit chat in insertion order.
func (s *SQLiteStore) GetLocritMessages(ctx context.Context, locritID string) ([]model.ChatMessage, error) {
	return s.queryMessages(ctx, `WHERE locrit_id = ?`, locritID)
}

// GetConversationMessages returns the messages of a conversation in insertion order.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	return s.queryMessages(ctx, `WHERE conversation_id = ?`, conversationID)
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryMessages(ctx context.Context, where string, arg string) ([]model.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, locrit_id, content, sender, sender_id, sender_name, timestamp
		FROM messages `+where+` ORDER BY seq`, arg)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.ChatMessage, 0)
	for rows.Next() {
		var (
			m      model.ChatMessage
			sender string
			ts     string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.LocritID, &m.Content, &sender, &m.SenderID, &m.SenderName, &ts); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Sender = model.Sender(sender)
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const conversationSelect = `
	SELECT id, title, topic, type, participants, style, duration, message_frequency,
		max_messages, status, is_active, message_count, created_at, updated_at, ended_at
	FROM conversations`

func (s *SQLiteStore) readConversation(ctx context.Context, q queryRower, id string) (*model.Conversation, error) {
	row := q.QueryRowContext(ctx, conversationSelect+` WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

func (s *SQLiteStore) writeConversation(ctx context.Context, e execer, c *model.Conversation, insert bool) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	var endedAt sql.NullString
	if c.EndedAt != nil {
		endedAt = sql.NullString{String: formatTime(*c.EndedAt), Valid: true}
	}

	if insert {
		_, err = e.ExecContext(ctx, `
			INSERT INTO conversations (id, title, topic, type, participants, style, duration,
				message_frequency, max_messages, status, is_active, message_count, created_at, updated_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Title, c.Topic, c.Type, string(participants), string(c.Style), c.Duration,
			c.MessageFrequency, c.MaxMessages, string(c.Status), boolToInt(c.IsActive), c.MessageCount,
			formatTime(c.CreatedAt), formatTime(c.UpdatedAt), endedAt,
		)
		return err
	}

	_, err = e.ExecContext(ctx, `
		UPDATE conversations SET title = ?, status = ?, is_active = ?, message_count = ?,
			updated_at = ?, ended_at = ?
		WHERE id = ?`,
		c.Title, string(c.Status), boolToInt(c.IsActive), c.MessageCount,
		formatTime(c.UpdatedAt), endedAt, c.ID,
	)
	return err
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var (
		c            model.Conversation
		participants string
		style        string
		status       string
		isActive     int
		createdAt    string
		updatedAt    string
		endedAt      sql.NullString
	)
	err := row.Scan(&c.ID, &c.Title, &c.Topic, &c.Type, &participants, &style, &c.Duration,
		&c.MessageFrequency, &c.MaxMessages, &status, &isActive, &c.MessageCount,
		&createdAt, &updatedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	c.Style = model.Style(style)
	c.Status = model.ConversationStatus(status)
	c.IsActive = isActive == 1
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		c.EndedAt = &t
	}
	return &c, nil
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
