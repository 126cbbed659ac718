package stream

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

// Channel distinguishes a message's primary text from its auxiliary
// reasoning output. Each channel has its own independent chunk sequence.
type Channel string

const (
	ChannelText      Channel = "text"
	ChannelReasoning Channel = "reasoning"
)

// Message statuses. A message is complete exactly once the terminal marker
// is persisted.
const (
	StatusStreaming = "streaming"
	StatusComplete  = "complete"
)

// Message is one logical streaming message.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Role           string     `json:"role"`
	Status         string     `json:"status"`
	Model          string     `json:"model,omitempty"`
	ThinkingMS     int64      `json:"thinking_ms,omitempty"`
	ToolCalls      int        `json:"tool_calls,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// CompletionMeta is the final aggregate metadata persisted when a message
// completes.
type CompletionMeta struct {
	Model      string
	ThinkingMS int64
	ToolCalls  int
	Error      string
}

// Store persists streaming messages and their ordered content chunks.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a message Store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "message_store").Logger(),
	}
}

// CreateMessage inserts a new message in streaming status.
func (s *Store) CreateMessage(ctx context.Context, conversationID, messageID, role, model string) error {
	s.logger.Debug().
		Str("method", "CreateMessage").
		Str("conversation_id", conversationID).
		Str("message_id", messageID).
		Str("role", role).
		Msg("called")
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("create message: message id is required")
	}

	query := sq.Insert("messages").
		Columns("id", "conversation_id", "role", "status", "model", "created_at").
		Values(messageID, conversationID, role, StatusStreaming, model, time.Now().Unix())
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build message insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().Str("method", "CreateMessage").Err(err).Msg("Failed to insert message")
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// AppendChunk persists one chunk at the end of a message channel's sequence.
// The sequence number is assigned inside the transaction, so chunks land in
// arrival order.
func (s *Store) AppendChunk(ctx context.Context, messageID string, channel Channel, content string) error {
	if content == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM message_chunks WHERE message_id = ? AND channel = ?`,
		messageID, string(channel))
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("next chunk seq: %w", err)
	}

	query := sq.Insert("message_chunks").
		Columns("message_id", "channel", "seq", "content", "created_at").
		Values(messageID, string(channel), next, content, time.Now().Unix())
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build chunk insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().Str("method", "AppendChunk").Err(err).Msg("Failed to insert chunk")
		return fmt.Errorf("insert chunk: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Debug().
		Str("method", "AppendChunk").
		Str("message_id", messageID).
		Str("channel", string(channel)).
		Int64("seq", next).
		Int("bytes", len(content)).
		Msg("Chunk persisted")
	return nil
}

// CompleteMessage marks a message complete and records its final metadata.
func (s *Store) CompleteMessage(ctx context.Context, messageID string, meta CompletionMeta) error {
	s.logger.Debug().
		Str("method", "CompleteMessage").
		Str("message_id", messageID).
		Str("model", meta.Model).
		Int("tool_calls", meta.ToolCalls).
		Msg("called")

	query := sq.Update("messages").
		Set("status", StatusComplete).
		Set("model", meta.Model).
		Set("thinking_ms", meta.ThinkingMS).
		Set("tool_calls", meta.ToolCalls).
		Set("error", meta.Error).
		Set("completed_at", time.Now().Unix()).
		Where(sq.Eq{"id": messageID})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build message update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().Str("method", "CompleteMessage").Err(err).Msg("Failed to complete message")
		return fmt.Errorf("complete message: %w", err)
	}
	return nil
}

// MessageText returns the concatenation of a channel's chunks in sequence
// order.
func (s *Store) MessageText(ctx context.Context, messageID string, channel Channel) (string, error) {
	query := sq.Select("content").From("message_chunks").
		Where(sq.Eq{"message_id": messageID, "channel": string(channel)}).
		OrderBy("seq ASC")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return "", fmt.Errorf("build chunk query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return "", fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var sb strings.Builder
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", err
		}
		sb.WriteString(content)
	}
	return sb.String(), rows.Err()
}

// GetMessage fetches one message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (Message, error) {
	query := sq.Select("id", "conversation_id", "role", "status", "model",
		"thinking_ms", "tool_calls", "error", "created_at", "completed_at").
		From("messages").Where(sq.Eq{"id": messageID})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return Message{}, fmt.Errorf("build message query: %w", err)
	}
	return scanMessage(s.db.QueryRowContext(ctx, queryStr, args...))
}

// StaleStreaming lists messages still in streaming status created before
// the cutoff. The janitor finalizes these after a crash.
func (s *Store) StaleStreaming(ctx context.Context, cutoff time.Time) ([]Message, error) {
	query := sq.Select("id", "conversation_id", "role", "status", "model",
		"thinking_ms", "tool_calls", "error", "created_at", "completed_at").
		From("messages").
		Where(sq.Eq{"status": StatusStreaming}).
		Where(sq.Lt{"created_at": cutoff.Unix()}).
		OrderBy("created_at ASC")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stale query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m           Message
		createdAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Status, &m.Model,
		&m.ThinkingMS, &m.ToolCalls, &m.Error, &createdAt, &completedAt); err != nil {
		return Message{}, err
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		m.CompletedAt = &t
	}
	return m, nil
}
