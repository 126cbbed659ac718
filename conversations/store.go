// Package conversations persists conversation records, the scope root for
// all widget fingerprints and streaming messages.
package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a conversation lookup matches no row.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one chat session. All widgets, links, and messages hang
// off a conversation id; fingerprints are unique only within it.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store handles conversation persistence.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a conversation Store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "conversation_store").Logger(),
	}
}

// Create inserts a new conversation and returns it. An empty id gets a
// generated UUID.
func (s *Store) Create(ctx context.Context, id, ownerID, title string) (Conversation, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	now := time.Now().Unix()
	query := sq.Insert("conversations").
		Columns("id", "owner_id", "title", "created_at", "updated_at").
		Values(id, ownerID, title, now, now)
	queryStr, args, err := query.ToSql()
	if err != nil {
		return Conversation{}, fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().Str("method", "Create").Err(err).Msg("Failed to insert conversation")
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	s.logger.Info().Str("method", "Create").Str("conversation_id", id).Msg("Conversation created")
	return Conversation{
		ID:        id,
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: time.Unix(now, 0),
		UpdatedAt: time.Unix(now, 0),
	}, nil
}

// Get fetches one conversation by id.
func (s *Store) Get(ctx context.Context, id string) (Conversation, error) {
	query := sq.Select("id", "owner_id", "title", "created_at", "updated_at").
		From("conversations").
		Where(sq.Eq{"id": id})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return Conversation{}, fmt.Errorf("build query: %w", err)
	}
	var (
		c                    Conversation
		createdAt, updatedAt int64
	)
	err = s.db.QueryRowContext(ctx, queryStr, args...).
		Scan(&c.ID, &c.OwnerID, &c.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return c, nil
}

// ListForOwner returns an owner's conversations, most recently updated
// first.
func (s *Store) ListForOwner(ctx context.Context, ownerID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := sq.Select("id", "owner_id", "title", "created_at", "updated_at").
		From("conversations").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("updated_at DESC").
		Limit(uint64(limit))
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var out []Conversation
	for rows.Next() {
		var (
			c                    Conversation
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(createdAt, 0)
		c.UpdatedAt = time.Unix(updatedAt, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Touch bumps a conversation's updated_at.
func (s *Store) Touch(ctx context.Context, id string) error {
	query := sq.Update("conversations").
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"id": id})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}
