package widget

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a widget lookup matches no row.
var ErrNotFound = errors.New("widget not found")

// Store persists widgets and widget links. Every mutating call is one
// atomic transaction; fingerprints are re-derived at write time rather than
// trusted from the caller, so replaying the same plan is a no-op.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a widget Store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "widget_store").Logger(),
	}
}

func nowUnix() int64 { return time.Now().Unix() }

func widgetColumns() []string {
	return []string{
		"id", "conversation_id", "fingerprint", "type", "title", "title_normalized",
		"description", "typed_data", "related_titles", "source_refs",
		"created_at", "updated_at",
	}
}

// Apply executes a resolved plan in a single transaction: idempotent
// upsert-by-fingerprint for entities, idempotent insert-by-fingerprint for
// links, one conversation timestamp bump at the end.
func (s *Store) Apply(ctx context.Context, conversationID string, plan Plan) (ApplyResult, error) {
	s.logger.Debug().
		Str("method", "Apply").
		Str("conversation_id", conversationID).
		Int("entity_upserts", len(plan.EntityUpserts)).
		Int("link_inserts", len(plan.LinkInserts)).
		Msg("called")

	var result ApplyResult
	if strings.TrimSpace(conversationID) == "" {
		return result, fmt.Errorf("apply: conversation id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error().Str("method", "Apply").Err(err).Msg("Failed to begin transaction")
		return result, err
	}
	defer func() { _ = tx.Rollback() }()

	// fingerprint -> row id for entities touched in this call, so links can
	// reference entities created moments earlier in the same transaction.
	rowIDs := make(map[string]int64)
	ts := nowUnix()

	for i := range plan.EntityUpserts {
		e := plan.EntityUpserts[i]
		e.ConversationID = conversationID
		// Never trust a caller-supplied fingerprint.
		e.TitleNormalized = NormalizeTitle(e.Title)
		e.Fingerprint = EntityFingerprint(&e)

		existing, err := s.findForUpsert(ctx, tx, conversationID, &e)
		if err != nil {
			return result, err
		}
		if existing == nil {
			id, err := s.insertEntity(ctx, tx, &e, ts)
			if err != nil {
				return result, err
			}
			rowIDs[e.Fingerprint] = id
			result.EntitiesCreated++
			continue
		}

		merged := MergeEntity(*existing, e)
		target := existing
		if merged.Fingerprint != existing.Fingerprint {
			// A soft title match can merge into content whose digest
			// already belongs to another row (two same-title rows can
			// exist after a retitle). Fold into that row rather than
			// tripping the unique (conversation_id, fingerprint) index.
			collider, err := s.selectOne(ctx, tx, sq.Eq{
				"conversation_id": conversationID,
				"fingerprint":     merged.Fingerprint,
			})
			if err != nil {
				return result, err
			}
			if collider != nil && collider.ID != existing.ID {
				merged = MergeEntity(*collider, merged)
				target = collider
			}
		}
		if err := s.updateEntityRow(ctx, tx, target.ID, &merged, ts); err != nil {
			return result, err
		}
		// Register both sides: the plan may still refer to the pre-merge
		// fingerprint when a soft title match changed the content digest.
		rowIDs[e.Fingerprint] = target.ID
		rowIDs[merged.Fingerprint] = target.ID
		rowIDs[existing.Fingerprint] = target.ID
		result.EntitiesMerged++
	}

	for _, link := range plan.LinkInserts {
		fp := LinkFingerprint(link.FromFingerprint, link.ToFingerprint, link.Kind)
		exists, err := s.linkExists(ctx, tx, conversationID, fp)
		if err != nil {
			return result, err
		}
		if exists {
			result.LinksSkipped++
			continue
		}
		fromID, ok := s.resolveRowID(ctx, tx, conversationID, link.FromFingerprint, rowIDs)
		toID, ok2 := s.resolveRowID(ctx, tx, conversationID, link.ToFingerprint, rowIDs)
		if !ok || !ok2 {
			s.logger.Warn().
				Str("method", "Apply").
				Str("fingerprint", fp).
				Msg("Skipping link with unresolvable endpoint")
			result.LinksSkipped++
			continue
		}
		query := sq.Insert("widget_links").
			Columns("conversation_id", "fingerprint", "from_widget_id", "to_widget_id",
				"from_fingerprint", "to_fingerprint", "kind", "source_message_id", "created_at").
			Values(conversationID, fp, fromID, toID,
				link.FromFingerprint, link.ToFingerprint, string(link.Kind), link.SourceMessageID, ts)
		queryStr, args, err := query.ToSql()
		if err != nil {
			return result, fmt.Errorf("build link insert: %w", err)
		}
		// Unique index on (conversation_id, fingerprint) backstops concurrent applies.
		queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
		if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
			s.logger.Error().Str("method", "Apply").Err(err).Msg("Failed to insert link")
			return result, fmt.Errorf("insert link: %w", err)
		}
		result.LinksInserted++
	}

	if err := touchConversation(ctx, tx, conversationID, ts); err != nil {
		return result, err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error().Str("method", "Apply").Err(err).Msg("Transaction commit failed")
		return result, err
	}

	s.logger.Info().
		Str("method", "Apply").
		Str("conversation_id", conversationID).
		Int("created", result.EntitiesCreated).
		Int("merged", result.EntitiesMerged).
		Int("links", result.LinksInserted).
		Int("skipped", result.LinksSkipped).
		Msg("Plan applied")
	return result, nil
}

// findForUpsert locates the row an upsert should land on: by fingerprint
// first, then by (type, titleNormalized). The second lookup re-checks the
// resolver's soft match at write time, which keeps Apply safe even when the
// resolver's snapshot of existing entities is stale.
func (s *Store) findForUpsert(ctx context.Context, tx *sql.Tx, conversationID string, e *Entity) (*Entity, error) {
	found, err := s.selectOne(ctx, tx, sq.Eq{
		"conversation_id": conversationID,
		"fingerprint":     e.Fingerprint,
	})
	if err != nil || found != nil {
		return found, err
	}
	return s.selectOne(ctx, tx, sq.Eq{
		"conversation_id":  conversationID,
		"type":             string(e.Type),
		"title_normalized": e.TitleNormalized,
	})
}

func (s *Store) selectOne(ctx context.Context, tx *sql.Tx, where sq.Eq) (*Entity, error) {
	query := sq.Select(widgetColumns()...).From("widgets").Where(where).Limit(1)
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	row := tx.QueryRowContext(ctx, queryStr, args...)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) insertEntity(ctx context.Context, tx *sql.Tx, e *Entity, ts int64) (int64, error) {
	typedJSON, relatedJSON, refsJSON, err := marshalEntityJSON(e)
	if err != nil {
		return 0, err
	}
	query := sq.Insert("widgets").
		Columns("conversation_id", "fingerprint", "type", "title", "title_normalized",
			"description", "typed_data", "related_titles", "source_refs", "created_at", "updated_at").
		Values(e.ConversationID, e.Fingerprint, string(e.Type), e.Title, e.TitleNormalized,
			e.Description, typedJSON, relatedJSON, refsJSON, ts, ts)
	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build entity insert: %w", err)
	}
	res, err := tx.ExecContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", "insertEntity").Err(err).Msg("Failed to insert widget")
		return 0, fmt.Errorf("insert widget: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) updateEntityRow(ctx context.Context, tx *sql.Tx, id int64, e *Entity, ts int64) error {
	typedJSON, relatedJSON, refsJSON, err := marshalEntityJSON(e)
	if err != nil {
		return err
	}
	query := sq.Update("widgets").
		Set("fingerprint", e.Fingerprint).
		Set("title", e.Title).
		Set("title_normalized", e.TitleNormalized).
		Set("description", e.Description).
		Set("typed_data", typedJSON).
		Set("related_titles", relatedJSON).
		Set("source_refs", refsJSON).
		Set("updated_at", ts).
		Where(sq.Eq{"id": id})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build entity update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().Str("method", "updateEntityRow").Err(err).Msg("Failed to update widget")
		return fmt.Errorf("update widget: %w", err)
	}
	return nil
}

func (s *Store) linkExists(ctx context.Context, tx *sql.Tx, conversationID, fingerprint string) (bool, error) {
	query := sq.Select("1").From("widget_links").
		Where(sq.Eq{"conversation_id": conversationID, "fingerprint": fingerprint}).
		Limit(1)
	queryStr, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("build link select: %w", err)
	}
	var one int
	err = tx.QueryRowContext(ctx, queryStr, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// resolveRowID finds an endpoint's row id from the in-call map first, then
// from a scoped fingerprint lookup.
func (s *Store) resolveRowID(ctx context.Context, tx *sql.Tx, conversationID, fingerprint string, rowIDs map[string]int64) (int64, bool) {
	if id, ok := rowIDs[fingerprint]; ok {
		return id, true
	}
	query := sq.Select("id").From("widgets").
		Where(sq.Eq{"conversation_id": conversationID, "fingerprint": fingerprint}).
		Limit(1)
	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, false
	}
	var id int64
	if err := tx.QueryRowContext(ctx, queryStr, args...).Scan(&id); err != nil {
		return 0, false
	}
	rowIDs[fingerprint] = id
	return id, true
}

func touchConversation(ctx context.Context, tx *sql.Tx, conversationID string, ts int64) error {
	query := sq.Update("conversations").
		Set("updated_at", ts).
		Where(sq.Eq{"id": conversationID})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build conversation touch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// EntitiesForConversation returns every widget in a conversation; this is
// the resolver's view of existing state.
func (s *Store) EntitiesForConversation(ctx context.Context, conversationID string) ([]Entity, error) {
	query := sq.Select(widgetColumns()...).From("widgets").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("id ASC")
	return s.queryEntities(ctx, query)
}

// SearchEntities finds widgets in a conversation, optionally filtered by a
// normalized-title substring and/or a type, newest first.
func (s *Store) SearchEntities(ctx context.Context, conversationID, titleFilter, typeFilter string, limit int) ([]Entity, error) {
	s.logger.Debug().
		Str("method", "SearchEntities").
		Str("conversation_id", conversationID).
		Str("title_filter", titleFilter).
		Str("type_filter", typeFilter).
		Int("limit", limit).
		Msg("called")

	query := sq.Select(widgetColumns()...).From("widgets").
		Where(sq.Eq{"conversation_id": conversationID})
	if titleFilter = NormalizeTitle(titleFilter); titleFilter != "" {
		query = query.Where(sq.Like{"title_normalized": "%" + titleFilter + "%"})
	}
	if typeFilter = strings.TrimSpace(typeFilter); typeFilter != "" {
		query = query.Where(sq.Eq{"type": typeFilter})
	}
	if limit <= 0 {
		limit = 50
	}
	query = query.OrderBy("updated_at DESC, id DESC").Limit(uint64(limit))
	return s.queryEntities(ctx, query)
}

// EntityPatch is a partial update for a single widget. Nil fields are left
// unchanged.
type EntityPatch struct {
	Title         *string    `json:"title,omitempty"`
	Description   *string    `json:"description,omitempty"`
	TypedData     *TypedData `json:"typed_data,omitempty"`
	RelatedTitles *[]string  `json:"related_titles,omitempty"`
}

// UpdateEntity patches a widget by row id, scoped to its conversation so a
// caller cannot reach rows outside the conversation it names.
// titleNormalized and the fingerprint are re-derived from the patched
// content so they never drift.
func (s *Store) UpdateEntity(ctx context.Context, conversationID string, entityID int64, patch EntityPatch) (Entity, error) {
	s.logger.Debug().
		Str("method", "UpdateEntity").
		Str("conversation_id", conversationID).
		Int64("entity_id", entityID).
		Msg("called")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entity{}, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.selectOne(ctx, tx, sq.Eq{"id": entityID, "conversation_id": conversationID})
	if err != nil {
		return Entity{}, err
	}
	if existing == nil {
		return Entity{}, fmt.Errorf("update entity %d: %w", entityID, ErrNotFound)
	}

	e := *existing
	if patch.Title != nil && strings.TrimSpace(*patch.Title) != "" {
		e.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		e.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.TypedData != nil {
		e.TypedData = *patch.TypedData
	}
	if patch.RelatedTitles != nil {
		e.RelatedTitles = cleanRelatedTitles(*patch.RelatedTitles)
	}
	e.TitleNormalized = NormalizeTitle(e.Title)
	e.Fingerprint = EntityFingerprint(&e)

	ts := nowUnix()
	if err := s.updateEntityRow(ctx, tx, entityID, &e, ts); err != nil {
		return Entity{}, err
	}
	if err := touchConversation(ctx, tx, e.ConversationID, ts); err != nil {
		return Entity{}, err
	}
	if err := tx.Commit(); err != nil {
		return Entity{}, err
	}
	e.UpdatedAt = time.Unix(ts, 0)

	s.logger.Info().
		Str("method", "UpdateEntity").
		Int64("entity_id", entityID).
		Str("fingerprint", e.Fingerprint).
		Msg("Widget updated")
	return e, nil
}

// LinksForConversation returns every link in a conversation.
func (s *Store) LinksForConversation(ctx context.Context, conversationID string) ([]Link, error) {
	query := sq.Select("id", "conversation_id", "fingerprint", "from_fingerprint",
		"to_fingerprint", "kind", "source_message_id", "created_at").
		From("widget_links").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("id ASC")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build link query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var links []Link
	for rows.Next() {
		var l Link
		var kind string
		var createdAt int64
		if err := rows.Scan(&l.ID, &l.ConversationID, &l.Fingerprint, &l.FromFingerprint,
			&l.ToFingerprint, &kind, &l.SourceMessageID, &createdAt); err != nil {
			return nil, err
		}
		l.Kind = LinkKind(kind)
		l.CreatedAt = time.Unix(createdAt, 0)
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *Store) queryEntities(ctx context.Context, query sq.SelectBuilder) ([]Entity, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build widget query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query widgets: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var entities []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		e           Entity
		typ         string
		typedJSON   []byte
		relatedJSON []byte
		refsJSON    []byte
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(&e.ID, &e.ConversationID, &e.Fingerprint, &typ, &e.Title,
		&e.TitleNormalized, &e.Description, &typedJSON, &relatedJSON, &refsJSON,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.Type = Type(typ)
	if len(typedJSON) > 0 {
		if err := json.Unmarshal(typedJSON, &e.TypedData); err != nil {
			return nil, fmt.Errorf("unmarshal typed_data: %w", err)
		}
	}
	if len(relatedJSON) > 0 {
		if err := json.Unmarshal(relatedJSON, &e.RelatedTitles); err != nil {
			return nil, fmt.Errorf("unmarshal related_titles: %w", err)
		}
	}
	if len(refsJSON) > 0 {
		if err := json.Unmarshal(refsJSON, &e.SourceReferences); err != nil {
			return nil, fmt.Errorf("unmarshal source_refs: %w", err)
		}
	}
	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return &e, nil
}

func marshalEntityJSON(e *Entity) (typedJSON, relatedJSON, refsJSON []byte, err error) {
	typedJSON, err = json.Marshal(e.TypedData)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal typed_data: %w", err)
	}
	relatedJSON, err = json.Marshal(e.RelatedTitles)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal related_titles: %w", err)
	}
	refsJSON, err = json.Marshal(e.SourceReferences)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal source_refs: %w", err)
	}
	return typedJSON, relatedJSON, refsJSON, nil
}
