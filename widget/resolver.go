package widget

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Resolver computes deduplication plans: given a batch of newly extracted
// entities and links plus the entities already known for a conversation, it
// produces the minimal set of inserts/updates that avoids duplicates, merges
// conflicting fields, and synthesizes placeholder entities for dangling link
// endpoints.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{logger: logger.With().Str("component", "widget_resolver").Logger()}
}

// record tracks one resolved identity while the plan is built. The entity
// inside is the pending merged state; fingerprints re-index it as merges
// change its content.
type record struct {
	entity  Entity
	touched bool
}

// ResolvePlan resolves a batch against the current conversation state.
//
// Entities are processed in a fixed order (type:titleNormalized) so plan
// construction is independent of batch ordering. Each extraction resolves,
// in priority order, to an existing entity with the same fingerprint, an
// existing entity with the same (type, titleNormalized), or a brand-new
// identity. Links resolve in a second pass once every entity in the batch
// has a fingerprint; an endpoint title that matches nothing synthesizes a
// "note" placeholder so the relationship is never dropped silently.
//
// Malformed individual entities and links are dropped without failing their
// siblings. Only a missing conversation scope is an error.
func (r *Resolver) ResolvePlan(
	conversationID string,
	extracted []RawExtraction,
	rawLinks []RawLink,
	existing []Entity,
	sourceMessageID string,
) (Plan, error) {
	if strings.TrimSpace(conversationID) == "" {
		return Plan{}, fmt.Errorf("resolve plan: conversation id is required")
	}

	byFingerprint := make(map[string]*record)
	byTypeTitle := make(map[string]*record)
	byTitle := make(map[string]*record)
	records := make([]*record, 0, len(existing)+len(extracted))

	register := func(rec *record) {
		byFingerprint[rec.entity.Fingerprint] = rec
		byTypeTitle[typeTitleKey(rec.entity.Type, rec.entity.TitleNormalized)] = rec
		byTitle[rec.entity.TitleNormalized] = rec
	}

	for _, e := range existing {
		rec := &record{entity: e}
		records = append(records, rec)
		register(rec)
	}

	// First pass: entities, in deterministic order.
	normalized := make([]Entity, 0, len(extracted))
	for _, raw := range extracted {
		e, err := Normalize(raw)
		if err != nil {
			r.logger.Warn().Err(err).Str("title", raw.Title).Msg("Dropping malformed extraction")
			continue
		}
		normalized = append(normalized, e)
	}
	sort.Slice(normalized, func(i, j int) bool {
		return sortKey(normalized[i]) < sortKey(normalized[j])
	})

	for _, e := range normalized {
		e.ConversationID = conversationID
		rec := byFingerprint[e.Fingerprint]
		if rec == nil {
			rec = byTypeTitle[typeTitleKey(e.Type, e.TitleNormalized)]
		}
		if rec == nil {
			e.SourceReferences = appendMissing(e.SourceReferences, []string{sourceMessageID})
			rec = &record{entity: e, touched: true}
			records = append(records, rec)
			register(rec)
			continue
		}
		merged := MergeEntity(rec.entity, e)
		merged.SourceReferences = appendMissing(merged.SourceReferences, []string{sourceMessageID})
		rec.entity = merged
		rec.touched = true
		register(rec)
	}

	// Second pass: links, against the union of batch and existing titles.
	seenLinks := make(map[string]struct{})
	var linkInserts []Link
	for _, raw := range rawLinks {
		kind := LinkKind(strings.TrimSpace(raw.Kind))
		if !ValidLinkKind(kind) {
			r.logger.Warn().Str("kind", raw.Kind).Msg("Dropping link with unknown kind")
			continue
		}
		from := r.resolveEndpoint(conversationID, raw.FromTitle, sourceMessageID, byTitle, &records, register)
		to := r.resolveEndpoint(conversationID, raw.ToTitle, sourceMessageID, byTitle, &records, register)
		if from == nil || to == nil {
			r.logger.Warn().
				Str("from", raw.FromTitle).
				Str("to", raw.ToTitle).
				Msg("Dropping link with unresolvable endpoint")
			continue
		}
		fp := LinkFingerprint(from.entity.Fingerprint, to.entity.Fingerprint, kind)
		if _, dup := seenLinks[fp]; dup {
			continue
		}
		seenLinks[fp] = struct{}{}
		linkInserts = append(linkInserts, Link{
			ConversationID:  conversationID,
			FromFingerprint: from.entity.Fingerprint,
			ToFingerprint:   to.entity.Fingerprint,
			Kind:            kind,
			Fingerprint:     fp,
			SourceMessageID: sourceMessageID,
		})
	}

	var upserts []Entity
	for _, rec := range records {
		if rec.touched {
			upserts = append(upserts, rec.entity)
		}
	}
	sort.Slice(upserts, func(i, j int) bool {
		return upserts[i].Fingerprint < upserts[j].Fingerprint
	})
	sort.Slice(linkInserts, func(i, j int) bool {
		return linkInserts[i].Fingerprint < linkInserts[j].Fingerprint
	})

	r.logger.Debug().
		Str("conversation_id", conversationID).
		Int("extracted", len(extracted)).
		Int("links", len(rawLinks)).
		Int("entity_upserts", len(upserts)).
		Int("link_inserts", len(linkInserts)).
		Msg("Resolved plan")

	return Plan{EntityUpserts: upserts, LinkInserts: linkInserts}, nil
}

// resolveEndpoint maps a link endpoint title to a pending record, creating a
// placeholder note entity when the title matches nothing in the batch or the
// existing state. Returns nil only for an empty title.
func (r *Resolver) resolveEndpoint(
	conversationID, title, sourceMessageID string,
	byTitle map[string]*record,
	records *[]*record,
	register func(*record),
) *record {
	key := NormalizeTitle(title)
	if key == "" {
		return nil
	}
	if rec, ok := byTitle[key]; ok {
		return rec
	}
	placeholder, err := Normalize(RawExtraction{Type: string(TypeNote), Title: title})
	if err != nil {
		return nil
	}
	placeholder.ConversationID = conversationID
	placeholder.SourceReferences = []string{sourceMessageID}
	rec := &record{entity: placeholder, touched: true}
	*records = append(*records, rec)
	register(rec)
	r.logger.Debug().Str("title", title).Msg("Synthesized placeholder entity for link endpoint")
	return rec
}

func typeTitleKey(t Type, titleNormalized string) string {
	return string(t) + "\x00" + titleNormalized
}

func sortKey(e Entity) string {
	return string(e.Type) + ":" + e.TitleNormalized
}
