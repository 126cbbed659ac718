package widget

import (
	"dario.cat/mergo"

	"github.com/samber/lo"
)

// MergeEntity merges an incoming extraction into an existing (or pending)
// entity and returns the combined record with titleNormalized and
// fingerprint re-derived from the merged content.
//
// Merge policy: more specific wins, never regress. Scalar fields keep
// whichever side is longer and non-empty; typed sub-object fields only take
// the incoming value where the existing one is empty; related titles keep
// existing order and append unseen items; source references accumulate.
// Merging a value with itself is a no-op.
func MergeEntity(existing, incoming Entity) Entity {
	merged := existing
	merged.Title = longerNonEmpty(existing.Title, incoming.Title)
	merged.Description = longerNonEmpty(existing.Description, incoming.Description)

	// Per-key typed merge: mergo fills empty destination fields from the
	// incoming payload and leaves populated ones alone, which is exactly the
	// "incoming only overwrites absent" rule. List-valued typed fields are
	// taken from incoming only when the existing list is empty.
	_ = mergo.Merge(&merged.TypedData, incoming.TypedData)

	merged.RelatedTitles = appendNewTitles(existing.RelatedTitles, incoming.RelatedTitles)
	merged.SourceReferences = appendMissing(existing.SourceReferences, incoming.SourceReferences)

	merged.TitleNormalized = NormalizeTitle(merged.Title)
	merged.Fingerprint = EntityFingerprint(&merged)
	return merged
}

func longerNonEmpty(existing, incoming string) string {
	if len(incoming) > len(existing) {
		return incoming
	}
	return existing
}

// appendNewTitles preserves the existing display order and appends incoming
// items whose normalized form is not already present.
func appendNewTitles(existing, incoming []string) []string {
	seen := lo.SliceToMap(existing, func(t string) (string, struct{}) {
		return NormalizeTitle(t), struct{}{}
	})
	out := append([]string(nil), existing...)
	for _, t := range incoming {
		key := NormalizeTitle(t)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func appendMissing(existing, incoming []string) []string {
	out := append([]string(nil), existing...)
	for _, v := range incoming {
		if v == "" || lo.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
