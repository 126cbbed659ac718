package widget

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Fingerprint computes the content digest of any JSON-like value: the value
// is serialized into a canonical form (object keys sorted lexicographically,
// arrays in order, no insignificant whitespace) and hashed with SHA-256,
// rendered as lowercase hex. Two logically-equal values always produce a
// byte-identical digest regardless of construction order.
func Fingerprint(value any) string {
	canon, err := CanonicalJSON(value)
	if err != nil {
		// Non-JSON-serializable input is a programmer error; fall back to the
		// error string so the digest is still deterministic.
		canon = "!" + err.Error()
	}
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON serializes value deterministically. The value is first
// round-tripped through encoding/json (preserving numbers verbatim via
// json.Number) so structs, maps, and slices all normalize to the same shape.
func CanonicalJSON(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("canonical decode: %w", err)
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, generic); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(val))
	case string:
		enc, err := json.Marshal(val)
		if err != nil {
			return err
		}
		sb.Write(enc)
	case json.Number:
		sb.WriteString(val.String())
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(enc)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported value type %T", v)
	}
	return nil
}

// EntityFingerprint computes the identity digest of an entity from its type,
// normalized title, typed payload, and related-title set. Related titles are
// fingerprinted as a normalized, order-insensitive set: reordering a
// checklist does not change identity.
func EntityFingerprint(e *Entity) string {
	payload := map[string]any{
		"type":  string(e.Type),
		"title": e.TitleNormalized,
	}
	addTypedPayload(payload, e.TypedData)
	if titles := normalizedTitleSet(e.RelatedTitles); len(titles) > 0 {
		payload["related"] = titles
	}
	return Fingerprint(payload)
}

// LinkFingerprint computes the identity digest of a relationship from its
// ordered endpoint fingerprints and kind. Re-asserting the same triple is a
// no-op by construction.
func LinkFingerprint(fromFingerprint, toFingerprint string, kind LinkKind) string {
	return Fingerprint(map[string]any{
		"from": fromFingerprint,
		"to":   toFingerprint,
		"kind": string(kind),
	})
}

// addTypedPayload folds the set typed cases into the canonical payload.
// Nil cases contribute nothing, so "explicitly empty" and "omitted" hash
// identically.
func addTypedPayload(payload map[string]any, d TypedData) {
	if d.Task != nil {
		payload["task"] = d.Task
	}
	if d.Person != nil {
		payload["person"] = d.Person
	}
	if d.Event != nil {
		payload["event"] = d.Event
	}
	if d.Goal != nil {
		payload["goal"] = d.Goal
	}
	if d.Habit != nil {
		payload["habit"] = d.Habit
	}
	if d.Health != nil {
		payload["health"] = d.Health
	}
	if d.Water != nil {
		payload["water"] = d.Water
	}
}

// normalizedTitleSet lowercases, collapses, and sorts related titles,
// dropping empties and duplicates.
func normalizedTitleSet(titles []string) []string {
	set := lo.Uniq(lo.FilterMap(titles, func(t string, _ int) (string, bool) {
		t = NormalizeTitle(t)
		return t, t != ""
	}))
	sort.Strings(set)
	return set
}
