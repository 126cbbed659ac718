package widget

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// NormalizeTitle lowercases a title and collapses internal whitespace runs
// to single spaces, trimming the ends. Used both for the stored
// titleNormalized field and for soft (type, title) matching.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// Normalize maps a loosely-typed extraction record into a canonical Entity:
// trimmed strings, a derived titleNormalized, typed sub-objects kept only
// when at least one field is non-empty, related titles cleaned, and the
// entity fingerprint derived from the result.
//
// A type tag outside the closed set or an empty title is an error; the
// caller drops that one entity and continues with its siblings.
func Normalize(raw RawExtraction) (Entity, error) {
	typ := Type(strings.TrimSpace(raw.Type))
	if !ValidType(typ) {
		return Entity{}, fmt.Errorf("normalize: unknown widget type %q", raw.Type)
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return Entity{}, fmt.Errorf("normalize: empty title for type %q", typ)
	}

	e := Entity{
		Type:            typ,
		Title:           title,
		TitleNormalized: NormalizeTitle(title),
		Description:     strings.TrimSpace(raw.Description),
		TypedData: TypedData{
			Task:   pruneTask(raw.Task),
			Person: prunePerson(raw.Person),
			Event:  pruneEvent(raw.Event),
			Goal:   pruneGoal(raw.Goal),
			Habit:  pruneHabit(raw.Habit),
			Health: pruneHealth(raw.Health),
			Water:  pruneWater(raw.Water),
		},
		RelatedTitles: cleanRelatedTitles(raw.RelatedTitles),
	}
	e.Fingerprint = EntityFingerprint(&e)
	return e, nil
}

// cleanRelatedTitles trims sub-item titles and drops empties. Order is
// preserved: it matters for display even though it is excluded from the
// fingerprint.
func cleanRelatedTitles(titles []string) []string {
	return lo.FilterMap(titles, func(t string, _ int) (string, bool) {
		t = strings.TrimSpace(t)
		return t, t != ""
	})
}

// The prune helpers collapse all-empty sub-objects to nil so that extractions
// differing only in "explicitly null" vs omitted fields hash identically.

func pruneTask(d *TaskData) *TaskData {
	if d == nil {
		return nil
	}
	out := TaskData{
		DueDate:   strings.TrimSpace(d.DueDate),
		Priority:  strings.TrimSpace(d.Priority),
		Completed: d.Completed,
	}
	if out.DueDate == "" && out.Priority == "" && !out.Completed {
		return nil
	}
	return &out
}

func prunePerson(d *PersonData) *PersonData {
	if d == nil {
		return nil
	}
	out := PersonData{
		Relation: strings.TrimSpace(d.Relation),
		Notes:    strings.TrimSpace(d.Notes),
	}
	if out.Relation == "" && out.Notes == "" {
		return nil
	}
	return &out
}

func pruneEvent(d *EventData) *EventData {
	if d == nil {
		return nil
	}
	out := EventData{
		StartsAt: strings.TrimSpace(d.StartsAt),
		EndsAt:   strings.TrimSpace(d.EndsAt),
		Location: strings.TrimSpace(d.Location),
	}
	if out.StartsAt == "" && out.EndsAt == "" && out.Location == "" {
		return nil
	}
	return &out
}

func pruneGoal(d *GoalData) *GoalData {
	if d == nil {
		return nil
	}
	out := GoalData{
		Target:   strings.TrimSpace(d.Target),
		Progress: d.Progress,
		Log:      cleanRelatedTitles(d.Log),
	}
	if out.Target == "" && out.Progress == 0 && len(out.Log) == 0 {
		return nil
	}
	return &out
}

func pruneHabit(d *HabitData) *HabitData {
	if d == nil {
		return nil
	}
	out := HabitData{
		Frequency: strings.TrimSpace(d.Frequency),
		Streak:    d.Streak,
	}
	if out.Frequency == "" && out.Streak == 0 {
		return nil
	}
	return &out
}

func pruneHealth(d *HealthData) *HealthData {
	if d == nil {
		return nil
	}
	out := HealthData{
		Metric: strings.TrimSpace(d.Metric),
		Value:  strings.TrimSpace(d.Value),
		Unit:   strings.TrimSpace(d.Unit),
	}
	if out.Metric == "" && out.Value == "" && out.Unit == "" {
		return nil
	}
	return &out
}

func pruneWater(d *WaterData) *WaterData {
	if d == nil {
		return nil
	}
	out := WaterData{
		Current: d.Current,
		Target:  d.Target,
		Unit:    strings.TrimSpace(d.Unit),
		Log:     cleanRelatedTitles(d.Log),
	}
	if out.Current == 0 && out.Target == 0 && out.Unit == "" && len(out.Log) == 0 {
		return nil
	}
	return &out
}
