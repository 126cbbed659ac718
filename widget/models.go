// Package widget implements the extraction & deduplication engine: canonical
// fingerprinting of entities and relationships, conflict-free merge semantics,
// and idempotent persistence of resolved plans.
package widget

import "time"

// Type identifies the kind of widget.
type Type string

const (
	TypeTask    Type = "task"
	TypePerson  Type = "person"
	TypeEvent   Type = "event"
	TypeNote    Type = "note"
	TypeGoal    Type = "goal"
	TypeHabit   Type = "habit"
	TypeHealth  Type = "health"
	TypeWater   Type = "water-tracker"
)

// LinkKind identifies the relationship between two widgets.
type LinkKind string

const (
	LinkMentions       LinkKind = "mentions"
	LinkRelatedTo      LinkKind = "related_to"
	LinkAssignedTo     LinkKind = "assigned_to"
	LinkScheduledFor   LinkKind = "scheduled_for"
	LinkDependsOn      LinkKind = "depends_on"
	LinkAbout          LinkKind = "about"
	LinkPartOf         LinkKind = "part_of"
	LinkTrackedBy      LinkKind = "tracked_by"
	LinkAssociatedWith LinkKind = "associated_with"
)

// ValidType reports whether t is a member of the closed type set.
func ValidType(t Type) bool {
	switch t {
	case TypeTask, TypePerson, TypeEvent, TypeNote, TypeGoal, TypeHabit, TypeHealth, TypeWater:
		return true
	}
	return false
}

// ValidLinkKind reports whether k is a member of the closed kind set.
func ValidLinkKind(k LinkKind) bool {
	switch k {
	case LinkMentions, LinkRelatedTo, LinkAssignedTo, LinkScheduledFor,
		LinkDependsOn, LinkAbout, LinkPartOf, LinkTrackedBy, LinkAssociatedWith:
		return true
	}
	return false
}

// TaskData holds task-specific fields.
type TaskData struct {
	DueDate   string `json:"due_date,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// PersonData holds person-specific fields.
type PersonData struct {
	Relation string `json:"relation,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// EventData holds event-specific fields.
type EventData struct {
	StartsAt string `json:"starts_at,omitempty"`
	EndsAt   string `json:"ends_at,omitempty"`
	Location string `json:"location,omitempty"`
}

// GoalData holds goal-specific fields.
type GoalData struct {
	Target   string   `json:"target,omitempty"`
	Progress float64  `json:"progress,omitempty"`
	Log      []string `json:"log,omitempty"`
}

// HabitData holds habit-specific fields.
type HabitData struct {
	Frequency string `json:"frequency,omitempty"`
	Streak    int    `json:"streak,omitempty"`
}

// HealthData holds health-record fields.
type HealthData struct {
	Metric string `json:"metric,omitempty"`
	Value  string `json:"value,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

// WaterData holds water-tracker fields.
type WaterData struct {
	Current float64  `json:"current,omitempty"`
	Target  float64  `json:"target,omitempty"`
	Unit    string   `json:"unit,omitempty"`
	Log     []string `json:"log,omitempty"`
}

// TypedData is the variant payload of a widget. At most one case is set,
// matching the widget's Type; an unset case is nil, never an empty struct,
// so canonicalization stays stable.
type TypedData struct {
	Task   *TaskData   `json:"task,omitempty"`
	Person *PersonData `json:"person,omitempty"`
	Event  *EventData  `json:"event,omitempty"`
	Goal   *GoalData   `json:"goal,omitempty"`
	Habit  *HabitData  `json:"habit,omitempty"`
	Health *HealthData `json:"health,omitempty"`
	Water  *WaterData  `json:"water,omitempty"`
}

// Empty reports whether no typed case is set.
func (d TypedData) Empty() bool {
	return d.Task == nil && d.Person == nil && d.Event == nil &&
		d.Goal == nil && d.Habit == nil && d.Health == nil && d.Water == nil
}

// Entity is a normalized widget ready for resolution and persistence.
// Fingerprint is the content digest of the canonical form and acts as the
// logical identity key, independent of the storage-assigned row id.
type Entity struct {
	ID               int64     `json:"id,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	Type             Type      `json:"type"`
	Title            string    `json:"title"`
	TitleNormalized  string    `json:"title_normalized"`
	Description      string    `json:"description,omitempty"`
	TypedData        TypedData `json:"typed_data,omitempty"`
	RelatedTitles    []string  `json:"related_titles,omitempty"`
	Fingerprint      string    `json:"fingerprint"`
	SourceReferences []string  `json:"source_references,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// Link is a directed relationship between two widgets, addressed by entity
// fingerprints so it can be planned before its endpoints are persisted.
type Link struct {
	ID              int64     `json:"id,omitempty"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	FromFingerprint string    `json:"from_fingerprint"`
	ToFingerprint   string    `json:"to_fingerprint"`
	Kind            LinkKind  `json:"kind"`
	Fingerprint     string    `json:"fingerprint"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// RawExtraction is a loosely-typed entity proposal as decoded from a model
// tool call. Normalize turns it into an Entity.
type RawExtraction struct {
	Type          string      `json:"type"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Task          *TaskData   `json:"task,omitempty"`
	Person        *PersonData `json:"person,omitempty"`
	Event         *EventData  `json:"event,omitempty"`
	Goal          *GoalData   `json:"goal,omitempty"`
	Habit         *HabitData  `json:"habit,omitempty"`
	Health        *HealthData `json:"health,omitempty"`
	Water         *WaterData  `json:"water,omitempty"`
	RelatedTitles []string    `json:"related_titles,omitempty"`
}

// RawLink is a relationship proposal as decoded from a model tool call.
// Endpoints are named by title; the resolver maps them to fingerprints.
type RawLink struct {
	FromTitle string `json:"from_title"`
	ToTitle   string `json:"to_title"`
	Kind      string `json:"kind"`
}

// Plan is the resolver's output: the set of entity upserts and link inserts
// to apply atomically.
type Plan struct {
	EntityUpserts []Entity
	LinkInserts   []Link
}

// ApplyResult reports what an Apply call did. Created counts net-new entity
// rows, Merged counts existing rows that were patched; callers interpret
// "net-new" vs "touched" from the pair.
type ApplyResult struct {
	EntitiesCreated int `json:"entities_created"`
	EntitiesMerged  int `json:"entities_merged"`
	LinksInserted   int `json:"links_inserted"`
	LinksSkipped    int `json:"links_skipped"`
}
