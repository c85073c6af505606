// Package audit persists one append-only row per successful mutation:
// who touched which record when, with a field-level before/after diff.
package audit

import (
	"context"
	"reflect"
	"time"

	"churchmap.org/internal/ids"
	"churchmap.org/internal/obs"
)

// Actor identifies the mutating caller. Exactly one of TokenID / SessionID is
// set, naming the credential used.
type Actor struct {
	ID        string
	TokenID   string
	SessionID string
}

// FieldChange records one differing field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Entry is an append-only audit row. The application never updates or
// deletes entries.
type Entry struct {
	ID         string
	ActorID    string
	TokenID    string
	SessionID  string
	Action     string
	EntityKind string
	RecordID   int64
	Diff       map[string]FieldChange // nil when nothing differed
	CreatedAt  time.Time
}

// Store appends immutable entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

// Writer computes diffs and persists audit entries. It runs only after the
// primary mutation has committed; a failed append is logged and never rolls
// the mutation back.
type Writer struct {
	store Store
	now   func() time.Time
}

// NewWriter constructs a Writer.
func NewWriter(store Store) *Writer {
	return &Writer{store: store, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (w *Writer) WithClock(fn func() time.Time) *Writer {
	if fn != nil {
		w.now = fn
	}
	return w
}

// Record writes one audit row for a completed mutation. An empty diff still
// produces a row with a null diff: the fact the actor touched the record is
// the invariant, not the diff.
func (w *Writer) Record(ctx context.Context, actor Actor, action, entityKind string, recordID int64, before, after map[string]any) {
	entry := &Entry{
		ID:         ids.New(),
		ActorID:    actor.ID,
		TokenID:    actor.TokenID,
		SessionID:  actor.SessionID,
		Action:     action,
		EntityKind: entityKind,
		RecordID:   recordID,
		Diff:       Diff(before, after),
		CreatedAt:  w.now().UTC(),
	}
	if err := w.store.Append(ctx, entry); err != nil {
		obs.LogRequest(map[string]any{
			"level": "error", "msg": "audit append failed",
			"action": action, "entity_kind": entityKind, "record_id": recordID,
			"actor_id": actor.ID, "error": err.Error(),
		})
	}
}

// Diff returns the keys whose values differ between before and after, with
// old/new pairs. Nil is returned when nothing differs, including when both
// maps are nil.
func Diff(before, after map[string]any) map[string]FieldChange {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	var out map[string]FieldChange
	for k := range keys {
		oldV, newV := before[k], after[k]
		if reflect.DeepEqual(oldV, newV) {
			continue
		}
		if out == nil {
			out = make(map[string]FieldChange)
		}
		out[k] = FieldChange{Old: oldV, New: newV}
	}
	return out
}
