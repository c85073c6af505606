package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memStore struct {
	entries []*Entry
	fail    error
}

func (m *memStore) Append(_ context.Context, e *Entry) error {
	if m.fail != nil {
		return m.fail
	}
	m.entries = append(m.entries, e)
	return nil
}

func TestDiff(t *testing.T) {
	cases := []struct {
		name   string
		before map[string]any
		after  map[string]any
		want   int
	}{
		{"both nil", nil, nil, 0},
		{"identical", map[string]any{"a": 1}, map[string]any{"a": 1}, 0},
		{"changed value", map[string]any{"a": 1}, map[string]any{"a": 2}, 1},
		{"added key", nil, map[string]any{"a": 1}, 1},
		{"removed key", map[string]any{"a": 1}, nil, 1},
		{"mixed", map[string]any{"a": 1, "b": "x"}, map[string]any{"a": 1, "b": "y", "c": true}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Diff(tc.before, tc.after)
			if tc.want == 0 {
				if got != nil {
					t.Fatalf("Diff = %v, want nil", got)
				}
				return
			}
			if len(got) != tc.want {
				t.Fatalf("Diff has %d changes, want %d: %v", len(got), tc.want, got)
			}
		})
	}
}

func TestDiffSlices(t *testing.T) {
	before := map[string]any{"affiliationIds": []int64{1, 2}}
	same := map[string]any{"affiliationIds": []int64{1, 2}}
	if got := Diff(before, same); got != nil {
		t.Fatalf("equal slices diffed: %v", got)
	}
	changed := map[string]any{"affiliationIds": []int64{1, 3}}
	if got := Diff(before, changed); len(got) != 1 {
		t.Fatalf("changed slices not diffed: %v", got)
	}
}

func TestRecordAppendsEntry(t *testing.T) {
	store := &memStore{}
	stamp := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	w := NewWriter(store).WithClock(func() time.Time { return stamp })

	actor := Actor{ID: "u1", TokenID: "tok-1"}
	w.Record(context.Background(), actor, "church.update", "church", 42,
		map[string]any{"name": "Old"}, map[string]any{"name": "New"})

	if len(store.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.ID == "" {
		t.Fatal("entry has no id")
	}
	if e.ActorID != "u1" || e.TokenID != "tok-1" || e.Action != "church.update" {
		t.Fatalf("entry = %+v", e)
	}
	if e.RecordID != 42 || e.EntityKind != "church" {
		t.Fatalf("entry target = %+v", e)
	}
	if !e.CreatedAt.Equal(stamp) {
		t.Fatalf("createdAt = %v", e.CreatedAt)
	}
	if e.Diff["name"].Old != "Old" || e.Diff["name"].New != "New" {
		t.Fatalf("diff = %v", e.Diff)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &memStore{fail: errors.New("connection reset")}
	w := NewWriter(store)
	// Must not panic or propagate: the mutation already committed.
	w.Record(context.Background(), Actor{ID: "u1"}, "church.delete", "church", 1, nil, nil)
}
