package directory

import (
	"context"
	"slices"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs the
// service tests and local development without Postgres.
type InMemory struct {
	mu      sync.RWMutex
	nextID  int64
	records map[Kind]map[int64]*Record
	members map[int64][]int64 // churchID -> network ids
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	m := &InMemory{
		nextID:  1,
		records: make(map[Kind]map[int64]*Record),
		members: make(map[int64][]int64),
	}
	for _, k := range Kinds {
		m.records[k] = make(map[int64]*Record)
	}
	return m
}

// Entities returns the per-kind store view.
func (m *InMemory) Entities(kind Kind) EntityStore { return &memEntities{m: m, kind: kind} }

// Memberships returns the affiliation join view.
func (m *InMemory) Memberships() MembershipStore { return &memMembers{m: m} }

type memEntities struct {
	m    *InMemory
	kind Kind
}

func (s *memEntities) List(_ context.Context, f ListFilter) ([]Record, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var ids []int64
	for id := range s.m.records[s.kind] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var out []Record
	skipped := 0
	for _, id := range ids {
		rec := s.m.records[s.kind][id]
		if rec.DeletedAt != nil && !f.IncludeDeleted {
			continue
		}
		if f.ListedOnly && rec.Status != StatusListed {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *memEntities) Find(_ context.Context, ref Ref, includeDeleted bool) (*Record, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	rec := s.lookup(ref)
	if rec == nil || (rec.DeletedAt != nil && !includeDeleted) {
		return nil, ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *memEntities) Insert(_ context.Context, rec *Record) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	rec.ID = s.m.nextID
	s.m.nextID++
	clone := *rec
	s.m.records[s.kind][rec.ID] = &clone
	return nil
}

func (s *memEntities) UpdateCAS(_ context.Context, rec *Record, expected time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored, ok := s.m.records[s.kind][rec.ID]
	if !ok {
		return false, ErrNotFound
	}
	if !stored.UpdatedAt.Equal(expected) {
		return false, nil
	}
	clone := *rec
	s.m.records[s.kind][rec.ID] = &clone
	return true, nil
}

func (s *memEntities) lookup(ref Ref) *Record {
	if ref.ID != 0 {
		return s.m.records[s.kind][ref.ID]
	}
	for _, rec := range s.m.records[s.kind] {
		if rec.Path != "" && rec.Path == ref.Path {
			return rec
		}
	}
	return nil
}

type memMembers struct {
	m *InMemory
}

func (s *memMembers) AffiliationsOf(_ context.Context, churchID int64) ([]int64, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := slices.Clone(s.m.members[churchID])
	slices.Sort(out)
	return out, nil
}

func (s *memMembers) Replace(_ context.Context, churchID int64, add, remove []int64, expected, stamp time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	church, ok := s.m.records[KindChurch][churchID]
	if !ok {
		return false, ErrNotFound
	}
	if !church.UpdatedAt.Equal(expected) {
		return false, nil
	}
	current := s.m.members[churchID]
	var next []int64
	for _, id := range current {
		if !slices.Contains(remove, id) {
			next = append(next, id)
		}
	}
	for _, id := range add {
		if !slices.Contains(next, id) {
			next = append(next, id)
		}
	}
	s.m.members[churchID] = next
	church.UpdatedAt = stamp
	return true, nil
}
