package directory

import (
	"context"
	"slices"
	"time"

	"churchmap.org/internal/audit"
	"churchmap.org/internal/auth"
)

// WriteService owns the version-check-then-mutate sequence for all three
// record kinds plus the church ⇄ network membership join. No other component
// writes entity rows. Every successful mutation is followed by exactly one
// audit entry; a mutation that fails the version check writes nothing.
type WriteService struct {
	store Store
	audit *audit.Writer
	now   func() time.Time
}

// NewWriteService constructs a WriteService.
func NewWriteService(store Store, auditor *audit.Writer) *WriteService {
	return &WriteService{store: store, audit: auditor, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *WriteService) WithClock(fn func() time.Time) *WriteService {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Create inserts a new record from the given fields. Only allow-listed
// fields are honoured; name is mandatory.
func (s *WriteService) Create(ctx context.Context, ident *auth.Identity, kind Kind, fields map[string]any) (*Record, error) {
	if err := requireWriter(ident); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, Validationf("unknown entity kind %q", kind)
	}
	name, _ := fields["name"].(string)
	if name == "" {
		return nil, Validationf("name is required")
	}
	rec := &Record{Kind: kind, Status: defaultStatus(kind)}
	if _, err := ApplyPatch(rec, fields); err != nil {
		return nil, err
	}
	now := s.stamp()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := s.store.Entities(kind).Insert(ctx, rec); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorOf(ident), string(kind)+".create", string(kind), rec.ID, nil, auditFields(rec))
	return rec, nil
}

// Update applies a partial patch under optimistic concurrency. The patch
// must name at least one recognised mutable field; unknown and immutable
// keys are dropped silently.
func (s *WriteService) Update(ctx context.Context, ident *auth.Identity, kind Kind, ref Ref, expectedVersion any, patch map[string]any) (*Record, error) {
	if err := requireWriter(ident); err != nil {
		return nil, err
	}
	rec, expected, err := s.target(ctx, kind, ref, expectedVersion, false)
	if err != nil {
		return nil, err
	}
	if !Recognised(kind, patch) {
		return nil, Validationf("patch contains no recognised fields")
	}
	before := auditFields(rec)
	if _, err := ApplyPatch(rec, patch); err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.stamp()
	if err := s.commit(ctx, kind, rec, expected); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorOf(ident), string(kind)+".update", string(kind), rec.ID, before, auditFields(rec))
	return rec, nil
}

// Delete soft-deletes a record, version-checked like an update. Already
// deleted rows are invisible to the lookup and surface as not found.
func (s *WriteService) Delete(ctx context.Context, ident *auth.Identity, kind Kind, ref Ref, expectedVersion any) (*Record, error) {
	if err := requireWriter(ident); err != nil {
		return nil, err
	}
	rec, expected, err := s.target(ctx, kind, ref, expectedVersion, false)
	if err != nil {
		return nil, err
	}
	before := auditFields(rec)
	now := s.stamp()
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	if err := s.commit(ctx, kind, rec, expected); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorOf(ident), string(kind)+".delete", string(kind), rec.ID, before, auditFields(rec))
	return rec, nil
}

// Restore clears a soft-delete marker. Admin only — even the record's own
// contributor-creator may not restore it.
func (s *WriteService) Restore(ctx context.Context, ident *auth.Identity, kind Kind, ref Ref, expectedVersion any) (*Record, error) {
	if !ident.IsAdmin() {
		return nil, ErrForbidden
	}
	rec, expected, err := s.target(ctx, kind, ref, expectedVersion, true)
	if err != nil {
		return nil, err
	}
	if rec.DeletedAt == nil {
		return nil, Validationf("record is not deleted")
	}
	before := auditFields(rec)
	rec.DeletedAt = nil
	rec.UpdatedAt = s.stamp()
	if err := s.commit(ctx, kind, rec, expected); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorOf(ident), string(kind)+".restore", string(kind), rec.ID, before, auditFields(rec))
	return rec, nil
}

// SetResult reports an affiliation membership change.
type SetResult struct {
	Church  *Record
	Added   []int64
	Removed []int64
	Current []int64
}

// SetAffiliations replaces a church's full affiliation list in one logical
// unit. The church row's updatedAt is bumped in the same transaction and
// serves as the membership version stamp. When the requested list equals the
// current one nothing is written except the audit row, whose diff is null.
func (s *WriteService) SetAffiliations(ctx context.Context, ident *auth.Identity, ref Ref, expectedVersion any, requested []int64) (*SetResult, error) {
	if err := requireWriter(ident); err != nil {
		return nil, err
	}
	church, expected, err := s.target(ctx, KindChurch, ref, expectedVersion, false)
	if err != nil {
		return nil, err
	}
	want := dedupe(requested)
	networks := s.store.Entities(KindNetwork)
	for _, id := range want {
		if _, err := networks.Find(ctx, Ref{ID: id}, false); err != nil {
			return nil, Validationf("unknown affiliation id %d", id)
		}
	}
	current, err := s.store.Memberships().AffiliationsOf(ctx, church.ID)
	if err != nil {
		return nil, err
	}
	toAdd := difference(want, current)
	toRemove := difference(current, want)
	if len(toAdd) > 0 || len(toRemove) > 0 {
		stamp := s.stamp()
		ok, err := s.store.Memberships().Replace(ctx, church.ID, toAdd, toRemove, expected, stamp)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		church.UpdatedAt = stamp
	}
	s.audit.Record(ctx, actorOf(ident), "church.affiliations.set", string(KindChurch), church.ID,
		map[string]any{"affiliationIds": current},
		map[string]any{"affiliationIds": want},
	)
	return &SetResult{Church: church, Added: toAdd, Removed: toRemove, Current: want}, nil
}

// MembershipResult reports a single add/remove, which delegates to
// SetAffiliations and is therefore idempotent.
type MembershipResult struct {
	Changed bool
	Set     *SetResult
}

// AddAffiliation adds one network to a church's affiliations. Adding an
// already-present id succeeds with Changed=false and an empty effective diff.
func (s *WriteService) AddAffiliation(ctx context.Context, ident *auth.Identity, ref Ref, expectedVersion any, affiliationID int64) (*MembershipResult, error) {
	return s.editMembership(ctx, ident, ref, expectedVersion, affiliationID, true)
}

// RemoveAffiliation removes one network from a church's affiliations.
// Removing an absent id succeeds with Changed=false.
func (s *WriteService) RemoveAffiliation(ctx context.Context, ident *auth.Identity, ref Ref, expectedVersion any, affiliationID int64) (*MembershipResult, error) {
	return s.editMembership(ctx, ident, ref, expectedVersion, affiliationID, false)
}

func (s *WriteService) editMembership(ctx context.Context, ident *auth.Identity, ref Ref, expectedVersion any, affiliationID int64, add bool) (*MembershipResult, error) {
	if err := requireWriter(ident); err != nil {
		return nil, err
	}
	if affiliationID == 0 {
		return nil, Validationf("affiliation_id is required")
	}
	church, _, err := s.target(ctx, KindChurch, ref, expectedVersion, false)
	if err != nil {
		return nil, err
	}
	current, err := s.store.Memberships().AffiliationsOf(ctx, church.ID)
	if err != nil {
		return nil, err
	}
	var want []int64
	if add {
		want = dedupe(append(slices.Clone(current), affiliationID))
	} else {
		want = difference(current, []int64{affiliationID})
	}
	res, err := s.SetAffiliations(ctx, ident, Ref{ID: church.ID}, expectedVersion, want)
	if err != nil {
		return nil, err
	}
	return &MembershipResult{Changed: len(res.Added) > 0 || len(res.Removed) > 0, Set: res}, nil
}

// target loads the mutation target and verifies the version token before
// anything is written. Conflict is raised here, ahead of any DB mutation and
// any audit write.
func (s *WriteService) target(ctx context.Context, kind Kind, ref Ref, expectedVersion any, includeDeleted bool) (*Record, time.Time, error) {
	if !kind.Valid() {
		return nil, time.Time{}, Validationf("unknown entity kind %q", kind)
	}
	if err := ref.Validate(); err != nil {
		return nil, time.Time{}, err
	}
	expected, err := ParseVersion(expectedVersion)
	if err != nil {
		return nil, time.Time{}, err
	}
	rec, err := s.store.Entities(kind).Find(ctx, ref, includeDeleted)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !rec.UpdatedAt.Equal(expected) {
		return nil, time.Time{}, ErrConflict
	}
	return rec, expected, nil
}

// commit performs the single-statement compare-and-swap against the previous
// version stamp. A lost race surfaces as a conflict, same as a stale token.
func (s *WriteService) commit(ctx context.Context, kind Kind, rec *Record, expected time.Time) error {
	ok, err := s.store.Entities(kind).UpdateCAS(ctx, rec, expected)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (s *WriteService) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func requireWriter(ident *auth.Identity) error {
	if !ident.CanWrite() {
		return ErrForbidden
	}
	return nil
}

func actorOf(ident *auth.Identity) audit.Actor {
	if ident == nil {
		return audit.Actor{}
	}
	return audit.Actor{ID: ident.SubjectID, TokenID: ident.TokenID, SessionID: ident.SessionID}
}

func defaultStatus(kind Kind) Status {
	if kind == KindCounty {
		return StatusListed
	}
	return StatusAssess
}

// auditFields is the slice of a record captured in audit diffs: the mutable
// business fields plus the soft-delete marker. Version stamps are excluded
// so that diffs carry only meaningful change.
func auditFields(rec *Record) map[string]any {
	out := map[string]any{
		"name":   rec.Name,
		"path":   rec.Path,
		"status": string(rec.Status),
		"notes":  rec.Notes,
	}
	switch rec.Kind {
	case KindChurch:
		out["address"] = rec.Address
		out["postcode"] = rec.Postcode
		out["website"] = rec.Website
		out["email"] = rec.Email
		out["phone"] = rec.Phone
		out["county_id"] = rec.CountyID
	case KindNetwork:
		out["website"] = rec.Website
	}
	if rec.DeletedAt != nil {
		out["deletedAt"] = rec.DeletedAt.UTC().Format(time.RFC3339)
	} else {
		out["deletedAt"] = nil
	}
	return out
}

func dedupe(in []int64) []int64 {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// difference returns the members of a not present in b, sorted.
func difference(a, b []int64) []int64 {
	var out []int64
	for _, v := range a {
		if !slices.Contains(b, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}
