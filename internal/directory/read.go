package directory

import (
	"context"

	"churchmap.org/internal/auth"
)

const (
	// MaxListLimit caps page sizes on list queries.
	MaxListLimit = 200
	// DefaultListLimit applies when the caller does not ask for one.
	DefaultListLimit = 50
)

// ListOptions are the caller-facing knobs of a list query.
type ListOptions struct {
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// ReadService answers role-aware, visibility-filtered queries. Anonymous
// callers get a redacted projection and are filtered to Listed records in the
// query itself, so non-Listed rows are not enumerable even in redacted form.
type ReadService struct {
	store Store
}

// NewReadService constructs a ReadService.
func NewReadService(store Store) *ReadService {
	return &ReadService{store: store}
}

// List returns projections of the visible records of a kind.
func (s *ReadService) List(ctx context.Context, ident *auth.Identity, kind Kind, opts ListOptions) ([]map[string]any, error) {
	if !kind.Valid() {
		return nil, Validationf("unknown entity kind %q", kind)
	}
	if opts.IncludeDeleted && !ident.IsAdmin() {
		return nil, ErrForbidden
	}
	if opts.Limit < 0 || opts.Limit > MaxListLimit {
		return nil, Validationf("limit must be between 0 and %d", MaxListLimit)
	}
	if opts.Offset < 0 {
		return nil, Validationf("offset must not be negative")
	}
	limit := opts.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	redacted := ident == nil
	records, err := s.store.Entities(kind).List(ctx, ListFilter{
		Limit:          limit,
		Offset:         opts.Offset,
		IncludeDeleted: opts.IncludeDeleted,
		ListedOnly:     redacted,
	})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(records))
	for i := range records {
		out = append(out, records[i].Project(redacted))
	}
	return out, nil
}

// Get resolves one record by id or path and returns its projection.
func (s *ReadService) Get(ctx context.Context, ident *auth.Identity, kind Kind, ref Ref, includeDeleted bool) (map[string]any, error) {
	rec, err := s.find(ctx, ident, kind, ref, includeDeleted)
	if err != nil {
		return nil, err
	}
	return rec.Project(ident == nil), nil
}

// Affiliations lists a church's network memberships alongside the church's
// version stamp, which doubles as the membership version.
func (s *ReadService) Affiliations(ctx context.Context, ident *auth.Identity, ref Ref) (map[string]any, error) {
	rec, err := s.find(ctx, ident, KindChurch, ref, false)
	if err != nil {
		return nil, err
	}
	affiliations, err := s.store.Memberships().AffiliationsOf(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"churchId":       rec.ID,
		"affiliationIds": affiliations,
	}
	if ident != nil {
		out["updatedAt"] = rec.Version()
	}
	return out, nil
}

func (s *ReadService) find(ctx context.Context, ident *auth.Identity, kind Kind, ref Ref, includeDeleted bool) (*Record, error) {
	if !kind.Valid() {
		return nil, Validationf("unknown entity kind %q", kind)
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if includeDeleted && !ident.IsAdmin() {
		return nil, ErrForbidden
	}
	rec, err := s.store.Entities(kind).Find(ctx, ref, includeDeleted)
	if err != nil {
		return nil, err
	}
	// Non-Listed records are indistinguishable from absent ones for public
	// callers.
	if ident == nil && rec.Status != StatusListed {
		return nil, ErrNotFound
	}
	return rec, nil
}
