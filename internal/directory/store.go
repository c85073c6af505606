package directory

import (
	"context"
	"time"
)

// Ref identifies one record by numeric id or unique path slug, mutually
// exclusive.
type Ref struct {
	ID   int64
	Path string
}

// Validate ensures exactly one identifier is present.
func (r Ref) Validate() error {
	switch {
	case r.ID != 0 && r.Path != "":
		return Validationf("id and path are mutually exclusive")
	case r.ID == 0 && r.Path == "":
		return Validationf("either id or path is required")
	}
	return nil
}

// ListFilter narrows a List query.
type ListFilter struct {
	Limit          int
	Offset         int
	IncludeDeleted bool
	// ListedOnly restricts the query to Listed records. Applied for
	// anonymous callers so that non-Listed rows are not enumerable even in
	// redacted form.
	ListedOnly bool
}

// EntityStore persists one kind of record.
type EntityStore interface {
	List(ctx context.Context, f ListFilter) ([]Record, error)
	// Find resolves a record by ref. Soft-deleted rows are invisible unless
	// includeDeleted is set. Returns ErrNotFound when nothing matches.
	Find(ctx context.Context, ref Ref, includeDeleted bool) (*Record, error)
	// Insert persists a new record and assigns its id.
	Insert(ctx context.Context, rec *Record) error
	// UpdateCAS persists the record's mutable columns plus status, deletedAt
	// and updatedAt in a single statement predicated on the previous version
	// stamp. Returns false without mutating anything when the stored
	// updatedAt no longer equals expected.
	UpdateCAS(ctx context.Context, rec *Record, expected time.Time) (bool, error)
}

// MembershipStore persists the church ⇄ network affiliation join. The join
// has no version of its own; the owning church's updatedAt stamp is bumped in
// the same transaction and acts as the membership version.
type MembershipStore interface {
	AffiliationsOf(ctx context.Context, churchID int64) ([]int64, error)
	// Replace applies add/remove as one logical unit, CAS-bumping the church
	// row from expected to stamp. Returns false when the CAS fails.
	Replace(ctx context.Context, churchID int64, add, remove []int64, expected, stamp time.Time) (bool, error)
}

// Store aggregates the per-kind entity stores and the membership join.
type Store interface {
	Entities(kind Kind) EntityStore
	Memberships() MembershipStore
}
