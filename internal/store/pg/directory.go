package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"churchmap.org/internal/directory"
)

// entityStore persists one record kind. Each kind has its own table named
// after the kind's plural; churches additionally carry county_id. updated_at
// is stored as epoch milliseconds and doubles as the optimistic-concurrency
// token, so CAS updates compare it with plain integer equality.
type entityStore struct {
	db   *sql.DB
	kind directory.Kind
}

func (s *entityStore) table() string { return s.kind.Plural() }

func (s *entityStore) columns() string {
	cols := `id, name, coalesce(path,''), status,
		coalesce(address,''), coalesce(postcode,''), coalesce(website,''),
		coalesce(email,''), coalesce(phone,''), coalesce(notes,''),
		created_at, updated_at, deleted_at`
	if s.kind == directory.KindChurch {
		cols += `, coalesce(county_id, 0)`
	}
	return cols
}

func (s *entityStore) scan(row interface{ Scan(...any) error }) (*directory.Record, error) {
	rec := directory.Record{Kind: s.kind}
	var updated int64
	var deleted sql.NullTime
	dest := []any{
		&rec.ID, &rec.Name, &rec.Path, &rec.Status,
		&rec.Address, &rec.Postcode, &rec.Website,
		&rec.Email, &rec.Phone, &rec.Notes,
		&rec.CreatedAt, &updated, &deleted,
	}
	if s.kind == directory.KindChurch {
		dest = append(dest, &rec.CountyID)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = millis(updated)
	rec.DeletedAt = nullTime(deleted)
	return &rec, nil
}

func (s *entityStore) List(ctx context.Context, f directory.ListFilter) ([]directory.Record, error) {
	where := []string{"true"}
	if !f.IncludeDeleted {
		where = append(where, "deleted_at is null")
	}
	if f.ListedOnly {
		where = append(where, fmt.Sprintf("status = '%s'", directory.StatusListed))
	}
	q := fmt.Sprintf(`select %s from %s where %s order by id limit $1 offset $2`,
		s.columns(), s.table(), strings.Join(where, " and "))

	rows, err := s.db.QueryContext(ctx, q, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []directory.Record
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *entityStore) Find(ctx context.Context, ref directory.Ref, includeDeleted bool) (*directory.Record, error) {
	var cond string
	var arg any
	switch {
	case ref.ID != 0:
		cond, arg = "id = $1", ref.ID
	default:
		cond, arg = "path = $1", ref.Path
	}
	if !includeDeleted {
		cond += " and deleted_at is null"
	}
	q := fmt.Sprintf(`select %s from %s where %s`, s.columns(), s.table(), cond)
	rec, err := s.scan(s.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *entityStore) Insert(ctx context.Context, rec *directory.Record) error {
	if s.kind == directory.KindChurch {
		q := `insert into churches
			(name, path, status, address, postcode, website, email, phone, notes, county_id, created_at, updated_at)
			values ($1, nullif($2,''), $3, $4, $5, $6, $7, $8, $9, nullif($10,0), $11, $12)
			returning id`
		return s.db.QueryRowContext(ctx, q,
			rec.Name, rec.Path, rec.Status, rec.Address, rec.Postcode, rec.Website,
			rec.Email, rec.Phone, rec.Notes, rec.CountyID,
			rec.CreatedAt, rec.UpdatedAt.UnixMilli(),
		).Scan(&rec.ID)
	}
	q := fmt.Sprintf(`insert into %s
		(name, path, status, address, postcode, website, email, phone, notes, created_at, updated_at)
		values ($1, nullif($2,''), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning id`, s.table())
	return s.db.QueryRowContext(ctx, q,
		rec.Name, rec.Path, rec.Status, rec.Address, rec.Postcode, rec.Website,
		rec.Email, rec.Phone, rec.Notes,
		rec.CreatedAt, rec.UpdatedAt.UnixMilli(),
	).Scan(&rec.ID)
}

func (s *entityStore) UpdateCAS(ctx context.Context, rec *directory.Record, expected time.Time) (bool, error) {
	var deleted sql.NullTime
	if rec.DeletedAt != nil {
		deleted = sql.NullTime{Time: *rec.DeletedAt, Valid: true}
	}
	var res sql.Result
	var err error
	if s.kind == directory.KindChurch {
		q := `update churches set
			name=$1, path=nullif($2,''), status=$3, address=$4, postcode=$5,
			website=$6, email=$7, phone=$8, notes=$9, county_id=nullif($10,0),
			updated_at=$11, deleted_at=$12
			where id=$13 and updated_at=$14`
		res, err = s.db.ExecContext(ctx, q,
			rec.Name, rec.Path, rec.Status, rec.Address, rec.Postcode,
			rec.Website, rec.Email, rec.Phone, rec.Notes, rec.CountyID,
			rec.UpdatedAt.UnixMilli(), deleted,
			rec.ID, expected.UnixMilli())
	} else {
		q := fmt.Sprintf(`update %s set
			name=$1, path=nullif($2,''), status=$3, address=$4, postcode=$5,
			website=$6, email=$7, phone=$8, notes=$9,
			updated_at=$10, deleted_at=$11
			where id=$12 and updated_at=$13`, s.table())
		res, err = s.db.ExecContext(ctx, q,
			rec.Name, rec.Path, rec.Status, rec.Address, rec.Postcode,
			rec.Website, rec.Email, rec.Phone, rec.Notes,
			rec.UpdatedAt.UnixMilli(), deleted,
			rec.ID, expected.UnixMilli())
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// membershipStore persists the church/network join. The join rows have no
// version of their own; Replace bumps the owning church's updated_at in the
// same transaction, which is the CAS point for concurrent affiliation edits.
type membershipStore struct {
	db *sql.DB
}

func (s *membershipStore) AffiliationsOf(ctx context.Context, churchID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		select network_id from church_affiliations
		where church_id = $1
		order by network_id asc
	`, churchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *membershipStore) Replace(ctx context.Context, churchID int64, add, remove []int64, expected, stamp time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	// CAS the church row first; a stale stamp aborts before any join change.
	res, err := tx.ExecContext(ctx, `
		update churches set updated_at = $1
		where id = $2 and updated_at = $3 and deleted_at is null
	`, stamp.UnixMilli(), churchID, expected.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}

	for _, networkID := range remove {
		if _, err := tx.ExecContext(ctx, `
			delete from church_affiliations where church_id = $1 and network_id = $2
		`, churchID, networkID); err != nil {
			return false, err
		}
	}
	for _, networkID := range add {
		if _, err := tx.ExecContext(ctx, `
			insert into church_affiliations (church_id, network_id)
			values ($1, $2) on conflict do nothing
		`, churchID, networkID); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
