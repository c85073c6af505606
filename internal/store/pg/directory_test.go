package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"churchmap.org/internal/directory"
)

func churchColumns() []string {
	return []string{
		"id", "name", "path", "status",
		"address", "postcode", "website",
		"email", "phone", "notes",
		"created_at", "updated_at", "deleted_at",
		"county_id",
	}
}

func TestFindChurchByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	created := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	updated := created.UnixMilli()
	mock.ExpectQuery("from churches where id").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(churchColumns()).
			AddRow(int64(42), "St Mary", "st-mary", "Listed",
				"1 High St", "CT1 2EH", "https://stmary.example",
				"", "", "",
				created, updated, nil,
				int64(7)))

	store := NewStore(db).Entities(directory.KindChurch)
	rec, err := store.Find(context.Background(), directory.Ref{ID: 42}, false)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.ID != 42 || rec.Name != "St Mary" || rec.CountyID != 7 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Version() != updated {
		t.Fatalf("version = %d, want %d", rec.Version(), updated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFindNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("from counties where path").
		WithArgs("nowhere").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewStore(db).Entities(directory.KindCounty)
	_, err = store.Find(context.Background(), directory.Ref{Path: "nowhere"}, false)
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListAppliesVisibilityFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// Anonymous listing: soft-deleted rows excluded and Listed only.
	mock.ExpectQuery(`from networks where true and deleted_at is null and status = 'Listed'`).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows(churchColumns()[:13]))

	store := NewStore(db).Entities(directory.KindNetwork)
	_, err = store.List(context.Background(), directory.ListFilter{Limit: 50, ListedOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateCASStaleStamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update counties set").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db).Entities(directory.KindCounty)
	rec := &directory.Record{
		ID: 5, Kind: directory.KindCounty, Name: "Kent", Status: directory.StatusListed,
		UpdatedAt: time.Date(2024, 7, 1, 12, 0, 1, 0, time.UTC),
	}
	ok, err := store.UpdateCAS(context.Background(), rec, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Fatal("stale CAS reported success")
	}
}

func TestUpdateCASApplies(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update networks set").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db).Entities(directory.KindNetwork)
	rec := &directory.Record{
		ID: 5, Kind: directory.KindNetwork, Name: "N", Status: directory.StatusListed,
		UpdatedAt: time.Date(2024, 7, 1, 12, 0, 1, 0, time.UTC),
	}
	ok, err := store.UpdateCAS(context.Background(), rec, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !ok {
		t.Fatal("CAS update reported failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReplaceAbortsOnStaleChurch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update churches set updated_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewStore(db).Memberships()
	expected := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	ok, err := store.Replace(context.Background(), 42, []int64{1}, nil, expected, expected.Add(time.Second))
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if ok {
		t.Fatal("stale replace reported success")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReplaceCommitsJoinChanges(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update churches set updated_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from church_affiliations").
		WithArgs(int64(42), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into church_affiliations").
		WithArgs(int64(42), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewStore(db).Memberships()
	expected := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	ok, err := store.Replace(context.Background(), 42, []int64{9}, []int64{3}, expected, expected.Add(time.Second))
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if !ok {
		t.Fatal("replace reported failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkRevokedIsWriteOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("revoked_at is null").
		WithArgs("tok-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewStore(db).APITokens().MarkRevoked(context.Background(), "tok-1", at); err != nil {
		t.Fatalf("mark revoked: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
