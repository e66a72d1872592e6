package requests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var requestCols = []string{
	"id", "title", "subject", "semester", "description",
	"requested_by_id", "requested_by_name", "requested_by_institution",
	"request_count", "status", "created_at",
}

func requestRow(id string, count int, status string) *sqlmock.Rows {
	return sqlmock.NewRows(requestCols).AddRow(
		id, "OS Past Papers", "Operating Systems", 5, "last year's finals",
		"u1", "Student One", "NU", count, status, time.Now().UTC(),
	)
}

func newMock(t *testing.T) (*PGStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return NewPGStore(db), mock, func() { db.Close() }
}

func TestPGStoreCreate(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectExec("insert into resource_requests").
		WithArgs(sqlmock.AnyArg(), "OS Past Papers", "Operating Systems", 5,
			"last year's finals", "u1", "Student u1", "Nazarbayev University").
		WillReturnResult(sqlmock.NewResult(1, 1))

	req, err := store.Create(context.Background(), Draft{
		Title: "OS Past Papers", Subject: "Operating Systems", Semester: 5,
		Description: "last year's finals",
	}, asker("u1"))
	if err != nil {
		t.Fatal(err)
	}
	if req.ID == "" || req.RequestCount != 1 || req.Status != StatusOpen {
		t.Fatalf("created request: %+v", req)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreSupportIncrementsAtomically(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("update resource_requests set request_count = request_count . 1").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", 4, "open"))

	req, err := store.Support(context.Background(), "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if req.RequestCount != 4 {
		t.Fatalf("request_count = %d, want 4", req.RequestCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreSupportFulfilledConflicts(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	// The conditional update matches nothing, then the follow-up read finds
	// the request fulfilled.
	mock.ExpectQuery("update resource_requests set request_count").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(requestCols))
	mock.ExpectQuery("select (.+) from resource_requests where id").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", 4, "fulfilled"))

	_, err := store.Support(context.Background(), "req-1")
	if !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
}

func TestPGStoreSupportMissing(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("update resource_requests set request_count").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(requestCols))
	mock.ExpectQuery("select (.+) from resource_requests where id").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(requestCols))

	_, err := store.Support(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGStoreFulfillRequesterOnly(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("select (.+) from resource_requests where id").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", 4, "open"))

	_, err := store.Fulfill(context.Background(), "req-1", "someone-else")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPGStoreFulfill(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("select (.+) from resource_requests where id").
		WithArgs("req-1").
		WillReturnRows(requestRow("req-1", 4, "open"))
	mock.ExpectExec("update resource_requests set status='fulfilled'").
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, err := store.Fulfill(context.Background(), "req-1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != StatusFulfilled {
		t.Fatalf("status = %s, want fulfilled", req.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
