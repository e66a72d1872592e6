package requests

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"campusvault.org/internal/identity"
	"campusvault.org/internal/ids"
)

// PGStore implements Store on PostgreSQL. Support runs as a single
// conditional increment, so concurrent supporters never lose updates the
// way a read-then-write sequence would.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const requestColumns = `id, title, subject, semester, description,
	requested_by_id, requested_by_name, requested_by_institution,
	request_count, status, created_at`

func (s *PGStore) Create(ctx context.Context, draft Draft, requester identity.User) (Request, error) {
	if err := ValidateDraft(&draft); err != nil {
		return Request{}, err
	}
	req := Request{
		ID:                     ids.New(),
		Title:                  draft.Title,
		Subject:                draft.Subject,
		Semester:               draft.Semester,
		Description:            draft.Description,
		RequestedByID:          requester.ID,
		RequestedByName:        requester.Name,
		RequestedByInstitution: requester.Institution,
		RequestCount:           1,
		Status:                 StatusOpen,
		CreatedAt:              time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		insert into resource_requests(id, title, subject, semester, description,
			requested_by_id, requested_by_name, requested_by_institution, request_count, status)
		values($1,$2,$3,$4,$5,$6,$7,$8,1,'open')`,
		req.ID, req.Title, req.Subject, req.Semester, req.Description,
		req.RequestedByID, req.RequestedByName, req.RequestedByInstitution,
	)
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Request, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+requestColumns+` from resource_requests where id=$1`, id)
	return scanRequest(row)
}

func (s *PGStore) List(ctx context.Context, status Status) ([]Request, error) {
	query := `select ` + requestColumns + ` from resource_requests`
	var args []any
	if status != "" {
		query += ` where status=$1`
		args = append(args, string(status))
	}
	query += ` order by request_count desc, created_at desc, id desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var (
			req    Request
			status string
		)
		if err := rows.Scan(&req.ID, &req.Title, &req.Subject, &req.Semester, &req.Description,
			&req.RequestedByID, &req.RequestedByName, &req.RequestedByInstitution,
			&req.RequestCount, &status, &req.CreatedAt); err != nil {
			return nil, err
		}
		req.Status = Status(status)
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PGStore) Support(ctx context.Context, id string) (Request, error) {
	row := s.db.QueryRowContext(ctx, `
		update resource_requests set request_count = request_count + 1
		where id=$1 and status='open'
		returning `+requestColumns, id)
	req, err := scanRequest(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a missing request from a fulfilled one.
		if _, getErr := s.Get(ctx, id); getErr == nil {
			return Request{}, ErrAlreadyFulfilled
		}
		return Request{}, ErrNotFound
	}
	return req, err
}

func (s *PGStore) Fulfill(ctx context.Context, id, requesterID string) (Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.RequestedByID != requesterID {
		return Request{}, ErrForbidden
	}
	if req.Status == StatusFulfilled {
		return Request{}, ErrAlreadyFulfilled
	}
	res, err := s.db.ExecContext(ctx,
		`update resource_requests set status='fulfilled' where id=$1 and status='open'`, id)
	if err != nil {
		return Request{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Request{}, ErrAlreadyFulfilled
	}
	req.Status = StatusFulfilled
	return req, nil
}

func scanRequest(row *sql.Row) (Request, error) {
	var (
		req    Request
		status string
	)
	err := row.Scan(&req.ID, &req.Title, &req.Subject, &req.Semester, &req.Description,
		&req.RequestedByID, &req.RequestedByName, &req.RequestedByInstitution,
		&req.RequestCount, &status, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, err
	}
	req.Status = Status(status)
	return req, nil
}
