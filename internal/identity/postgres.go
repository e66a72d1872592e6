package identity

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"campusvault.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, name, email, institution, department, semester, password_hash,
	is_university_email, is_approved, pending_approval, created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where email=$1)`, u.Email,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users(id, name, email, institution, department, semester, password_hash,
			is_university_email, is_approved, pending_approval)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.Name, u.Email, u.Institution, u.Department, u.Semester, u.PasswordHash,
		u.IsUniversityEmail, u.IsApproved, u.PendingApproval,
	)
	// Two concurrent registrations can both pass the pre-check; the unique
	// index on email decides the loser, which must still surface as a
	// typed conflict rather than a raw driver error.
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PGStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`,
		strings.TrimSpace(strings.ToLower(email)))
	return scanUser(row)
}

func (s *PGStore) SetApproval(ctx context.Context, id string, approved, pending bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set is_approved=$2, pending_approval=$3, updated_at=now() where id=$1`,
		id, approved, pending)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Institution, &u.Department, &u.Semester,
		&u.PasswordHash, &u.IsUniversityEmail, &u.IsApproved, &u.PendingApproval,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
