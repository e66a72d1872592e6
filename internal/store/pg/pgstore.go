package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"campusvault.org/internal/identity"
	"campusvault.org/internal/ids"
	"campusvault.org/internal/library"
)

// Store implements library.Service on PostgreSQL. Review mutations and the
// summary recompute run inside one serializable transaction with the resource
// row locked, so readers never observe a review set and a summary computed
// from different snapshots.
type Store struct {
	db *sql.DB
}

var _ library.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (used by tests and cmd wiring).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const resourceColumns = `id, title, subject, semester, department, kind, visibility,
	owner_id, owner_name, owner_institution, restricted_to_institution, shared_with,
	file_url, file_type, file_size, downloads, average_rating, total_ratings, created_at`

func (s *Store) CreateResource(ctx context.Context, draft library.ResourceDraft, owner identity.User) (library.Resource, error) {
	if err := library.ValidateDraft(&draft); err != nil {
		return library.Resource{}, err
	}
	res := library.Resource{
		ID:               ids.New(),
		Title:            draft.Title,
		Subject:          draft.Subject,
		Semester:         draft.Semester,
		Department:       draft.Department,
		Kind:             draft.Kind,
		Visibility:       draft.Visibility,
		OwnerID:          owner.ID,
		OwnerName:        owner.Name,
		OwnerInstitution: owner.Institution,
		FileURL:          draft.FileURL,
		FileType:         draft.FileType,
		FileSize:         draft.FileSize,
		CreatedAt:        time.Now().UTC(),
	}
	if draft.RestrictToInstitution {
		res.RestrictedToInstitution = owner.Institution
	}

	_, err := s.db.ExecContext(ctx, `
		insert into resources(id, title, subject, semester, department, kind, visibility,
			owner_id, owner_name, owner_institution, restricted_to_institution, shared_with,
			file_url, file_type, file_size)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'[]',$12,$13,$14)`,
		res.ID, res.Title, res.Subject, res.Semester, res.Department, string(res.Kind),
		string(res.Visibility), res.OwnerID, res.OwnerName, res.OwnerInstitution,
		res.RestrictedToInstitution, res.FileURL, res.FileType, res.FileSize,
	)
	if err != nil {
		return library.Resource{}, err
	}
	return res, nil
}

func (s *Store) GetResource(ctx context.Context, id string) (library.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+resourceColumns+` from resources where id=$1`, id)
	return scanResource(row)
}

func (s *Store) ListResources(ctx context.Context, filter library.Filter) ([]library.Resource, error) {
	query := `select ` + resourceColumns + ` from resources`
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		p := arg("%" + q + "%")
		conds = append(conds, fmt.Sprintf("(title ilike %s or subject ilike %s)", p, p))
	}
	if filter.Subject != "" {
		conds = append(conds, "subject = "+arg(filter.Subject))
	}
	if filter.Department != "" {
		conds = append(conds, "department = "+arg(filter.Department))
	}
	if filter.Semester != 0 {
		conds = append(conds, "semester = "+arg(filter.Semester))
	}
	if filter.Visibility != "" {
		conds = append(conds, "visibility = "+arg(string(filter.Visibility)))
	}
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	switch filter.Sort {
	case library.SortHighestRated:
		query += " order by average_rating desc, total_ratings desc"
	case library.SortMostPopular:
		query += " order by downloads desc"
	default:
		query += " order by created_at desc, id desc"
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " limit " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []library.Resource
	for rows.Next() {
		res, err := scanResourceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s *Store) DeleteResource(ctx context.Context, id, requesterID string) error {
	var ownerID string
	err := s.db.QueryRowContext(ctx, `select owner_id from resources where id=$1`, id).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return library.ErrNotFound
	}
	if err != nil {
		return err
	}
	if ownerID != requesterID {
		return library.ErrForbidden
	}
	// Reviews cascade via the resource_id foreign key.
	_, err = s.db.ExecContext(ctx, `delete from resources where id=$1`, id)
	return err
}

func (s *Store) Share(ctx context.Context, resourceID, requesterID, email string) (library.Resource, error) {
	return s.mutateShares(ctx, resourceID, requesterID, email, true)
}

func (s *Store) Unshare(ctx context.Context, resourceID, requesterID, email string) (library.Resource, error) {
	return s.mutateShares(ctx, resourceID, requesterID, email, false)
}

func (s *Store) mutateShares(ctx context.Context, resourceID, requesterID, email string, add bool) (library.Resource, error) {
	email, err := library.NormalizeEmail(email)
	if err != nil {
		return library.Resource{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return library.Resource{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		ownerID string
		raw     []byte
	)
	err = tx.QueryRowContext(ctx,
		`select owner_id, shared_with from resources where id=$1 for update`, resourceID,
	).Scan(&ownerID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return library.Resource{}, library.ErrNotFound
	}
	if err != nil {
		return library.Resource{}, err
	}
	if ownerID != requesterID {
		return library.Resource{}, library.ErrForbidden
	}

	var shared []string
	_ = json.Unmarshal(raw, &shared)
	if add {
		found := false
		for _, e := range shared {
			if e == email {
				found = true
				break
			}
		}
		if !found {
			shared = append(shared, email)
		}
	} else {
		kept := shared[:0]
		for _, e := range shared {
			if e != email {
				kept = append(kept, e)
			}
		}
		shared = kept
	}

	encoded, err := json.Marshal(shared)
	if err != nil {
		return library.Resource{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`update resources set shared_with=$2 where id=$1`, resourceID, encoded); err != nil {
		return library.Resource{}, err
	}
	if err := tx.Commit(); err != nil {
		return library.Resource{}, err
	}
	return s.GetResource(ctx, resourceID)
}

func (s *Store) RecordDownload(ctx context.Context, id string) (library.Resource, error) {
	res, err := s.db.ExecContext(ctx,
		`update resources set downloads = downloads + 1 where id=$1`, id)
	if err != nil {
		return library.Resource{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return library.Resource{}, library.ErrNotFound
	}
	return s.GetResource(ctx, id)
}

func (s *Store) Facets(ctx context.Context) (library.Facets, error) {
	var f library.Facets
	rows, err := s.db.QueryContext(ctx,
		`select distinct subject, department, semester from resources`)
	if err != nil {
		return library.Facets{}, err
	}
	defer rows.Close()

	subjects := make(map[string]struct{})
	departments := make(map[string]struct{})
	semesters := make(map[int]struct{})
	for rows.Next() {
		var (
			subject, department string
			semester            int
		)
		if err := rows.Scan(&subject, &department, &semester); err != nil {
			return library.Facets{}, err
		}
		subjects[subject] = struct{}{}
		departments[department] = struct{}{}
		semesters[semester] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return library.Facets{}, err
	}
	for k := range subjects {
		f.Subjects = append(f.Subjects, k)
	}
	for k := range departments {
		f.Departments = append(f.Departments, k)
	}
	for k := range semesters {
		f.Semesters = append(f.Semesters, k)
	}
	sort.Strings(f.Subjects)
	sort.Strings(f.Departments)
	sort.Ints(f.Semesters)
	return f, nil
}

func (s *Store) ListReviews(ctx context.Context, resourceID string) ([]library.Review, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from resources where id=$1)`, resourceID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, library.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, resource_id, author_id, author_name, rating, comment, created_at
		from reviews where resource_id=$1 order by created_at asc, id asc`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []library.Review
	for rows.Next() {
		var rev library.Review
		if err := rows.Scan(&rev.ID, &rev.ResourceID, &rev.AuthorID, &rev.AuthorName,
			&rev.Rating, &rev.Comment, &rev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func (s *Store) SubmitReview(ctx context.Context, resourceID string, author identity.User, rating int, comment string) (library.Review, error) {
	if err := library.ValidateRating(rating); err != nil {
		return library.Review{}, err
	}
	if err := library.ValidateComment(comment); err != nil {
		return library.Review{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return library.Review{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockResource(ctx, tx, resourceID); err != nil {
		return library.Review{}, err
	}

	// The unique index on (resource_id, author_id) backs this check; inside
	// the serializable transaction the pre-check keeps the error typed.
	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from reviews where resource_id=$1 and author_id=$2)`,
		resourceID, author.ID).Scan(&exists); err != nil {
		return library.Review{}, err
	}
	if exists {
		return library.Review{}, library.ErrDuplicateReview
	}

	rev := library.Review{
		ID:         ids.New(),
		ResourceID: resourceID,
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Rating:     rating,
		Comment:    strings.TrimSpace(comment),
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into reviews(id, resource_id, author_id, author_name, rating, comment)
		values($1,$2,$3,$4,$5,$6)`,
		rev.ID, rev.ResourceID, rev.AuthorID, rev.AuthorName, rev.Rating, rev.Comment); err != nil {
		return library.Review{}, err
	}

	if _, err := recomputeLocked(ctx, tx, resourceID); err != nil {
		return library.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return library.Review{}, err
	}
	return rev, nil
}

func (s *Store) EditReview(ctx context.Context, reviewID, requesterID string, rating int, comment string) (library.Review, error) {
	if err := library.ValidateRating(rating); err != nil {
		return library.Review{}, err
	}
	if err := library.ValidateComment(comment); err != nil {
		return library.Review{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return library.Review{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var rev library.Review
	err = tx.QueryRowContext(ctx, `
		select id, resource_id, author_id, author_name, created_at
		from reviews where id=$1 for update`, reviewID,
	).Scan(&rev.ID, &rev.ResourceID, &rev.AuthorID, &rev.AuthorName, &rev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return library.Review{}, library.ErrNotFound
	}
	if err != nil {
		return library.Review{}, err
	}
	if rev.AuthorID != requesterID {
		return library.Review{}, library.ErrForbidden
	}
	if err := lockResource(ctx, tx, rev.ResourceID); err != nil {
		return library.Review{}, err
	}

	rev.Rating = rating
	rev.Comment = strings.TrimSpace(comment)
	if _, err := tx.ExecContext(ctx,
		`update reviews set rating=$2, comment=$3 where id=$1`,
		reviewID, rev.Rating, rev.Comment); err != nil {
		return library.Review{}, err
	}
	if _, err := recomputeLocked(ctx, tx, rev.ResourceID); err != nil {
		return library.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return library.Review{}, err
	}
	return rev, nil
}

func (s *Store) DeleteReview(ctx context.Context, reviewID, requesterID string) (library.Review, library.Summary, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return library.Review{}, library.Summary{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var rev library.Review
	err = tx.QueryRowContext(ctx, `
		select id, resource_id, author_id, author_name, rating, comment, created_at
		from reviews where id=$1 for update`, reviewID,
	).Scan(&rev.ID, &rev.ResourceID, &rev.AuthorID, &rev.AuthorName,
		&rev.Rating, &rev.Comment, &rev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return library.Review{}, library.Summary{}, library.ErrNotFound
	}
	if err != nil {
		return library.Review{}, library.Summary{}, err
	}
	if rev.AuthorID != requesterID {
		return library.Review{}, library.Summary{}, library.ErrForbidden
	}
	if err := lockResource(ctx, tx, rev.ResourceID); err != nil {
		return library.Review{}, library.Summary{}, err
	}

	if _, err := tx.ExecContext(ctx, `delete from reviews where id=$1`, reviewID); err != nil {
		return library.Review{}, library.Summary{}, err
	}
	sum, err := recomputeLocked(ctx, tx, rev.ResourceID)
	if err != nil {
		return library.Review{}, library.Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return library.Review{}, library.Summary{}, err
	}
	return rev, sum, nil
}

func (s *Store) Recompute(ctx context.Context, resourceID string) (library.Summary, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return library.Summary{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockResource(ctx, tx, resourceID); err != nil {
		return library.Summary{}, err
	}
	sum, err := recomputeLocked(ctx, tx, resourceID)
	if err != nil {
		return library.Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return library.Summary{}, err
	}
	return sum, nil
}

// --- helpers ---

// lockResource takes the per-resource row lock that serializes concurrent
// review mutations against the same resource.
func lockResource(ctx context.Context, tx *sql.Tx, resourceID string) error {
	var dummy int
	err := tx.QueryRowContext(ctx,
		`select 1 from resources where id=$1 for update`, resourceID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return library.ErrNotFound
	}
	return err
}

// recomputeLocked rebuilds the summary from the live review set and writes it
// back. Must run inside a transaction holding the resource row lock.
func recomputeLocked(ctx context.Context, tx *sql.Tx, resourceID string) (library.Summary, error) {
	rows, err := tx.QueryContext(ctx,
		`select rating from reviews where resource_id=$1`, resourceID)
	if err != nil {
		return library.Summary{}, err
	}
	defer rows.Close()

	var reviews []library.Review
	for rows.Next() {
		var rating int
		if err := rows.Scan(&rating); err != nil {
			return library.Summary{}, err
		}
		reviews = append(reviews, library.Review{Rating: rating})
	}
	if err := rows.Err(); err != nil {
		return library.Summary{}, err
	}

	sum := library.Summarize(reviews)
	if _, err := tx.ExecContext(ctx,
		`update resources set average_rating=$2, total_ratings=$3 where id=$1`,
		resourceID, sum.AverageRating, sum.TotalRatings); err != nil {
		return library.Summary{}, err
	}
	return sum, nil
}

func scanResource(row *sql.Row) (library.Resource, error) {
	var (
		res              library.Resource
		kind, visibility string
		shared           []byte
	)
	err := row.Scan(&res.ID, &res.Title, &res.Subject, &res.Semester, &res.Department,
		&kind, &visibility, &res.OwnerID, &res.OwnerName, &res.OwnerInstitution,
		&res.RestrictedToInstitution, &shared, &res.FileURL, &res.FileType, &res.FileSize,
		&res.Downloads, &res.AverageRating, &res.TotalRatings, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return library.Resource{}, library.ErrNotFound
	}
	if err != nil {
		return library.Resource{}, err
	}
	res.Kind = library.Kind(kind)
	res.Visibility = library.Visibility(visibility)
	_ = json.Unmarshal(shared, &res.SharedWith)
	return res, nil
}

func scanResourceRows(rows *sql.Rows) (library.Resource, error) {
	var (
		res              library.Resource
		kind, visibility string
		shared           []byte
	)
	err := rows.Scan(&res.ID, &res.Title, &res.Subject, &res.Semester, &res.Department,
		&kind, &visibility, &res.OwnerID, &res.OwnerName, &res.OwnerInstitution,
		&res.RestrictedToInstitution, &shared, &res.FileURL, &res.FileType, &res.FileSize,
		&res.Downloads, &res.AverageRating, &res.TotalRatings, &res.CreatedAt)
	if err != nil {
		return library.Resource{}, err
	}
	res.Kind = library.Kind(kind)
	res.Visibility = library.Visibility(visibility)
	_ = json.Unmarshal(shared, &res.SharedWith)
	return res, nil
}
