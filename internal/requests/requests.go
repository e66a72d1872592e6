// Package requests tracks study materials that students want but nobody has
// uploaded yet. A student posts a request, peers add their support to bump
// its visibility, and the requester closes it once the material lands in
// the catalog.
package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusvault.org/internal/identity"
)

var (
	ErrNotFound         = errors.New("requests: not found")
	ErrForbidden        = errors.New("requests: forbidden")
	ErrInvalidInput     = errors.New("requests: invalid input")
	ErrAlreadyFulfilled = errors.New("requests: request already fulfilled")
)

// Status of a request. Open requests appear in the default listing;
// fulfilled ones are kept for history.
type Status string

const (
	StatusOpen      Status = "open"
	StatusFulfilled Status = "fulfilled"
)

// Request is a wanted-but-missing resource posting. RequestCount starts at 1
// because the requester counts as the first supporter.
type Request struct {
	ID                     string    `json:"id"`
	Title                  string    `json:"title"`
	Subject                string    `json:"subject"`
	Semester               int       `json:"semester"`
	Description            string    `json:"description,omitempty"`
	RequestedByID          string    `json:"requested_by_id"`
	RequestedByName        string    `json:"requested_by_name"`
	RequestedByInstitution string    `json:"requested_by_institution"`
	RequestCount           int       `json:"request_count"`
	Status                 Status    `json:"status"`
	CreatedAt              time.Time `json:"created_at"`
}

// Draft carries caller-supplied fields for a new request.
type Draft struct {
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Semester    int    `json:"semester"`
	Description string `json:"description"`
}

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
)

// ValidateDraft normalizes and checks a draft in place.
func ValidateDraft(d *Draft) error {
	d.Title = strings.TrimSpace(d.Title)
	d.Subject = strings.TrimSpace(d.Subject)
	d.Description = strings.TrimSpace(d.Description)

	if d.Title == "" || len(d.Title) > maxTitleLen {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if d.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if d.Semester < 1 || d.Semester > 12 {
		return fmt.Errorf("%w: semester out of range", ErrInvalidInput)
	}
	if len(d.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description too long", ErrInvalidInput)
	}
	return nil
}

// Store persists requests. Listings order by support first so the most
// wanted material surfaces at the top, newest breaking ties.
type Store interface {
	Create(ctx context.Context, draft Draft, requester identity.User) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, status Status) ([]Request, error)
	Support(ctx context.Context, id string) (Request, error)
	Fulfill(ctx context.Context, id, requesterID string) (Request, error)
}
