package library

import (
	"fmt"
	"strings"
)

const (
	minRating   = 1
	maxRating   = 5
	maxTitleLen = 200
	maxComment  = 2000
)

// ValidateRating checks the 1..5 range.
func ValidateRating(rating int) error {
	if rating < minRating || rating > maxRating {
		return ErrInvalidRating
	}
	return nil
}

// ValidateComment requires a non-empty comment within bounds.
func ValidateComment(comment string) error {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return fmt.Errorf("%w: comment is required", ErrInvalidInput)
	}
	if len(comment) > maxComment {
		return fmt.Errorf("%w: comment too long", ErrInvalidInput)
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address for share-list comparisons.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return email, nil
}

// ResourceDraft carries caller-supplied fields for resource creation.
type ResourceDraft struct {
	Title                  string     `json:"title"`
	Subject                string     `json:"subject"`
	Semester               int        `json:"semester"`
	Department             string     `json:"department"`
	Kind                   Kind       `json:"kind"`
	Visibility             Visibility `json:"visibility"`
	RestrictToInstitution  bool       `json:"restrict_to_institution"`
	FileURL                string     `json:"file_url"`
	FileType               string     `json:"file_type"`
	FileSize               int64      `json:"file_size"`
}

// ValidateDraft normalizes and checks a resource draft in place.
func ValidateDraft(d *ResourceDraft) error {
	d.Title = strings.TrimSpace(d.Title)
	d.Subject = strings.TrimSpace(d.Subject)
	d.Department = strings.TrimSpace(d.Department)
	d.FileURL = strings.TrimSpace(d.FileURL)

	if d.Title == "" || len(d.Title) > maxTitleLen {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if d.Subject == "" || d.Department == "" {
		return fmt.Errorf("%w: subject and department are required", ErrInvalidInput)
	}
	if d.Semester < 1 || d.Semester > 12 {
		return fmt.Errorf("%w: semester out of range", ErrInvalidInput)
	}
	if d.FileURL == "" {
		return fmt.Errorf("%w: file_url is required", ErrInvalidInput)
	}
	if d.FileSize < 0 {
		return fmt.Errorf("%w: file_size must be >= 0", ErrInvalidInput)
	}
	switch d.Kind {
	case KindNotes, KindSolutions, KindQuestionPapers, KindLabReports, KindOther:
	case "":
		d.Kind = KindOther
	default:
		return fmt.Errorf("%w: unknown resource kind %q", ErrInvalidInput, d.Kind)
	}
	switch d.Visibility {
	case VisibilityPublic, VisibilityPrivate:
	case "":
		d.Visibility = VisibilityPublic
	default:
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, d.Visibility)
	}
	return nil
}
