package identity

import "time"

// User is a member of an academic institution.
type User struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Institution       string    `json:"institution"`
	Department        string    `json:"department"`
	Semester          int       `json:"semester"`
	PasswordHash      string    `json:"-"`
	IsUniversityEmail bool      `json:"is_university_email"`
	IsApproved        bool      `json:"is_approved"`
	PendingApproval   bool      `json:"pending_approval"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Eligible reports whether the user may hold resource access or review.
// Accounts registered with a non-university address stay pending until an
// administrator clears them.
func (u User) Eligible() bool {
	return u.IsApproved && !u.PendingApproval
}
