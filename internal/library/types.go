package library

import "time"

// Visibility controls who may open a resource. Public resources are listed
// institution-agnostically; private resources are limited to the owner and the
// shared-with set. Institution restriction is an orthogonal filter on top.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Kind categorizes the shared document.
type Kind string

const (
	KindNotes          Kind = "notes"
	KindSolutions      Kind = "solutions"
	KindQuestionPapers Kind = "question_papers"
	KindLabReports     Kind = "lab_reports"
	KindOther          Kind = "other"
)

// Resource is a shareable document record with visibility and ownership
// metadata. AverageRating and TotalRatings are a cache derived from the live
// review set, never an independent source of truth.
type Resource struct {
	ID                      string     `json:"id"`
	Title                   string     `json:"title"`
	Subject                 string     `json:"subject"`
	Semester                int        `json:"semester"`
	Department              string     `json:"department"`
	Kind                    Kind       `json:"kind"`
	Visibility              Visibility `json:"visibility"`
	OwnerID                 string     `json:"owner_id"`
	OwnerName               string     `json:"owner_name"`
	OwnerInstitution        string     `json:"owner_institution"`
	RestrictedToInstitution string     `json:"restricted_to_institution,omitempty"`
	SharedWith              []string   `json:"shared_with,omitempty"`
	FileURL                 string     `json:"file_url"`
	FileType                string     `json:"file_type"`
	FileSize                int64      `json:"file_size"`
	Downloads               int64      `json:"downloads"`
	AverageRating           float64    `json:"average_rating"`
	TotalRatings            int        `json:"total_ratings"`
	CreatedAt               time.Time  `json:"created_at"`
}

// SharedWithEmail reports membership of the shared-with allowlist.
func (r Resource) SharedWithEmail(email string) bool {
	for _, e := range r.SharedWith {
		if e == email {
			return true
		}
	}
	return false
}

// Review is a peer rating with a comment. At most one review exists per
// (resource, author) pair; editing replaces content in place.
type Review struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

// AccessDecision is produced fresh on every policy evaluation and never
// cached across requests.
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Summary is the derived rating cache for one resource.
type Summary struct {
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int     `json:"total_ratings"`
}

// SortOption orders resource listings.
type SortOption string

const (
	SortLatest       SortOption = "latest"
	SortHighestRated SortOption = "highest_rated"
	SortMostPopular  SortOption = "most_popular"
)

// Filter narrows and orders resource listings.
type Filter struct {
	Query      string
	Subject    string
	Department string
	Semester   int
	Visibility Visibility
	Sort       SortOption
	Limit      int
}

// Facets are the distinct attribute values used by search UIs.
type Facets struct {
	Subjects    []string `json:"subjects"`
	Departments []string `json:"departments"`
	Semesters   []int    `json:"semesters"`
}
