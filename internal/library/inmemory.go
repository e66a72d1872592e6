package library

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"campusvault.org/internal/identity"
	"campusvault.org/internal/ids"
)

// InMemory implements Service with in-process concurrency safety. The single
// mutex makes every review mutation plus its recompute one atomic step from
// the perspective of readers, which is the serialization the summary
// invariant requires.
type InMemory struct {
	mu        sync.RWMutex
	resources map[string]*Resource
	reviews   map[string]*Review
	byRes     map[string]map[string]struct{} // resourceID -> review ids
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty catalog.
func NewInMemory() *InMemory {
	return &InMemory{
		resources: make(map[string]*Resource),
		reviews:   make(map[string]*Review),
		byRes:     make(map[string]map[string]struct{}),
	}
}

func (s *InMemory) CreateResource(ctx context.Context, draft ResourceDraft, owner identity.User) (Resource, error) {
	if err := ValidateDraft(&draft); err != nil {
		return Resource{}, err
	}
	res := Resource{
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

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := res
	s.resources[res.ID] = &cp
	s.byRes[res.ID] = make(map[string]struct{})
	return res, nil
}

func (s *InMemory) GetResource(ctx context.Context, id string) (Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[id]
	if !ok {
		return Resource{}, ErrNotFound
	}
	return copyResource(res), nil
}

func (s *InMemory) ListResources(ctx context.Context, filter Filter) ([]Resource, error) {
	s.mu.RLock()
	out := make([]Resource, 0, len(s.resources))
	for _, res := range s.resources {
		if matchesFilter(*res, filter) {
			out = append(out, copyResource(res))
		}
	}
	s.mu.RUnlock()

	sortResources(out, filter.Sort)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemory) DeleteResource(ctx context.Context, id, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[id]
	if !ok {
		return ErrNotFound
	}
	if res.OwnerID != requesterID {
		return ErrForbidden
	}
	// Reviews are an owned composition; they go with the resource.
	for reviewID := range s.byRes[id] {
		delete(s.reviews, reviewID)
	}
	delete(s.byRes, id)
	delete(s.resources, id)
	return nil
}

func (s *InMemory) Share(ctx context.Context, resourceID, requesterID, email string) (Resource, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Resource{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[resourceID]
	if !ok {
		return Resource{}, ErrNotFound
	}
	if res.OwnerID != requesterID {
		return Resource{}, ErrForbidden
	}
	if !res.SharedWithEmail(email) {
		res.SharedWith = append(res.SharedWith, email)
	}
	return copyResource(res), nil
}

func (s *InMemory) Unshare(ctx context.Context, resourceID, requesterID, email string) (Resource, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Resource{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[resourceID]
	if !ok {
		return Resource{}, ErrNotFound
	}
	if res.OwnerID != requesterID {
		return Resource{}, ErrForbidden
	}
	kept := res.SharedWith[:0]
	for _, e := range res.SharedWith {
		if e != email {
			kept = append(kept, e)
		}
	}
	res.SharedWith = kept
	return copyResource(res), nil
}

func (s *InMemory) RecordDownload(ctx context.Context, id string) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[id]
	if !ok {
		return Resource{}, ErrNotFound
	}
	res.Downloads++
	return copyResource(res), nil
}

func (s *InMemory) Facets(ctx context.Context) (Facets, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subjects := make(map[string]struct{})
	departments := make(map[string]struct{})
	semesters := make(map[int]struct{})
	for _, res := range s.resources {
		subjects[res.Subject] = struct{}{}
		departments[res.Department] = struct{}{}
		semesters[res.Semester] = struct{}{}
	}

	f := Facets{
		Subjects:    sortedKeys(subjects),
		Departments: sortedKeys(departments),
	}
	for sem := range semesters {
		f.Semesters = append(f.Semesters, sem)
	}
	sort.Ints(f.Semesters)
	return f, nil
}

func (s *InMemory) ListReviews(ctx context.Context, resourceID string) ([]Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.resources[resourceID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Review, 0, len(s.byRes[resourceID]))
	for reviewID := range s.byRes[resourceID] {
		out = append(out, *s.reviews[reviewID])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) SubmitReview(ctx context.Context, resourceID string, author identity.User, rating int, comment string) (Review, error) {
	if err := ValidateRating(rating); err != nil {
		return Review{}, err
	}
	if err := ValidateComment(comment); err != nil {
		return Review{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[resourceID]
	if !ok {
		return Review{}, ErrNotFound
	}
	for reviewID := range s.byRes[resourceID] {
		if s.reviews[reviewID].AuthorID == author.ID {
			return Review{}, ErrDuplicateReview
		}
	}

	rev := Review{
		ID:         ids.New(),
		ResourceID: resourceID,
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Rating:     rating,
		Comment:    strings.TrimSpace(comment),
		CreatedAt:  time.Now().UTC(),
	}
	cp := rev
	s.reviews[rev.ID] = &cp
	s.byRes[resourceID][rev.ID] = struct{}{}
	s.recomputeLocked(res)
	return rev, nil
}

func (s *InMemory) EditReview(ctx context.Context, reviewID, requesterID string, rating int, comment string) (Review, error) {
	if err := ValidateRating(rating); err != nil {
		return Review{}, err
	}
	if err := ValidateComment(comment); err != nil {
		return Review{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.reviews[reviewID]
	if !ok {
		return Review{}, ErrNotFound
	}
	if rev.AuthorID != requesterID {
		return Review{}, ErrForbidden
	}
	rev.Rating = rating
	rev.Comment = strings.TrimSpace(comment)
	s.recomputeLocked(s.resources[rev.ResourceID])
	return *rev, nil
}

func (s *InMemory) DeleteReview(ctx context.Context, reviewID, requesterID string) (Review, Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.reviews[reviewID]
	if !ok {
		return Review{}, Summary{}, ErrNotFound
	}
	if rev.AuthorID != requesterID {
		return Review{}, Summary{}, ErrForbidden
	}
	removed := *rev
	delete(s.reviews, reviewID)
	delete(s.byRes[rev.ResourceID], reviewID)

	res := s.resources[rev.ResourceID]
	s.recomputeLocked(res)
	return removed, Summary{AverageRating: res.AverageRating, TotalRatings: res.TotalRatings}, nil
}

func (s *InMemory) Recompute(ctx context.Context, resourceID string) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[resourceID]
	if !ok {
		return Summary{}, ErrNotFound
	}
	s.recomputeLocked(res)
	return Summary{AverageRating: res.AverageRating, TotalRatings: res.TotalRatings}, nil
}

// recomputeLocked rebuilds the summary cache from the live review set.
// Callers must hold the write lock.
func (s *InMemory) recomputeLocked(res *Resource) {
	if res == nil {
		return
	}
	reviews := make([]Review, 0, len(s.byRes[res.ID]))
	for reviewID := range s.byRes[res.ID] {
		reviews = append(reviews, *s.reviews[reviewID])
	}
	sum := Summarize(reviews)
	res.AverageRating = sum.AverageRating
	res.TotalRatings = sum.TotalRatings
}

// --- helpers ---

func copyResource(res *Resource) Resource {
	out := *res
	if len(res.SharedWith) > 0 {
		out.SharedWith = append([]string(nil), res.SharedWith...)
	}
	return out
}

func matchesFilter(res Resource, f Filter) bool {
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(res.Title), q) &&
			!strings.Contains(strings.ToLower(res.Subject), q) {
			return false
		}
	}
	if f.Subject != "" && res.Subject != f.Subject {
		return false
	}
	if f.Department != "" && res.Department != f.Department {
		return false
	}
	if f.Semester != 0 && res.Semester != f.Semester {
		return false
	}
	if f.Visibility != "" && res.Visibility != f.Visibility {
		return false
	}
	return true
}

func sortResources(items []Resource, opt SortOption) {
	switch opt {
	case SortHighestRated:
		sort.Slice(items, func(i, j int) bool {
			if items[i].AverageRating == items[j].AverageRating {
				return items[i].TotalRatings > items[j].TotalRatings
			}
			return items[i].AverageRating > items[j].AverageRating
		})
	case SortMostPopular:
		sort.Slice(items, func(i, j int) bool {
			return items[i].Downloads > items[j].Downloads
		})
	default: // latest
		sort.Slice(items, func(i, j int) bool {
			if items[i].CreatedAt.Equal(items[j].CreatedAt) {
				return items[i].ID > items[j].ID
			}
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
