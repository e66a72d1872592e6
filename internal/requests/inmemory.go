package requests

import (
	"context"
	"sort"
	"sync"
	"time"

	"campusvault.org/internal/identity"
	"campusvault.org/internal/ids"
)

// InMemory implements Store for the demo and tests.
type InMemory struct {
	mu   sync.RWMutex
	reqs map[string]*Request
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{reqs: make(map[string]*Request)}
}

func (s *InMemory) Create(ctx context.Context, draft Draft, requester identity.User) (Request, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := req
	s.reqs[req.ID] = &cp
	return req, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.reqs[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return *req, nil
}

func (s *InMemory) List(ctx context.Context, status Status) ([]Request, error) {
	s.mu.RLock()
	out := make([]Request, 0, len(s.reqs))
	for _, req := range s.reqs {
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, *req)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestCount != out[j].RequestCount {
			return out[i].RequestCount > out[j].RequestCount
		}
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) Support(ctx context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Status != StatusOpen {
		return Request{}, ErrAlreadyFulfilled
	}
	req.RequestCount++
	return *req, nil
}

func (s *InMemory) Fulfill(ctx context.Context, id, requesterID string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.RequestedByID != requesterID {
		return Request{}, ErrForbidden
	}
	if req.Status == StatusFulfilled {
		return Request{}, ErrAlreadyFulfilled
	}
	req.Status = StatusFulfilled
	return *req, nil
}
