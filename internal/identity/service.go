package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"campusvault.org/internal/ids"
)

const defaultTokenTTL = 24 * time.Hour

// Matches addresses like name@univ.edu or name@univ.ac.uk.
var universityEmailRe = regexp.MustCompile(`(?i)\.(edu|ac\.[a-z]{2})$`)

// IsUniversityEmail reports whether the address belongs to an academic domain.
func IsUniversityEmail(email string) bool {
	return universityEmailRe.MatchString(strings.TrimSpace(email))
}

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	SetApproval(ctx context.Context, id string, approved, pending bool) error
}

// Service resolves callers to users and manages registration and sessions.
type Service struct {
	store    Store
	now      func() time.Time
	tokenTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokenTTL configures session token lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) *Service {
	svc := &Service{
		store:    store,
		now:      time.Now,
		tokenTTL: defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// RegisterRequest carries the fields collected at sign-up.
type RegisterRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Institution string `json:"institution"`
	Department  string `json:"department"`
	Semester    int    `json:"semester"`
}

// Session pairs a user snapshot with a signed token.
type Session struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register creates a user account. University addresses are approved
// immediately; everything else waits for institutional approval.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Institution = strings.TrimSpace(req.Institution)
	req.Department = strings.TrimSpace(req.Department)

	if req.Name == "" || req.Institution == "" {
		return Session{}, ErrInvalidInput
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return Session{}, ErrInvalidInput
	}
	if len(req.Password) < 8 {
		return Session{}, ErrInvalidInput
	}
	// Semester is optional at sign-up; staff accounts leave it unset.
	if req.Semester != 0 && (req.Semester < 1 || req.Semester > 12) {
		return Session{}, ErrInvalidInput
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return Session{}, err
	}

	isUniversity := IsUniversityEmail(req.Email)
	now := s.now().UTC()
	user := &User{
		ID:                ids.New(),
		Name:              req.Name,
		Email:             req.Email,
		Institution:       req.Institution,
		Department:        req.Department,
		Semester:          req.Semester,
		PasswordHash:      hash,
		IsUniversityEmail: isUniversity,
		IsApproved:        isUniversity,
		PendingApproval:   !isUniversity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return Session{}, err
	}
	return s.startSession(*user)
}

// Login verifies credentials and issues a session token. Pending accounts may
// sign in; the access policy keeps them away from resources until approved.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Session{}, ErrUnauthorized
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrUnauthorized
		}
		return Session{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrUnauthorized
	}
	return s.startSession(*user)
}

// Resolve maps a bearer token to the current user record. The store is
// consulted on every call so approval flag changes take effect immediately.
func (s *Service) Resolve(ctx context.Context, token string) (*User, error) {
	claims, err := ParseAndValidate(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := s.store.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// Approve clears the pending flag on a user account.
func (s *Service) Approve(ctx context.Context, userID string) error {
	return s.store.SetApproval(ctx, userID, true, false)
}

// Find returns the user record by id.
func (s *Service) Find(ctx context.Context, userID string) (*User, error) {
	return s.store.Find(ctx, userID)
}

func (s *Service) startSession(user User) (Session, error) {
	token, err := GenerateToken(user.ID, user.Email, s.tokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		User:      user,
		Token:     token,
		ExpiresAt: s.now().UTC().Add(s.tokenTTL),
	}, nil
}
