package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	setSecret(t)
	return NewService(NewMemStore())
}

func registerReq(email string) RegisterRequest {
	return RegisterRequest{
		Name:        "Test Student",
		Email:       email,
		Password:    "long-enough-password",
		Institution: "Nazarbayev University",
		Department:  "Computer Science",
		Semester:    4,
	}
}

func TestRegisterUniversityEmailAutoApproved(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, registerReq("Student@NU.edu"))
	if err != nil {
		t.Fatal(err)
	}
	u := session.User
	if u.Email != "student@nu.edu" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if !u.IsUniversityEmail || !u.IsApproved || u.PendingApproval {
		t.Fatalf("university email must be auto-approved: %+v", u)
	}
	if !u.Eligible() {
		t.Fatal("approved user must be eligible")
	}
	if session.Token == "" {
		t.Fatal("session token missing")
	}
}

func TestRegisterPersonalEmailPending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, registerReq("someone@gmail.com"))
	if err != nil {
		t.Fatal(err)
	}
	u := session.User
	if u.IsUniversityEmail || u.IsApproved || !u.PendingApproval {
		t.Fatalf("personal email must start pending: %+v", u)
	}
	if u.Eligible() {
		t.Fatal("pending user must not be eligible")
	}

	if err := svc.Approve(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	approved, err := svc.Find(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !approved.Eligible() {
		t.Fatalf("approval did not take effect: %+v", approved)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	bad := []RegisterRequest{
		{},
		{Name: "X", Email: "x@nu.edu", Password: "long-enough", Institution: ""},
		{Name: "X", Email: "no-at-sign", Password: "long-enough", Institution: "NU"},
		{Name: "X", Email: "x@nu.edu", Password: "short", Institution: "NU"},
		{Name: "X", Email: "x@nu.edu", Password: "long-enough", Institution: "NU", Semester: 13},
	}
	for i, req := range bad {
		if _, err := svc.Register(ctx, req); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, registerReq("dup@nu.edu")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, registerReq("DUP@nu.edu")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, registerReq("login@nu.edu")); err != nil {
		t.Fatal(err)
	}

	session, err := svc.Login(ctx, "Login@NU.edu", "long-enough-password")
	if err != nil {
		t.Fatal(err)
	}
	if session.User.Email != "login@nu.edu" {
		t.Fatalf("unexpected user: %+v", session.User)
	}

	if _, err := svc.Login(ctx, "login@nu.edu", "wrong-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Login(ctx, "ghost@nu.edu", "long-enough-password"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown user, got %v", err)
	}
}

func TestResolveReflectsApprovalChanges(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, registerReq("resolve@gmail.com"))
	if err != nil {
		t.Fatal(err)
	}

	user, err := svc.Resolve(ctx, session.Token)
	if err != nil {
		t.Fatal(err)
	}
	if user.Eligible() {
		t.Fatal("fresh personal-email account resolved as eligible")
	}

	if err := svc.Approve(ctx, user.ID); err != nil {
		t.Fatal(err)
	}
	// Same token, new store state.
	user, err = svc.Resolve(ctx, session.Token)
	if err != nil {
		t.Fatal(err)
	}
	if !user.Eligible() {
		t.Fatal("approval must be visible on the next resolve")
	}
}

func TestResolveRejectsBadToken(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Resolve(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestIsUniversityEmail(t *testing.T) {
	yes := []string{"a@nu.edu", "b@cs.stanford.edu", "c@ox.ac.uk", "d@titech.ac.jp"}
	no := []string{"a@gmail.com", "b@edu.com", "c@ac.toolong", "d@university.org", ""}
	for _, e := range yes {
		if !IsUniversityEmail(e) {
			t.Fatalf("%q should be a university address", e)
		}
	}
	for _, e := range no {
		if IsUniversityEmail(e) {
			t.Fatalf("%q should not be a university address", e)
		}
	}
}

func TestSessionExpiresWithClock(t *testing.T) {
	setSecret(t)
	fixed := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewMemStore(), WithClock(func() time.Time { return fixed }), WithTokenTTL(2*time.Hour))

	session, err := svc.Register(context.Background(), registerReq("clock@nu.edu"))
	if err != nil {
		t.Fatal(err)
	}
	if !session.ExpiresAt.Equal(fixed.Add(2 * time.Hour)) {
		t.Fatalf("expires_at = %v", session.ExpiresAt)
	}
}
