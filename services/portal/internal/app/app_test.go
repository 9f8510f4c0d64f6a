package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"issueboard/pkg/auth"
	"issueboard/pkg/domain"
	"issueboard/pkg/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type captureSender struct {
	mu    sync.Mutex
	codes map[string][]string
	err   error
}

func (c *captureSender) Send(_ context.Context, to, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.codes == nil {
		c.codes = make(map[string][]string)
	}
	c.codes[to] = append(c.codes[to], code)
	return nil
}

func (c *captureSender) last(t *testing.T, email string) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	codes := c.codes[email]
	if len(codes) == 0 {
		t.Fatalf("no code sent to %s", email)
	}
	return codes[len(codes)-1]
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	app      *App
	store    *store.GormStore
	sessions *store.JWTSessionStore
	sender   *captureSender
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewGormStore("sqlite://:memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return newFixtureWithStore(t, st, st)
}

func newFixtureWithStore(t *testing.T, gs *store.GormStore, backing store.Store) *fixture {
	t.Helper()
	sessions, err := store.NewJWTHS256SessionStore(testSecret, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	f := &fixture{
		store:    gs,
		sessions: sessions,
		sender:   &captureSender{},
		clock:    &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	a, err := New(Config{
		Store:              backing,
		Sessions:           sessions,
		Mailer:             f.sender,
		AllowedEmailDomain: "iiitdwd.ac.in",
		OTPTTL:             10 * time.Minute,
		Now:                f.clock.Now,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = a
	return f
}

// addUser inserts a user directly, bypassing signup.
func (f *fixture) addUser(t *testing.T, email string) domain.User {
	t.Helper()
	hash, err := auth.HashPassword("secret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := f.clock.Now()
	u := domain.User{
		ID:           email,
		Email:        email,
		Name:         "User " + email,
		PasswordHash: hash,
		Role:         DeriveRole(email),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) signup(t *testing.T, email string) (domain.User, string) {
	t.Helper()
	ctx := context.Background()
	if err := f.app.RequestSignupCode(ctx, email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	user, token, err := f.app.VerifyAndCreateAccount(ctx, email, f.sender.last(t, normalizeEmail(email)), "Tester", "secret-pass")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	return user, token
}

func assertErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing store to fail")
	}
}

func TestPublicErrorHidesInternalCause(t *testing.T) {
	err := internal("list votes", errors.New("pq: connection refused"))
	code, msg := PublicError(err)
	if code != "Internal" || msg != "internal error" {
		t.Fatalf("unexpected public error: %s %s", code, msg)
	}
	if KindOf(err) != KindInternal {
		t.Fatalf("unexpected kind: %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("untyped errors should map to internal")
	}
	if KindOf(ErrForbidden) != KindAuthorization {
		t.Fatalf("unexpected kind for forbidden")
	}
}
