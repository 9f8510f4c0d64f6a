package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"issueboard/pkg/domain"
)

func TestDeriveRole(t *testing.T) {
	cases := []struct {
		email string
		want  domain.UserRole
	}{
		{"23bcs006@iiitdwd.ac.in", domain.RoleStudent},
		{"21ECE104@iiitdwd.ac.in", domain.RoleStudent},
		{"office@iiitdwd.ac.in", domain.RoleAdmin},
		{"23bcs0061@iiitdwd.ac.in", domain.RoleAdmin},
		{"bcs006@iiitdwd.ac.in", domain.RoleAdmin},
	}
	for _, tc := range cases {
		if got := DeriveRole(tc.email); got != tc.want {
			t.Fatalf("DeriveRole(%q) = %s, want %s", tc.email, got, tc.want)
		}
	}
}

func TestSignupCreatesUserAndSession(t *testing.T) {
	f := newFixture(t)
	user, token := f.signup(t, "23BCS006@IIITDWD.ac.in ")
	if user.Email != "23bcs006@iiitdwd.ac.in" || user.Role != domain.RoleStudent {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash == "" || user.PasswordHash == "secret-pass" {
		t.Fatalf("password must be stored hashed")
	}
	got, err := f.app.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("token resolved to %s, want %s", got.ID, user.ID)
	}

	admin, _ := f.signup(t, "office@iiitdwd.ac.in")
	if admin.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", admin.Role)
	}
}

func TestRequestSignupCodeRejectsForeignDomain(t *testing.T) {
	f := newFixture(t)
	err := f.app.RequestSignupCode(context.Background(), "someone@gmail.com")
	assertErr(t, err, ErrDomainRejected)
	_, msg := PublicError(err)
	if !strings.Contains(msg, "@iiitdwd.ac.in") {
		t.Fatalf("message should name the domain: %q", msg)
	}
	if len(f.sender.codes) != 0 {
		t.Fatalf("no code should be sent")
	}
}

func TestRequestSignupCodeRejectsRegisteredEmail(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "23bcs006@iiitdwd.ac.in")
	err := f.app.RequestSignupCode(context.Background(), "23bcs006@iiitdwd.ac.in")
	assertErr(t, err, ErrAlreadyRegistered)
}

func TestRequestSignupCodeReportsDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp down")
	err := f.app.RequestSignupCode(context.Background(), "23bcs006@iiitdwd.ac.in")
	assertErr(t, err, ErrDeliveryFailed)
	if KindOf(err) != KindDelivery {
		t.Fatalf("unexpected kind: %s", KindOf(err))
	}
}

func TestVerifyCodeExpiresAtTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early, late := "23bcs001@iiitdwd.ac.in", "23bcs002@iiitdwd.ac.in"
	for _, email := range []string{early, late} {
		if err := f.app.RequestSignupCode(ctx, email); err != nil {
			t.Fatalf("request code: %v", err)
		}
	}

	f.clock.Advance(10*time.Minute - time.Second)
	if _, _, err := f.app.VerifyAndCreateAccount(ctx, early, f.sender.last(t, early), "A", "pw"); err != nil {
		t.Fatalf("code should be valid just before expiry: %v", err)
	}

	f.clock.Advance(time.Second)
	_, _, err := f.app.VerifyAndCreateAccount(ctx, late, f.sender.last(t, late), "B", "pw")
	assertErr(t, err, ErrInvalidOrExpiredCode)
}

func TestVerifyConsumesCodeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "23bcs006@iiitdwd.ac.in"
	if err := f.app.RequestSignupCode(ctx, email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	code := f.sender.last(t, email)
	if _, _, err := f.app.VerifyAndCreateAccount(ctx, email, code, "A", "pw"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	_, _, err := f.app.VerifyAndCreateAccount(ctx, email, code, "A", "pw")
	assertErr(t, err, ErrInvalidOrExpiredCode)
}

func TestEarlierCodesStayValid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "23bcs006@iiitdwd.ac.in"
	for i := 0; i < 2; i++ {
		if err := f.app.RequestSignupCode(ctx, email); err != nil {
			t.Fatalf("request code: %v", err)
		}
		f.clock.Advance(time.Minute)
	}
	first := f.sender.codes[email][0]
	if _, _, err := f.app.VerifyAndCreateAccount(ctx, email, first, "A", "pw"); err != nil {
		t.Fatalf("first code should still verify: %v", err)
	}
}

func TestVerifyValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "23bcs006@iiitdwd.ac.in"
	if err := f.app.RequestSignupCode(ctx, email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	code := f.sender.last(t, email)

	_, _, err := f.app.VerifyAndCreateAccount(ctx, email, code, " ", "pw")
	assertErr(t, err, ErrMissingFields)
	_, _, err = f.app.VerifyAndCreateAccount(ctx, email, code, "A", strings.Repeat("x", 73))
	assertErr(t, err, ErrPasswordTooLong)
	_, _, err = f.app.VerifyAndCreateAccount(ctx, email, "000000x", "A", "pw")
	assertErr(t, err, ErrInvalidOrExpiredCode)

	// rejected attempts leave the code usable
	if _, _, err := f.app.VerifyAndCreateAccount(ctx, email, code, "A", "pw"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRaceOnRegisteredEmailIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "23bcs006@iiitdwd.ac.in"
	if err := f.app.RequestSignupCode(ctx, email); err != nil {
		t.Fatalf("request code: %v", err)
	}
	f.addUser(t, email)
	_, _, err := f.app.VerifyAndCreateAccount(ctx, email, f.sender.last(t, email), "A", "pw")
	assertErr(t, err, ErrAlreadyRegistered)
	if KindOf(err) != KindConflict {
		t.Fatalf("expected conflict kind, got %s", KindOf(err))
	}
}

func TestLoginErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.addUser(t, "23bcs006@iiitdwd.ac.in")

	_, _, err := f.app.Login(ctx, "23bcs006@gmail.com", "secret-pass")
	assertErr(t, err, ErrDomainRejected)
	_, _, err = f.app.Login(ctx, "23bcs999@iiitdwd.ac.in", "secret-pass")
	assertErr(t, err, ErrUserNotFound)
	_, _, err = f.app.Login(ctx, user.Email, "wrong")
	assertErr(t, err, ErrInvalidPassword)

	now := f.clock.Now()
	noPass := domain.User{ID: "np", Email: "23bcs007@iiitdwd.ac.in", Name: "N", Role: domain.RoleStudent, CreatedAt: now, UpdatedAt: now}
	if err := f.store.CreateUser(ctx, noPass); err != nil {
		t.Fatalf("create user: %v", err)
	}
	_, _, err = f.app.Login(ctx, noPass.Email, "anything")
	assertErr(t, err, ErrPasswordNotSet)

	got, token, err := f.app.Login(ctx, " 23BCS006@iiitdwd.ac.in", "secret-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID || token == "" {
		t.Fatalf("unexpected login result: %+v %q", got, token)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, token := f.signup(t, "23bcs006@iiitdwd.ac.in")
	if err := f.app.Logout(ctx, token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err := f.app.Authenticate(ctx, token)
	assertErr(t, err, ErrUnauthenticated)
	if err := f.app.Logout(ctx, ""); err != nil {
		t.Fatalf("empty logout should be a no-op: %v", err)
	}
}

func TestAuthenticateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.app.Authenticate(ctx, "")
	assertErr(t, err, ErrUnauthenticated)
	_, err = f.app.Authenticate(ctx, "not-a-jwt")
	assertErr(t, err, ErrUnauthenticated)

	token, err := f.sessions.NewSession("ghost")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	_, err = f.app.Authenticate(ctx, token)
	assertErr(t, err, ErrUserVanished)
}
