package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"issueboard/pkg/auth"
	"issueboard/pkg/domain"
	"issueboard/pkg/store"
)

// studentLocalPart matches roll-number style addresses such as 23bcs006.
var studentLocalPart = regexp.MustCompile(`(?i)^\d{2}[a-z]{3}\d{3}$`)

const maxPasswordBytes = 72

// DeriveRole returns student for roll-number addresses and admin for every
// other address in the domain.
func DeriveRole(email string) domain.UserRole {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if studentLocalPart.MatchString(local) {
		return domain.RoleStudent
	}
	return domain.RoleAdmin
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// checkDomain normalizes email and rejects addresses outside the domain.
func (a *App) checkDomain(raw string) (string, error) {
	email := normalizeEmail(raw)
	local, host, ok := strings.Cut(email, "@")
	if !ok || local == "" || host != a.domain {
		return "", ErrDomainRejected.withMessage(fmt.Sprintf("please use your college email (@%s)", a.domain))
	}
	return email, nil
}

// RequestSignupCode issues a fresh one-time code for an unregistered address
// and mails it. Earlier codes for the address stay valid until they expire.
func (a *App) RequestSignupCode(ctx context.Context, rawEmail string) error {
	email, err := a.checkDomain(rawEmail)
	if err != nil {
		return err
	}
	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return internal("check email", err)
	}
	if exists {
		return ErrAlreadyRegistered
	}

	code, err := generateNumericCode(codeLength)
	if err != nil {
		return internal("generate code", err)
	}
	now := a.now()
	otp := domain.OneTimeCode{
		ID:        a.newID(),
		Email:     email,
		CodeHash:  codeDigest(email, code),
		ExpiresAt: now.Add(a.otpTTL),
		CreatedAt: now,
	}
	if err := a.store.SaveCode(ctx, otp); err != nil {
		return internal("save code", err)
	}
	if err := a.mailer.Send(ctx, email, code); err != nil {
		a.log(ctx).Warn("verification code delivery failed", "err", err)
		c := *ErrDeliveryFailed
		c.Err = err
		return &c
	}
	return nil
}

// VerifyAndCreateAccount consumes the newest live code matching (email, code),
// creates the user and returns it with a fresh session token.
func (a *App) VerifyAndCreateAccount(ctx context.Context, rawEmail, code, name, password string) (domain.User, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return domain.User{}, "", ErrMissingFields.withMessage("name and password are required")
	}
	if len(password) > maxPasswordBytes {
		return domain.User{}, "", ErrPasswordTooLong
	}
	email := normalizeEmail(rawEmail)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return domain.User{}, "", ErrInvalidOrExpiredCode
	}

	if err := a.consumeCode(ctx, email, code); err != nil {
		return domain.User{}, "", err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", internal("hash password", err)
	}
	now := a.now()
	user := domain.User{
		ID:           a.newID(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         DeriveRole(email),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, "", ErrAlreadyRegistered.withKind(KindConflict)
		}
		return domain.User{}, "", internal("create user", err)
	}
	token, err := a.issueSession(user)
	if err != nil {
		return domain.User{}, "", err
	}
	a.log(ctx).Info("account created", "user_id", user.ID, "role", user.Role)
	return user, token, nil
}

// consumeCode finds the newest unexpired code and deletes it. Only the caller
// whose delete removed the row succeeds.
func (a *App) consumeCode(ctx context.Context, email, code string) error {
	codes, err := a.store.ListCodes(ctx, email, codeDigest(email, code))
	if err != nil {
		return internal("list codes", err)
	}
	now := a.now()
	for _, c := range codes {
		if !now.Before(c.ExpiresAt) {
			continue
		}
		ok, err := a.store.ConsumeCode(ctx, c.ID)
		if err != nil {
			return internal("consume code", err)
		}
		if !ok {
			return ErrInvalidOrExpiredCode
		}
		return nil
	}
	return ErrInvalidOrExpiredCode
}

// Login checks a password and returns the user with a fresh session token.
func (a *App) Login(ctx context.Context, rawEmail, password string) (domain.User, string, error) {
	email, err := a.checkDomain(rawEmail)
	if err != nil {
		return domain.User{}, "", err
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", internal("fetch user", err)
	}
	if !ok {
		return domain.User{}, "", ErrUserNotFound
	}
	if strings.TrimSpace(user.PasswordHash) == "" {
		return domain.User{}, "", ErrPasswordNotSet
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidPassword
	}
	token, err := a.issueSession(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

// Authenticate resolves the user behind a session token.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, ErrUnauthenticated
	}
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		if err != nil {
			a.log(ctx).Debug("session rejected", "err", err)
		}
		return domain.User{}, ErrUnauthenticated
	}
	user, found, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, internal("fetch session user", err)
	}
	if !found {
		return domain.User{}, ErrUserVanished
	}
	return user, nil
}

// Logout revokes the token so it stops validating before it expires.
func (a *App) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := a.sessions.DeleteSession(token); err != nil {
		return internal("revoke session", err)
	}
	return nil
}

func (a *App) issueSession(user domain.User) (string, error) {
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return "", internal("issue session", err)
	}
	return token, nil
}

// codeDigest binds a code to its address so equal codes for different
// addresses never collide.
func codeDigest(email, code string) string {
	sum := sha256.Sum256([]byte(email + "|" + code))
	return hex.EncodeToString(sum[:])
}

func generateNumericCode(length int) (string, error) {
	if length <= 0 {
		length = codeLength
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
