package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"issueboard/internal/util"
	"issueboard/pkg/store"
)

const (
	defaultEmailDomain = "iiitdwd.ac.in"
	defaultOTPTTL      = 10 * time.Minute
	codeLength         = 6
)

// CodeSender delivers signup verification codes.
type CodeSender interface {
	Send(ctx context.Context, to, code string) error
}

// Config holds the dependencies and policy knobs of the application core.
type Config struct {
	Store              store.Store
	Sessions           store.SessionStore
	Mailer             CodeSender
	AllowedEmailDomain string
	OTPTTL             time.Duration
	// Now overrides the clock; tests pin it to check expiry boundaries.
	Now func() time.Time
}

// App is the core application service wiring together storage and auth logic.
type App struct {
	store    store.Store
	sessions store.SessionStore
	mailer   CodeSender
	domain   string
	otpTTL   time.Duration
	now      func() time.Time
	newID    func() string
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	domain := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.AllowedEmailDomain), "@"))
	if domain == "" {
		domain = defaultEmailDomain
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = defaultOTPTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		mailer:   cfg.Mailer,
		domain:   domain,
		otpTTL:   cfg.OTPTTL,
		now:      func() time.Time { return cfg.Now().UTC() },
		newID:    util.NewID,
	}, nil
}

// AllowedEmailDomain reports the domain signups are restricted to.
func (a *App) AllowedEmailDomain() string { return a.domain }

// JWKS returns public signing keys when the session store publishes them.
func (a *App) JWKS() []store.JWK {
	provider, ok := a.sessions.(store.JWKSProvider)
	if !ok {
		return nil
	}
	return provider.JWKS()
}

func (a *App) log(ctx context.Context) *slog.Logger {
	return util.LoggerFromContext(ctx)
}
