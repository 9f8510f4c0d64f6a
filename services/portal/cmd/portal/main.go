package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"issueboard/internal/util"
	"issueboard/pkg/store"
	"issueboard/services/portal/internal/app"
	"issueboard/services/portal/internal/config"
	"issueboard/services/portal/internal/mailer"
	"issueboard/services/portal/internal/security"
	"issueboard/services/portal/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := cfg.SessionDuration()
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	otpTTL, err := cfg.OTPDuration()
	if err != nil {
		log.Fatalf("failed to parse OTP TTL: %v", err)
	}
	leeway, err := cfg.Leeway()
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer dataStore.Close()

	var redisClient redis.UniversalClient
	revoker := store.TokenRevoker(store.NewMemoryTokenRevoker())
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect redis: %v", err)
		}
		cancel()
		revoker = store.NewRedisTokenRevoker(redisClient)
	} else {
		logger.Warn("redis not configured; session revocations are kept in memory")
	}

	sessions, err := newSessionStore(cfg, sessionTTL, leeway, revoker)
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:              dataStore,
		Sessions:           sessions,
		Mailer:             newMailer(cfg, otpTTL, logger),
		AllowedEmailDomain: cfg.AllowedEmailDomain,
		OTPTTL:             otpTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	httpServer := server.New(server.Config{
		App:            appCore,
		Alerter:        security.NewAuditAlerter(redisClient, cfg.AlertPrefix),
		SessionTTL:     sessionTTL,
		CookieSecure:   cfg.CookieSecure,
		ClientURLs:     cfg.ClientURLs,
		TrustedProxies: trusted,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("portal server listening", "addr", addr, "mail_transport", cfg.Mail.Transport, "email_domain", appCore.AllowedEmailDomain())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("portal server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func newSessionStore(cfg config.FileConfig, ttl, leeway time.Duration, revoker store.TokenRevoker) (*store.JWTSessionStore, error) {
	opts := store.JWTOptions{Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience, Leeway: leeway}
	if cfg.JWTSecret != "" {
		return store.NewJWTHS256SessionStore(cfg.JWTSecret, ttl, revoker, opts)
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		return nil, err
	}
	return store.NewJWTRS256SessionStoreFromPEM(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTKeyID, verifyKeys, ttl, revoker, opts)
}

func newMailer(cfg config.FileConfig, otpTTL time.Duration, logger *slog.Logger) app.CodeSender {
	m := cfg.Mail
	switch m.Transport {
	case config.MailSMTP:
		return mailer.NewSMTPSender(m.SMTPHost, m.SMTPPort, m.SMTPUsername, m.SMTPPassword, m.From, otpTTL)
	case config.MailResend:
		return mailer.NewResendSender(m.ResendAPIKey, m.From, m.ResendEndpoint, otpTTL)
	default:
		return mailer.NewLogSender(logger)
	}
}
