package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
databaseURL: "sqlite://:memory:"
jwtSecret: "`+testSecret+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected default port %q", cfg.Port)
	}
	if cfg.AllowedEmailDomain != "iiitdwd.ac.in" {
		t.Fatalf("unexpected default domain %q", cfg.AllowedEmailDomain)
	}
	if cfg.Mail.Transport != MailLog {
		t.Fatalf("expected log transport by default, got %q", cfg.Mail.Transport)
	}
	ttl, err := cfg.SessionDuration()
	if err != nil || ttl != 168*time.Hour {
		t.Fatalf("unexpected session ttl %v err=%v", ttl, err)
	}
	otp, err := cfg.OTPDuration()
	if err != nil || otp != 10*time.Minute {
		t.Fatalf("unexpected otp ttl %v err=%v", otp, err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
port: "9000"
databaseURL: "postgres://file"
jwtSecret: "`+testSecret+`"
allowedEmailDomain: "example.edu"
mail:
  transport: log
`)
	t.Setenv("DATABASE_URL", "sqlite://env.db")
	t.Setenv("PORT", "9100")
	t.Setenv("ALLOWED_EMAIL_DOMAIN", "@Campus.EDU")
	t.Setenv("CLIENT_URL", "https://a.example, https://b.example")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("SESSION_TTL", "24h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "sqlite://env.db" || cfg.Port != "9100" {
		t.Fatalf("env did not override file: %+v", cfg)
	}
	if cfg.AllowedEmailDomain != "campus.edu" {
		t.Fatalf("expected normalized domain, got %q", cfg.AllowedEmailDomain)
	}
	if len(cfg.ClientURLs) != 2 || cfg.ClientURLs[1] != "https://b.example" {
		t.Fatalf("unexpected client urls %v", cfg.ClientURLs)
	}
	if !cfg.CookieSecure {
		t.Fatalf("expected secure cookies from env")
	}
	if ttl, _ := cfg.SessionDuration(); ttl != 24*time.Hour {
		t.Fatalf("unexpected session ttl %v", ttl)
	}
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	t.Setenv("JWT_SECRET", testSecret)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "sqlite://:memory:" {
		t.Fatalf("unexpected database url %q", cfg.DatabaseURL)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing database", body: `jwtSecret: "` + testSecret + `"`, want: "databaseURL"},
		{name: "short secret", body: "databaseURL: x\njwtSecret: short", want: "jwtSecret"},
		{name: "bad ttl", body: "databaseURL: x\njwtSecret: " + testSecret + "\nsessionTTL: soon", want: "sessionTTL"},
		{name: "smtp without host", body: "databaseURL: x\njwtSecret: " + testSecret + "\nmail:\n  transport: smtp\n  from: a@b", want: "smtp"},
		{name: "unknown transport", body: "databaseURL: x\njwtSecret: " + testSecret + "\nmail:\n  transport: pigeon", want: "pigeon"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseVerifyPublicKeys(t *testing.T) {
	keys, err := ParseVerifyPublicKeys("old=/keys/old.pem, older=/keys/older.pem")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(keys) != 2 || keys["older"] != "/keys/older.pem" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if _, err := ParseVerifyPublicKeys("broken"); err == nil {
		t.Fatalf("expected malformed entry to fail")
	}
}
