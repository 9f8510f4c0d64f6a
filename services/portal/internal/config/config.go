package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the YAML config file. CONFIG_PATH
// overrides it.
const ConfigPath = "config.yaml"

const (
	defaultPort          = "8080"
	defaultSessionTTL    = 7 * 24 * time.Hour
	defaultOTPTTL        = 10 * time.Minute
	defaultEmailDomain   = "iiitdwd.ac.in"
	defaultMailTransport = MailLog
	minJWTSecretBytes    = 32
)

// Mail transports.
const (
	MailSMTP   = "smtp"
	MailResend = "resend"
	MailLog    = "log"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                string     `yaml:"port"`
	DatabaseURL         string     `yaml:"databaseURL"`
	RedisAddr           string     `yaml:"redisAddr"`
	RedisPassword       string     `yaml:"redisPassword"`
	SessionTTL          string     `yaml:"sessionTTL"`
	OTPTTL              string     `yaml:"otpTTL"`
	LogLevel            string     `yaml:"logLevel"`
	JWTSecret           string     `yaml:"jwtSecret"`
	JWTPrivateKeyPath   string     `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath    string     `yaml:"jwtPublicKeyPath"`
	JWTKeyID            string     `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string     `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string     `yaml:"jwtIssuer"`
	JWTAudience         string     `yaml:"jwtAudience"`
	JWTLeeway           string     `yaml:"jwtLeeway"`
	AllowedEmailDomain  string     `yaml:"allowedEmailDomain"`
	ClientURLs          []string   `yaml:"clientURLs"`
	CookieSecure        bool       `yaml:"cookieSecure"`
	TrustedProxies      []string   `yaml:"trustedProxies"`
	AlertPrefix         string     `yaml:"alertPrefix"`
	Mail                MailConfig `yaml:"mail"`
}

// MailConfig selects and configures the OTP mail transport.
type MailConfig struct {
	Transport      string `yaml:"transport"`
	From           string `yaml:"from"`
	SMTPHost       string `yaml:"smtpHost"`
	SMTPPort       int    `yaml:"smtpPort"`
	SMTPUsername   string `yaml:"smtpUsername"`
	SMTPPassword   string `yaml:"smtpPassword"`
	ResendAPIKey   string `yaml:"resendAPIKey"`
	ResendEndpoint string `yaml:"resendEndpoint"`
}

// Load reads a .env file if present, then the YAML config at path (CONFIG_PATH
// or config.yaml when empty), applies environment overrides and validates.
// A missing YAML file is not an error; the environment alone may configure
// the service.
func Load(path string) (FileConfig, error) {
	_ = godotenv.Load()

	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Port, "PORT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.SessionTTL, "SESSION_TTL")
	setString(&cfg.OTPTTL, "OTP_TTL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWTPrivateKeyPath, "JWT_PRIVATE_KEY_PATH")
	setString(&cfg.JWTPublicKeyPath, "JWT_PUBLIC_KEY_PATH")
	setString(&cfg.JWTKeyID, "JWT_KEY_ID")
	setString(&cfg.JWTVerifyPublicKeys, "JWT_VERIFY_PUBLIC_KEYS")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")
	setString(&cfg.AllowedEmailDomain, "ALLOWED_EMAIL_DOMAIN")
	setString(&cfg.AlertPrefix, "ALERT_PREFIX")
	setString(&cfg.Mail.Transport, "MAIL_TRANSPORT")
	setString(&cfg.Mail.From, "MAIL_FROM")
	setString(&cfg.Mail.SMTPHost, "SMTP_HOST")
	setString(&cfg.Mail.SMTPUsername, "SMTP_USERNAME")
	setString(&cfg.Mail.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.Mail.ResendAPIKey, "RESEND_API_KEY")
	setString(&cfg.Mail.ResendEndpoint, "RESEND_ENDPOINT")

	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Mail.SMTPPort = n
		}
	}
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = b
		}
	}
	if v := os.Getenv("CLIENT_URL"); v != "" {
		cfg.ClientURLs = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitList(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.AllowedEmailDomain == "" {
		cfg.AllowedEmailDomain = defaultEmailDomain
	}
	cfg.AllowedEmailDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.AllowedEmailDomain), "@"))
	if cfg.Mail.Transport == "" {
		cfg.Mail.Transport = defaultMailTransport
	}
	cfg.Mail.Transport = strings.ToLower(cfg.Mail.Transport)
	if cfg.Mail.Transport == MailSMTP && cfg.Mail.SMTPPort == 0 {
		cfg.Mail.SMTPPort = 587
	}
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set DATABASE_URL)")
	}
	if cfg.JWTPrivateKeyPath == "" && len(cfg.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("config: jwtSecret of at least %d bytes or jwtPrivateKeyPath is required", minJWTSecretBytes)
	}
	if cfg.JWTPrivateKeyPath == "" && cfg.JWTPublicKeyPath != "" {
		return errors.New("config: jwtPublicKeyPath requires jwtPrivateKeyPath")
	}
	if _, err := cfg.SessionDuration(); err != nil {
		return err
	}
	if _, err := cfg.OTPDuration(); err != nil {
		return err
	}
	if _, err := cfg.Leeway(); err != nil {
		return err
	}
	if _, err := ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys); err != nil {
		return err
	}
	switch cfg.Mail.Transport {
	case MailLog:
	case MailSMTP:
		if cfg.Mail.SMTPHost == "" || cfg.Mail.From == "" {
			return errors.New("config: smtp transport requires mail.smtpHost and mail.from")
		}
	case MailResend:
		if cfg.Mail.ResendAPIKey == "" || cfg.Mail.From == "" {
			return errors.New("config: resend transport requires mail.resendAPIKey and mail.from")
		}
	default:
		return fmt.Errorf("config: unknown mail transport %q", cfg.Mail.Transport)
	}
	return nil
}

// SessionDuration returns the session lifetime, 168h when unset.
func (c FileConfig) SessionDuration() (time.Duration, error) {
	return parseDuration("sessionTTL", c.SessionTTL, defaultSessionTTL)
}

// OTPDuration returns the signup code lifetime, 10m when unset.
func (c FileConfig) OTPDuration() (time.Duration, error) {
	return parseDuration("otpTTL", c.OTPTTL, defaultOTPTTL)
}

// Leeway returns the JWT clock-skew allowance; zero means the store default.
func (c FileConfig) Leeway() (time.Duration, error) {
	return parseDuration("jwtLeeway", c.JWTLeeway, 0)
}

func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

// ParseVerifyPublicKeys parses "kid=path,kid2=path2" into a map.
func ParseVerifyPublicKeys(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range splitList(raw) {
		kid, path, ok := strings.Cut(pair, "=")
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if !ok || kid == "" || path == "" {
			return nil, fmt.Errorf("invalid jwtVerifyPublicKeys entry %q", pair)
		}
		out[kid] = path
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
