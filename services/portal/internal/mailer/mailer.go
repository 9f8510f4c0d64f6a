package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultResendEndpoint = "https://api.resend.com/emails"
	subject               = "Your verification code"
)

// Sender delivers a signup verification code to an address.
type Sender interface {
	Send(ctx context.Context, to, code string) error
}

func renderBody(code string, ttl time.Duration) string {
	return fmt.Sprintf(
		`<p>Your verification code is <strong>%s</strong>.</p>`+
			`<p>It expires in %d minutes. If you did not request it, ignore this email.</p>`,
		code, int(ttl.Minutes()),
	)
}

// SMTPSender sends mail through a plain SMTP relay with optional PLAIN auth.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	ttl      time.Duration
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender builds an SMTP sender. ttl is only used in the message text.
func NewSMTPSender(host string, port int, username, password, from string, ttl time.Duration) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		ttl:      ttl,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := "From: " + s.from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" +
		renderBody(code, s.ttl)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	if err := s.sendMail(addr, auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// ResendSender posts mail to the Resend HTTP API.
type ResendSender struct {
	apiKey   string
	from     string
	endpoint string
	ttl      time.Duration
	client   *http.Client
}

// NewResendSender builds a Resend sender. An empty endpoint uses the public API.
func NewResendSender(apiKey, from, endpoint string, ttl time.Duration) *ResendSender {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultResendEndpoint
	}
	return &ResendSender{
		apiKey:   apiKey,
		from:     from,
		endpoint: endpoint,
		ttl:      ttl,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ResendSender) Send(ctx context.Context, to, code string) error {
	body, err := json.Marshal(resendRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		HTML:    renderBody(code, s.ttl),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("resend API error: status %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes codes to the log instead of sending them. Development only.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, code string) error {
	s.logger.InfoContext(ctx, "verification code issued", "email", MaskEmail(to))
	s.logger.DebugContext(ctx, "verification code", "email", MaskEmail(to), "code", code)
	return nil
}

// MaskEmail hides most of the local part for logging.
func MaskEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	switch len(local) {
	case 0:
		return "***@" + domain
	case 1, 2:
		return local[:1] + "***@" + domain
	default:
		return local[:1] + "***" + local[len(local)-1:] + "@" + domain
	}
}
