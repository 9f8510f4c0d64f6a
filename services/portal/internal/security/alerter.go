package security

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Auth events fed to the alerter.
const (
	EventSignupCode   = "auth.signup.code"
	EventSignupVerify = "auth.signup.verify"
	EventLogin        = "auth.login"
	EventSession      = "auth.session"
	EventAdmin        = "auth.admin"

	OutcomeFail = "fail"
)

const observeTimeout = 2 * time.Second

// incrWithTTL counts within a window; the first hit arms the expiry.
var incrWithTTL = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

type failureRule struct {
	threshold int64
	window    time.Duration
}

// failureRules holds per-event limits for failed outcomes. Credential
// guessing gets the tightest limit.
var failureRules = map[string]failureRule{
	EventLogin:        {threshold: 10, window: 5 * time.Minute},
	EventSignupVerify: {threshold: 10, window: 5 * time.Minute},
	EventSignupCode:   {threshold: 15, window: 5 * time.Minute},
	EventSession:      {threshold: 25, window: 5 * time.Minute},
	EventAdmin:        {threshold: 25, window: 5 * time.Minute},
}

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter counts failed auth events per client in fixed windows.
// A nil *AuditAlerter is valid and observes nothing.
type AuditAlerter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewAuditAlerter creates an alerter on an existing Redis client. It returns
// nil when client is nil so callers can run without Redis.
func NewAuditAlerter(client redis.UniversalClient, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "issueboard:auth:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix, now: time.Now}
}

// Observe records an event for ip and reports whether its rule threshold is
// reached within the current window. Events without a rule are ignored.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	if a == nil {
		return AlertResult{}, nil
	}
	event, outcome = strings.TrimSpace(event), strings.TrimSpace(outcome)
	rule, ok := failureRules[event]
	if !ok || outcome != OutcomeFail {
		return AlertResult{}, nil
	}

	windowMs := rule.window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := strings.Join([]string{a.prefix, keySegment(event), keySegment(outcome), keySegment(ip), strconv.FormatInt(slot, 10)}, ":")

	ctx, cancel := context.WithTimeout(ctx, observeTimeout)
	defer cancel()
	count, err := incrWithTTL.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return AlertResult{}, err
	}
	return AlertResult{
		Triggered: count >= rule.threshold,
		Count:     count,
		Threshold: rule.threshold,
		Window:    rule.window,
	}, nil
}

var segmentReplacer = strings.NewReplacer(":", "_", "|", "_", " ", "_")

func keySegment(in string) string {
	if in = strings.TrimSpace(in); in == "" {
		return "unknown"
	}
	return segmentReplacer.Replace(in)
}
