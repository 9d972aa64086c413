// Package guard implements the two-layer prompt-injection defence named in
// spec.md §9: a regex detector that flags and counts suspicious input per
// author, and a structural builder that delimits user content so injected
// control tokens cannot escape into a capability call's instructions.
// Grounded on the teacher's per-client rate limiter (pkg/server's
// RateLimiter: a map of client id to rolling counters guarded by a mutex),
// retargeted from request throttling to injection-attempt throttling.
package guard

import (
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node/pkg/apierr"
	"github.com/kase1111-hash/mediator-node/pkg/logx"
)

// suspiciousPatterns match common prompt-injection phrasing: attempts to
// override prior instructions, reveal the system prompt, or switch roles.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`),
	regexp.MustCompile(`(?i)disregard (the )?(system|previous) prompt`),
	regexp.MustCompile(`(?i)you are now`),
	regexp.MustCompile(`(?i)reveal (your|the) (system prompt|instructions)`),
	regexp.MustCompile(`(?i)act as (if you were|an?) `),
	regexp.MustCompile(`(?i)\bsystem\s*:\s*`),
}

// Config carries the injection rate-limit option pair from pkg/config.
type Config struct {
	RateLimitAttempts int
	RateLimitWindow   time.Duration
}

// Guard detects suspicious content and rate-limits repeat offenders.
type Guard struct {
	mu       sync.Mutex
	cfg      Config
	attempts map[string][]time.Time
	logger   *log.Logger
}

// New constructs a Guard.
func New(cfg Config) *Guard {
	return &Guard{cfg: cfg, attempts: make(map[string][]time.Time), logger: logx.New("InjectionGuard")}
}

// Check scans prose for suspicious patterns. A clean input is returned
// unchanged. A suspicious input has the matched phrase stripped and the
// author's attempt counter incremented; once the counter exceeds
// RateLimitAttempts within RateLimitWindow, Check returns an
// apierr.Injection error instead of sanitised text, so the caller skips
// the capability call entirely.
func (g *Guard) Check(author, prose string) (string, error) {
	sanitized, flagged := sanitize(prose)
	if !flagged {
		return prose, nil
	}

	g.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-g.cfg.RateLimitWindow)
	recent := g.attempts[author][:0]
	for _, t := range g.attempts[author] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	g.attempts[author] = recent
	count := len(recent)
	g.mu.Unlock()

	g.logger.Printf("suspicious input from %s (attempt %d/%d in window)", author, count, g.cfg.RateLimitAttempts)

	if count > g.cfg.RateLimitAttempts {
		return "", apierr.Injection(fmt.Sprintf("author %s rate-limited after %d suspicious attempts", author, count), nil)
	}
	return sanitized, nil
}

// sanitize strips matched phrases from prose and reports whether any
// pattern matched.
func sanitize(prose string) (string, bool) {
	flagged := false
	for _, p := range suspiciousPatterns {
		if p.MatchString(prose) {
			flagged = true
			prose = p.ReplaceAllString(prose, "[redacted]")
		}
	}
	return prose, flagged
}

// WrapDelimited builds a structural prompt section: user-authored content
// is wrapped between explicit start/end markers so that even an
// unsanitised injection attempt cannot present itself as a new system
// instruction to a capability implementation reading the wrapped prose.
func WrapDelimited(label, content string) string {
	return fmt.Sprintf("<<<%s_START>>>\n%s\n<<<%s_END>>>", label, content, label)
}
