// Package logx provides the component-tagged stdlib loggers used throughout
// the mediator node: one *log.Logger per component, plus a security-tagged
// sink for events that touch key material or author rate-limiting.
package logx

import (
	"log"
	"os"
	"regexp"
)

// New returns a logger prefixed with the component name, mirroring the
// "[Component] " tagging convention used across the engine.
func New(component string) *log.Logger {
	return log.New(os.Stdout, "["+component+"] ", log.LstdFlags)
}

// Security is the logger for events destined for the long-retention
// security stream: key rotation, injection attempts, rate-limit trips.
var Security = log.New(os.Stdout, "[Security] ", log.LstdFlags|log.Lmicroseconds)

var secretPattern = regexp.MustCompile(`(?i)(private[_-]?key|secret|password)\s*[:=]\s*\S+`)

// Redact masks obvious key/secret material in a log line before it is
// written. It is deliberately conservative: a pattern match is blanked
// entirely rather than partially revealed.
func Redact(line string) string {
	return secretPattern.ReplaceAllString(line, "$1=***redacted***")
}
