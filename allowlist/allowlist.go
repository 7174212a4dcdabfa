// Package allowlist decides which SIP User-Agents are permitted.
//
// A User-Agent is allowed if any pattern is a case-insensitive substring of
// it, or if it is itself a substring of a pattern.  The pattern "microsip"
// allows "MicroSIP/3.20.7", and the pattern "telephone-pbx" allows a
// User-Agent of just "Telephone".
package allowlist

import (
	"strings"
	"sync"
)

// DefaultPatterns is used when no allow-list is configured.
var DefaultPatterns = []string{"freeswitch", "microsip", "telephone", "jssip"}

// List is an ordered set of allowed User-Agent patterns.  It is safe for
// concurrent use; patterns may be added while lookups are in progress.
type List struct {
	mu       sync.RWMutex
	patterns []string // as configured
	lower    []string
}

// New creates a List from patterns.  Duplicates are harmless.
func New(patterns ...string) *List {
	l := &List{}
	for _, p := range patterns {
		l.Add(p)
	}
	return l
}

// Default creates a List holding DefaultPatterns.
func Default() *List { return New(DefaultPatterns...) }

// Parse splits a comma separated list of patterns, trimming whitespace and
// dropping empty entries.  An empty pattern would match every User-Agent.
func Parse(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Add appends a pattern to the list.
func (l *List) Add(pattern string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patterns = append(l.patterns, pattern)
	l.lower = append(l.lower, strings.ToLower(pattern))
}

// Patterns returns a copy of the configured patterns, in order.
func (l *List) Patterns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.patterns...)
}

// Match returns the first pattern matching userAgent.
func (l *List) Match(userAgent string) (string, bool) {
	ua := strings.ToLower(userAgent)

	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, p := range l.lower {
		if strings.Contains(ua, p) || strings.Contains(p, ua) {
			return l.patterns[i], true
		}
	}
	return "", false
}

// Allowed reports whether userAgent matches any pattern.  An empty List
// allows nothing.
func (l *List) Allowed(userAgent string) bool {
	_, ok := l.Match(userAgent)
	return ok
}
