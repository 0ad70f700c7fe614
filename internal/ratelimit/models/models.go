// Package models holds the sliding-window rate limit types shared by the
// bucket stores and the HTTP middleware.
package models

import (
	"strings"
	"time"
)

// Policy caps a client at Requests per Window.
type Policy struct {
	Requests int
	Window   time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Requests > 0 && p.Window > 0
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the oldest request leaves
// the window, never less than one.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Key builds `ratelimit:<class>:<id>`. Segments are escaped so an identifier
// containing ':' cannot land in another bucket.
func Key(class, id string) string {
	return "ratelimit:" + sanitizeKeySegment(class) + ":" + sanitizeKeySegment(id)
}

func sanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
