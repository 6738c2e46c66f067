package models

import (
	"fmt"
	"strings"
	"time"
)

// Sentinel instants for the bi-temporal fields. ValidAlways stands in for
// "true since forever" and StillValid for "not yet invalidated". Both are
// representable in RFC3339, so they survive the storage boundary unchanged.
var (
	ValidAlways = time.Time{}
	StillValid  = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// Temporal tokens accepted by the management API.
const (
	TokenAlways = "always"
	TokenNow    = "now"
)

// IsSentinel reports whether t is one of the reserved sentinel instants.
func IsSentinel(t time.Time) bool {
	return t.Equal(ValidAlways) || t.Equal(StillValid)
}

// ParseTemporalToken resolves a temporal token into a concrete instant.
// "always" maps to the ValidAlways sentinel, "now" to the supplied clock
// reading, anything else must be RFC3339. An empty token is an error: the
// caller is expected to state its temporal intent explicitly.
func ParseTemporalToken(token string, now time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "":
		return time.Time{}, fmt.Errorf("temporal token is required (\"always\", \"now\" or RFC3339)")
	case TokenAlways:
		return ValidAlways, nil
	case TokenNow:
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(token))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid temporal token %q: %w", token, err)
	}
	return t.UTC(), nil
}

// ParseInvalidUntilToken resolves a temporal token for the closing end of a
// validity interval. In that position "always" asserts the fact has never
// been invalidated, so it maps to the StillValid sentinel rather than the
// earliest instant. Everything else parses as ParseTemporalToken does.
func ParseInvalidUntilToken(token string, now time.Time) (time.Time, error) {
	t, err := ParseTemporalToken(token, now)
	if err != nil {
		return time.Time{}, err
	}
	if t.Equal(ValidAlways) {
		return StillValid, nil
	}
	return t, nil
}

// ParseTimestampOrSentinel parses an extraction-supplied timestamp. Blank or
// unparsable values fall back to the ValidAlways sentinel instead of failing,
// because extraction output is best-effort.
func ParseTimestampOrSentinel(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return ValidAlways
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return ValidAlways
	}
	return t.UTC()
}

// FormatInstant serializes an instant as RFC3339 for the storage boundary.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseInstant is the inverse of FormatInstant.
func ParseInstant(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid instant %q: %w", value, err)
	}
	return t.UTC(), nil
}
