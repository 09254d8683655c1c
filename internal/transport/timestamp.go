package transport

import (
	"errors"
	"fmt"
	"time"
)

// Timestamp guard errors
var (
	ErrTimestampMissing   = errors.New("timestamp missing")
	ErrTimestampMalformed = errors.New("timestamp is not RFC 3339 compatible")
	ErrTimestampSkew      = errors.New("timestamp outside permitted skew")
)

// ParseTimestamp parses an RFC 3339 timestamp with an explicit timezone and
// converts it to UTC. A trailing "Z" is equivalent to "+00:00".
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, ErrTimestampMissing
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrTimestampMalformed, value)
	}
	return t.UTC(), nil
}

// AssertWithinSkew validates the timestamp string and checks that it is
// within maxSkew of now, boundary inclusive.
func AssertWithinSkew(value string, maxSkew time.Duration, now time.Time) (time.Time, error) {
	t, err := ParseTimestamp(value)
	if err != nil {
		return time.Time{}, err
	}
	delta := now.Sub(t)
	if delta < 0 {
		delta = -delta
	}
	if delta > maxSkew {
		return time.Time{}, fmt.Errorf("%w: %s exceeds max %s", ErrTimestampSkew, delta, maxSkew)
	}
	return t, nil
}
