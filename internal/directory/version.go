package directory

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// epoch values at or above this are taken as milliseconds; below, seconds.
// The cutoff (≈ November 2286 in seconds, March 2001 in milliseconds) is
// unambiguous for any realistic stamp.
const millisCutoff = int64(1e10)

// ParseVersion canonicalises a client-supplied expected_updated_at token.
// Accepted forms: epoch seconds, epoch milliseconds (JSON number or numeric
// string) and ISO-8601 / RFC 3339 strings. The result is UTC with millisecond
// precision, matching the precision of stored version stamps.
func ParseVersion(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, Validationf("expected_updated_at is required")
	case float64:
		return fromEpoch(int64(t)), nil
	case int64:
		return fromEpoch(t), nil
	case int:
		return fromEpoch(int64(t)), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, Validationf("expected_updated_at is not a valid epoch value")
		}
		return fromEpoch(n), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, Validationf("expected_updated_at is required")
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n), nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Truncate(time.Millisecond), nil
			}
		}
		return time.Time{}, Validationf("expected_updated_at is not a recognised timestamp")
	}
	return time.Time{}, Validationf("expected_updated_at must be a number or string")
}

func fromEpoch(n int64) time.Time {
	if n >= millisCutoff {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
