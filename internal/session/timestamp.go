package session

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Timestamp is a time.Time that tolerates the two wire encodings session
// records have historically used: RFC 3339 strings and numeric Unix epochs
// (integer or fractional seconds, as written by older deployments).
//
// Decoding normalizes every representation to UTC once, at the data-model
// boundary. Code past this point compares plain time.Time values and never
// branches on representation.
type Timestamp struct {
	time.Time
}

// NewTimestamp returns t normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

// MarshalJSON encodes the timestamp as an RFC 3339 string with nanosecond
// precision. The zero value encodes as null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON decodes RFC 3339 strings, integer epochs, and fractional
// epochs. null decodes to the zero value.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		t.Time = time.Time{}
		return nil
	}

	if len(s) > 0 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return fmt.Errorf("parsing timestamp string: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", str, err)
		}
		t.Time = parsed.UTC()
		return nil
	}

	// Legacy rows store time.time()-style epochs: seconds since 1970,
	// possibly with a fractional part.
	var epoch float64
	if err := json.Unmarshal(data, &epoch); err != nil {
		return fmt.Errorf("parsing timestamp epoch: %w", err)
	}
	t.Time = timeFromEpoch(epoch)
	return nil
}

// timeFromEpoch converts fractional Unix seconds to a UTC time.Time.
func timeFromEpoch(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
