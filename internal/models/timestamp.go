package models

import (
	"bytes"
	"encoding/json"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Timestamp is an ISO 8601 instant that tolerates absent or unparsable values.
// The zero value means "unknown" and sorts as the epoch.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// SortKey returns milliseconds since the epoch, 0 when unknown.
func (t Timestamp) SortKey() int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// UnmarshalJSON accepts ISO strings, epoch milliseconds and null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = Timestamp{}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if trimmed[0] != '"' {
		var millis float64
		if err := json.Unmarshal(trimmed, &millis); err == nil && millis > 0 {
			t.Time = time.UnixMilli(int64(millis)).UTC()
		}
		return nil
	}

	var raw string
	if err := json.Unmarshal(trimmed, &raw); err != nil || raw == "" {
		return nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}

	return nil
}

// MarshalJSON writes RFC 3339 or null for unknown instants.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
