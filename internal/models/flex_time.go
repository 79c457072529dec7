package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// flexTimeLayouts are tried in order when decoding timestamps from the API
var flexTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FlexTime decodes the several timestamp shapes the API emits
// (RFC3339, naive ISO datetimes, bare dates) and encodes as RFC3339.
type FlexTime struct {
	time.Time
}

// NewFlexTime wraps t
func NewFlexTime(t time.Time) *FlexTime {
	return &FlexTime{Time: t}
}

// ParseFlexTime parses s using the accepted layouts
func ParseFlexTime(s string) (FlexTime, error) {
	s = strings.TrimSpace(s)
	for _, layout := range flexTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FlexTime{Time: t.UTC()}, nil
		}
	}
	return FlexTime{}, fmt.Errorf("unrecognised time format: %q", s)
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseFlexTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DateRange is the effective search window of a job
type DateRange struct {
	Start *FlexTime `json:"start_date,omitempty"`
	End   *FlexTime `json:"end_date,omitempty"`
}

// IsZero reports whether neither bound is set
func (d DateRange) IsZero() bool {
	return (d.Start == nil || d.Start.IsZero()) && (d.End == nil || d.End.IsZero())
}

// Span returns End-Start, or zero when either bound is missing
func (d DateRange) Span() time.Duration {
	if d.Start == nil || d.End == nil || d.Start.IsZero() || d.End.IsZero() {
		return 0
	}
	return d.End.Sub(d.Start.Time)
}
