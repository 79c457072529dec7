// Package schedule resolves natural-language schedules into cron
// expressions. Resolution is a pure function of the text and timezone.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/models"
)

// MinInterval is the shortest allowed gap between two firings
const MinInterval = 5 * time.Minute

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var (
	spaceRe        = regexp.MustCompile(`\s+`)
	abbreviationRe = regexp.MustCompile(`\b(est|edt|cst|cdt|mst|mdt|pst|pdt|akst|hst|bst|ist|cet|cest|eet|eest|wet|aest|aedt|jst|kst|gmt|utc|z)\b`)
	cronFieldRe    = regexp.MustCompile(`^[0-9*/,\-a-z?]+$`)

	everyNRe   = regexp.MustCompile(`^every (\d+) (minute|minutes|min|mins|hour|hours)$`)
	hourlyRe   = regexp.MustCompile(`^(hourly|every hour)$`)
	dailyRe    = regexp.MustCompile(`^(daily|every day|each day)(?: at (.+))?$`)
	weekdaysRe = regexp.MustCompile(`^(weekdays|every weekday|on weekdays)(?: at (.+))?$`)
	weeklyRe   = regexp.MustCompile(`^(?:weekly on|every|each) (monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)s?(?: at (.+))?$`)
	weeklyBare = regexp.MustCompile(`^weekly(?: at (.+))?$`)
	monthlyRe  = regexp.MustCompile(`^monthly(?: on the (\d{1,2})(?:st|nd|rd|th)?)?(?: at (.+))?$`)
	clockRe    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

var weekdays = map[string]int{
	"sunday": 0, "sun": 0,
	"monday": 1, "mon": 1,
	"tuesday": 2, "tue": 2, "tues": 2,
	"wednesday": 3, "wed": 3,
	"thursday": 4, "thu": 4, "thur": 4, "thurs": 4,
	"friday": 5, "fri": 5,
	"saturday": 6, "sat": 6,
}

// Resolve maps text plus an IANA timezone to a schedule. Accepted forms:
//
//	0 9 * * 1-5                 five-field cron, passed through
//	every 15 minutes            N >= 5
//	every 6 hours
//	hourly | every hour
//	daily | every day [at T]    T defaults to midnight
//	weekdays | every weekday [at T]
//	weekly on monday [at T] | every monday [at T] | weekly [at T] (Monday)
//	monthly [on the 15th] [at T]  day defaults to the 1st
//
// T is 9, 9am, 9:30 pm, 21:00, noon or midnight. A missing or unknown
// timezone, or a zone abbreviation inside the text, is a ValidationError.
func Resolve(text, timezone string) (models.Schedule, error) {
	tz := strings.TrimSpace(timezone)
	if tz == "" {
		return models.Schedule{}, catchall.NewValidationError("timezone is required (IANA name such as America/New_York)", "body", "timezone")
	}
	if strings.EqualFold(tz, "local") {
		return models.Schedule{}, catchall.NewValidationError("timezone must be an explicit IANA name", "body", "timezone")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return models.Schedule{}, catchall.NewValidationError(fmt.Sprintf("unknown timezone %q", tz), "body", "timezone")
	}

	original := strings.TrimSpace(text)
	normalized := strings.ToLower(spaceRe.ReplaceAllString(original, " "))
	if normalized == "" {
		return models.Schedule{}, catchall.NewValidationError("schedule is required", "body", "schedule")
	}
	if m := abbreviationRe.FindString(normalized); m != "" {
		return models.Schedule{}, catchall.NewValidationError(
			fmt.Sprintf("ambiguous timezone abbreviation %q in schedule; pass an IANA timezone instead", strings.ToUpper(m)),
			"body", "schedule")
	}

	expr, err := toCron(normalized)
	if err != nil {
		return models.Schedule{}, catchall.NewValidationError(err.Error(), "body", "schedule")
	}
	if err := checkInterval(expr); err != nil {
		return models.Schedule{}, catchall.NewValidationError(err.Error(), "body", "schedule")
	}

	return models.Schedule{Text: original, Cron: expr, Timezone: tz}, nil
}

// Next returns the first firing of s strictly after t
func Next(s models.Schedule, t time.Time) (time.Time, error) {
	sched, err := parser.Parse(s.Spec())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", s.Spec(), err)
	}
	return sched.Next(t), nil
}

func toCron(s string) (string, error) {
	// Five cron-like tokens that parse are passed through; anything else
	// with five words ("weekly on friday at 5pm") is read as text.
	if fields := strings.Fields(s); len(fields) == 5 && allCronFields(fields) {
		if _, err := parser.Parse(s); err == nil {
			return s, nil
		}
	}

	if m := everyNRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(m[2], "min") {
			switch {
			case n < int(MinInterval/time.Minute):
				return "", fmt.Errorf("interval must be at least %d minutes", int(MinInterval/time.Minute))
			case n == 60:
				return "0 * * * *", nil
			case n > 59:
				return "", fmt.Errorf("minute interval must be below 60; use hours")
			}
			return fmt.Sprintf("*/%d * * * *", n), nil
		}
		switch {
		case n < 1:
			return "", fmt.Errorf("hour interval must be at least 1")
		case n == 1:
			return "0 * * * *", nil
		case n == 24:
			return "0 0 * * *", nil
		case n > 23:
			return "", fmt.Errorf("hour interval must be below 24; use daily")
		}
		return fmt.Sprintf("0 */%d * * *", n), nil
	}

	if hourlyRe.MatchString(s) {
		return "0 * * * *", nil
	}

	if m := dailyRe.FindStringSubmatch(s); m != nil {
		h, minute, err := clock(m[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * *", minute, h), nil
	}

	if m := weekdaysRe.FindStringSubmatch(s); m != nil {
		h, minute, err := clock(m[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * 1-5", minute, h), nil
	}

	if m := weeklyRe.FindStringSubmatch(s); m != nil {
		h, minute, err := clock(m[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * %d", minute, h, weekdays[m[1]]), nil
	}

	if m := weeklyBare.FindStringSubmatch(s); m != nil {
		h, minute, err := clock(m[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * 1", minute, h), nil
	}

	if m := monthlyRe.FindStringSubmatch(s); m != nil {
		day := 1
		if m[1] != "" {
			day, _ = strconv.Atoi(m[1])
			if day < 1 || day > 28 {
				return "", fmt.Errorf("day of month must be between 1 and 28")
			}
		}
		h, minute, err := clock(m[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d %d * *", minute, h, day), nil
	}

	return "", fmt.Errorf("unrecognised schedule %q", s)
}

// clock parses a time of day; empty means midnight
func clock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "midnight":
		return 0, 0, nil
	case "noon", "midday":
		return 12, 0, nil
	}

	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("unrecognised time of day %q", s)
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}

	switch m[3] {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("invalid hour in %q", s)
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, fmt.Errorf("invalid hour in %q", s)
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, fmt.Errorf("invalid hour in %q", s)
		}
	}
	return hour, minute, nil
}

func allCronFields(fields []string) bool {
	for _, f := range fields {
		if !cronFieldRe.MatchString(f) {
			return false
		}
	}
	// Require at least one digit or wildcard so plain words never parse as cron
	return strings.ContainsAny(strings.Join(fields, ""), "0123456789*")
}

// checkInterval rejects expressions that fire more often than MinInterval
func checkInterval(expr string) error {
	sched, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %v", err)
	}

	t := sched.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	for i := 0; i < 16; i++ {
		next := sched.Next(t)
		if next.Sub(t) < MinInterval {
			return fmt.Errorf("schedule fires every %s; minimum interval is %s", next.Sub(t), MinInterval)
		}
		t = next
	}
	return nil
}
