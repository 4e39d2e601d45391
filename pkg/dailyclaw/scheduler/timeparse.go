package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxRelative bounds "in N <unit>" expressions. Larger counts would
// overflow time.Duration.
const maxRelative = 10 * 365 * 24 * time.Hour

// TimeOfDay is a local wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Valid reports whether the hour and minute are in range.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// On returns the instant of t on the given date in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	d := date.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, loc)
}

// ParseTimeOfDay parses "08:00", "8:30", "9am", "3:30pm".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m := parseTimeComponents(s)
	if h < 0 {
		return TimeOfDay{}, &SchedulingError{Expr: s, Reason: "expected a time like 08:00 or 9am"}
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// defaultWeekdayTime is used for "monday" without an explicit time.
var defaultWeekdayTime = TimeOfDay{Hour: 9}

var absoluteLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var (
	reRelative = regexp.MustCompile(`^(?:in\s+)?(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w)(?:\s+from\s+now)?$`)
	reTomorrow = regexp.MustCompile(`^tomorrow(?:\s+(?:at\s+)?(.+))?$`)
	reToday    = regexp.MustCompile(`^today\s+(?:at\s+)?(.+)$`)
	reAt       = regexp.MustCompile(`^(?:at\s+)?(\d{1,2}(?::\d{2})?\s*(?:am|pm)?)$`)
	reWeekday  = regexp.MustCompile(`^(?:on\s+)?(next\s+)?([a-z]+)(?:\s+(?:at\s+)?(.+))?$`)
)

// ParseReminderTime resolves a reminder time expression relative to now in
// loc. Accepted forms:
//
//   - RFC 3339 ("2025-03-01T09:00:00+01:00") or a zone-less ISO date-time,
//     read in loc
//   - "in 10 minutes", "2 hours", "3 days from now"
//   - "tomorrow", "tomorrow at 9am", "tomorrow 18:30"
//   - "today at 17:00"
//   - "at 18:30", "9pm" (next occurrence)
//   - "monday", "next friday at 8am" (09:00 when no time is given)
//
// The result is always after now.
func ParseReminderTime(expr string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return time.Time{}, &SchedulingError{Expr: expr, Reason: "empty time expression"}
	}
	now = now.In(loc)

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return future(expr, t, now)
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return future(expr, t, now)
		}
	}

	s := strings.Join(strings.Fields(strings.ToLower(raw)), " ")

	if m := reRelative.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := relativeUnit(m[2])
		if n <= 0 || unit == 0 {
			return time.Time{}, &SchedulingError{Expr: expr, Reason: "duration must be positive"}
		}
		if int64(n) > int64(maxRelative/unit) {
			return time.Time{}, &SchedulingError{Expr: expr, Reason: "duration is too far in the future"}
		}
		return now.Add(time.Duration(n) * unit), nil
	}

	if m := reTomorrow.FindStringSubmatch(s); m != nil {
		tod := TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
		if m[1] != "" {
			var err error
			if tod, err = ParseTimeOfDay(m[1]); err != nil {
				return time.Time{}, &SchedulingError{Expr: expr, Reason: "unrecognized time after \"tomorrow\""}
			}
		}
		return tod.On(now.AddDate(0, 0, 1), loc), nil
	}

	if m := reToday.FindStringSubmatch(s); m != nil {
		tod, err := ParseTimeOfDay(m[1])
		if err != nil {
			return time.Time{}, &SchedulingError{Expr: expr, Reason: "unrecognized time after \"today\""}
		}
		return future(expr, tod.On(now, loc), now)
	}

	if m := reAt.FindStringSubmatch(s); m != nil {
		tod, err := ParseTimeOfDay(m[1])
		if err != nil {
			return time.Time{}, err
		}
		t := tod.On(now, loc)
		if !t.After(now) {
			t = tod.On(now.AddDate(0, 0, 1), loc)
		}
		return t, nil
	}

	if m := reWeekday.FindStringSubmatch(s); m != nil {
		if dow := parseDayOfWeek(m[2]); dow >= 0 {
			tod := defaultWeekdayTime
			if m[3] != "" {
				var err error
				if tod, err = ParseTimeOfDay(m[3]); err != nil {
					return time.Time{}, &SchedulingError{Expr: expr, Reason: "unrecognized time after weekday"}
				}
			}
			ahead := (dow - int(now.Weekday()) + 7) % 7
			if ahead == 0 && m[1] != "" {
				ahead = 7
			}
			t := tod.On(now.AddDate(0, 0, ahead), loc)
			if !t.After(now) {
				t = tod.On(now.AddDate(0, 0, ahead+7), loc)
			}
			return t, nil
		}
	}

	return time.Time{}, &SchedulingError{Expr: expr, Reason: "unrecognized time expression"}
}

func future(expr string, t, now time.Time) (time.Time, error) {
	if !t.After(now) {
		return time.Time{}, &SchedulingError{Expr: expr, Reason: "time is in the past"}
	}
	return t, nil
}

func relativeUnit(unit string) time.Duration {
	switch unit {
	case "s", "sec", "secs", "second", "seconds":
		return time.Second
	case "m", "min", "mins", "minute", "minutes":
		return time.Minute
	case "h", "hr", "hrs", "hour", "hours":
		return time.Hour
	case "d", "day", "days":
		return 24 * time.Hour
	case "w", "week", "weeks":
		return 7 * 24 * time.Hour
	}
	return 0
}

// parseTimeComponents parses "9:00", "14:30", "9am", "3:30pm".
// Returns hour (0-23) and minute, or (-1, 0) on failure.
func parseTimeComponents(s string) (int, int) {
	s = strings.TrimSpace(strings.ToLower(s))

	isPM := strings.HasSuffix(s, "pm")
	isAM := strings.HasSuffix(s, "am")
	if isPM {
		s = strings.TrimSuffix(s, "pm")
	} else if isAM {
		s = strings.TrimSuffix(s, "am")
	}
	s = strings.TrimSpace(s)

	parts := strings.SplitN(s, ":", 2)
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hour < 0 || hour > 23 {
		return -1, 0
	}
	if (isAM || isPM) && (hour == 0 || hour > 12) {
		return -1, 0
	}

	minute := 0
	if len(parts) == 2 {
		minute, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || minute < 0 || minute > 59 {
			return -1, 0
		}
	}

	if isPM && hour < 12 {
		hour += 12
	}
	if isAM && hour == 12 {
		hour = 0
	}
	return hour, minute
}

// parseDayOfWeek converts a day name to a time.Weekday number (0=Sunday),
// or -1.
func parseDayOfWeek(day string) int {
	switch strings.ToLower(day) {
	case "sunday", "sun":
		return 0
	case "monday", "mon":
		return 1
	case "tuesday", "tue", "tues":
		return 2
	case "wednesday", "wed":
		return 3
	case "thursday", "thu", "thurs":
		return 4
	case "friday", "fri":
		return 5
	case "saturday", "sat":
		return 6
	default:
		return -1
	}
}
