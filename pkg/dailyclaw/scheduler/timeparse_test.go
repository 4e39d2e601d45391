package scheduler

import (
	"testing"
	"time"
)

func TestParseReminderTime(t *testing.T) {
	t.Parallel()
	loc := paris(t)
	// Wednesday.
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, loc)
	at := func(day, hour, minute int) time.Time {
		return time.Date(2025, 3, day, hour, minute, 0, 0, loc)
	}

	tests := []struct {
		input string
		want  time.Time
	}{
		// Absolute
		{"2025-03-05T18:00:00+01:00", at(5, 18, 0)},
		{"2025-03-05T17:00:00Z", at(5, 18, 0)},
		{"2025-03-06T09:30", at(6, 9, 30)},
		{"2025-03-06 09:30:00", at(6, 9, 30)},

		// Relative
		{"in 10 minutes", now.Add(10 * time.Minute)},
		{"in 30 seconds", now.Add(30 * time.Second)},
		{"2 hours", now.Add(2 * time.Hour)},
		{"in 1 day", now.Add(24 * time.Hour)},
		{"3 days from now", now.Add(72 * time.Hour)},
		{"in 5m", now.Add(5 * time.Minute)},
		{"In 2 Hrs", now.Add(2 * time.Hour)},
		{"in 1 week", now.Add(7 * 24 * time.Hour)},

		// Tomorrow / today
		{"tomorrow", at(6, 10, 0)},
		{"tomorrow at 9am", at(6, 9, 0)},
		{"tomorrow 18:30", at(6, 18, 30)},
		{"today at 5pm", at(5, 17, 0)},
		{"today 12:15", at(5, 12, 15)},

		// Time of day, next occurrence
		{"at 18:30", at(5, 18, 30)},
		{"9pm", at(5, 21, 0)},
		{"at 8am", at(6, 8, 0)},
		{"10:00", at(6, 10, 0)},

		// Weekdays
		{"friday", at(7, 9, 0)},
		{"monday at 8am", at(10, 8, 0)},
		{"on sat 14:00", at(8, 14, 0)},
		{"wednesday", at(12, 9, 0)},
		{"wednesday at 11:00", at(5, 11, 0)},
		{"next wednesday at 11:00", at(12, 11, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseReminderTime(tt.input, now, loc)
			if err != nil {
				t.Fatalf("ParseReminderTime(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseReminderTime(%q) = %s, want %s", tt.input, got.In(loc), tt.want)
			}
		})
	}
}

func TestParseReminderTimeErrors(t *testing.T) {
	t.Parallel()
	loc := paris(t)
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, loc)

	for _, input := range []string{
		"",
		"whenever",
		"in 0 minutes",
		"today at 8am",
		"2025-03-01T09:00:00+01:00",
		"tomorrow at noonish",
		"25:00",
		"13pm",
		"someday at 9",
		"in 200000 days",
		"in 9223372036854775807 seconds",
	} {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseReminderTime(input, now, loc); !IsSchedulingError(err) {
				t.Fatalf("expected SchedulingError for %q, got %v", input, err)
			}
		})
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"08:00", "08:00", true},
		{"8:05", "08:05", true},
		{"21:30", "21:30", true},
		{"9am", "09:00", true},
		{"3:30pm", "15:30", true},
		{"12am", "00:00", true},
		{"12pm", "12:00", true},
		{"24:00", "", false},
		{"7:60", "", false},
		{"off", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.input)
			if (err == nil) != tt.ok {
				t.Fatalf("ParseTimeOfDay(%q) error = %v, want ok=%v", tt.input, err, tt.ok)
			}
			if tt.ok && got.String() != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
