package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------- Tasks ----------

// Priority is the urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority normalizes user input ("HIGH", "med", "urgent"...) to a
// Priority. Unknown or empty values map to medium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "l", "minor":
		return PriorityLow
	case "high", "h", "urgent", "important":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// Label returns the short tag used in chat output (LOW/MED/HIGH).
func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	default:
		return "MED"
	}
}

// Rank orders priorities high → medium → low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Task is a to-do item of a chat.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Priority    Priority   `json:"priority"`
	Completed   bool       `json:"completed"`
	RemindAt    *time.Time `json:"remind_at,omitempty"`
	RemindedAt  *time.Time `json:"reminded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Status returns "completed" or "pending".
func (t Task) Status() string {
	if t.Completed {
		return "completed"
	}
	return "pending"
}

// ReminderPending reports whether the task still has an unsent reminder.
func (t Task) ReminderPending() bool {
	return !t.Completed && t.RemindAt != nil && t.RemindedAt == nil
}

// FindTask returns the index of the task with the given id, or -1.
func FindTask(tasks []Task, id string) int {
	id = strings.TrimSpace(id)
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// ---------- Settings ----------

// Well-known setting keys.
const (
	SettingDailySummaryTime = "daily_summary_time"
	SettingTimezone         = "timezone"
)

// Setting is a key/value pair scoped to a chat.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSetting looks up key in settings.
func GetSetting(settings []Setting, key string) (string, bool) {
	for _, s := range settings {
		if s.Key == key {
			return s.Value, true
		}
	}
	return "", false
}

// PutSetting returns settings with key set to value, overwriting in place.
func PutSetting(settings []Setting, key, value string, now time.Time) []Setting {
	for i := range settings {
		if settings[i].Key == key {
			settings[i].Value = value
			settings[i].UpdatedAt = now
			return settings
		}
	}
	return append(settings, Setting{Key: key, Value: value, UpdatedAt: now})
}

// DeleteSetting returns settings without key.
func DeleteSetting(settings []Setting, key string) []Setting {
	out := settings[:0]
	for _, s := range settings {
		if s.Key != key {
			out = append(out, s)
		}
	}
	return out
}

// ---------- Workouts ----------

// WeightUnit is the unit of a logged weight.
type WeightUnit string

const (
	Kilograms WeightUnit = "kg"
	Pounds    WeightUnit = "lb"
)

// ParseUnit normalizes a unit name. Empty input defaults to kilograms.
func ParseUnit(s string) (WeightUnit, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kg", "kgs", "kilo", "kilos", "kilogram", "kilograms":
		return Kilograms, true
	case "lb", "lbs", "pound", "pounds":
		return Pounds, true
	}
	return "", false
}

// WorkoutSet is one set of an exercise.
type WorkoutSet struct {
	Reps   int        `json:"reps"`
	Weight float64    `json:"weight"`
	Unit   WeightUnit `json:"unit"`
}

// Exercise groups the sets of one movement inside a workout.
type Exercise struct {
	Name string       `json:"name"`
	Sets []WorkoutSet `json:"sets"`
}

// Workout is a logged training session.
type Workout struct {
	ID        string     `json:"id"`
	Date      string     `json:"date"` // YYYY-MM-DD in the chat's time zone
	Type      string     `json:"type"`
	Exercises []Exercise `json:"exercises"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ---------- Groceries ----------

// GroceryItem is an entry of the shopping list.
type GroceryItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Quantity  string    `json:"quantity,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ---------- Ids ----------

// NewID returns a short random id (first 8 hex chars of a UUIDv4) that is
// not reported as taken.
func NewID(taken func(id string) bool) string {
	for {
		id := uuid.NewString()[:8]
		if taken == nil || !taken(id) {
			return id
		}
	}
}
