package copilot

import (
	"context"
	"strings"
	"time"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/scheduler"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

// DailySummaryStatus describes a chat's daily summary after a change.
type DailySummaryStatus struct {
	Enabled  bool   `json:"enabled"`
	Time     string `json:"daily_summary_time,omitempty"`
	Timezone string `json:"timezone"`
	NextRun  string `json:"next_run,omitempty"`
}

// SetReminder sets (or moves) the reminder of an existing task, or creates
// a new medium-priority task when only a title is given.
func (c *Catalog) SetReminder(chatID, taskID, title, remindAt string) (store.Task, error) {
	if strings.TrimSpace(remindAt) == "" {
		return store.Task{}, invalid("remind_at", "is required")
	}
	if taskID == "" && strings.TrimSpace(title) == "" {
		return store.Task{}, invalid("task_id", "task_id or title is required")
	}
	loc, err := c.Location(chatID)
	if err != nil {
		return store.Task{}, err
	}
	at, err := scheduler.ParseReminderTime(remindAt, c.now(), loc)
	if err != nil {
		return store.Task{}, err
	}

	if taskID == "" {
		return c.createTask(chatID, strings.TrimSpace(title), store.PriorityMedium, &at)
	}

	var updated store.Task
	_, err = store.Update(c.store, chatID, store.Tasks, func(tasks []store.Task) ([]store.Task, error) {
		i := store.FindTask(tasks, taskID)
		if i < 0 {
			return nil, &NotFoundError{Kind: "task", Ref: taskID}
		}
		if tasks[i].Completed {
			return nil, invalid("task_id", "task %s is already completed", taskID)
		}
		tasks[i].RemindAt = &at
		tasks[i].RemindedAt = nil
		updated = tasks[i]
		return tasks, nil
	})
	if err != nil {
		return store.Task{}, err
	}
	c.scheduleTaskReminder(chatID, updated)
	return updated, nil
}

// ClearReminders removes every unsent reminder of the chat and returns how
// many were cleared.
func (c *Catalog) ClearReminders(chatID string) (int, error) {
	cleared := 0
	_, err := store.Update(c.store, chatID, store.Tasks, func(tasks []store.Task) ([]store.Task, error) {
		for i := range tasks {
			if tasks[i].ReminderPending() {
				cleared++
			}
			tasks[i].RemindAt = nil
			tasks[i].RemindedAt = nil
		}
		return tasks, nil
	})
	if err != nil {
		return 0, err
	}
	c.sched.CancelMatching(func(e scheduler.Entry) bool {
		return e.ChatID == chatID && strings.HasPrefix(e.Tag, taskTagPrefix)
	})
	return cleared, nil
}

// SetDailySummary enables the daily summary at value (HH:MM, 9am...) or
// disables it with off/disable/disabled/none.
func (c *Catalog) SetDailySummary(chatID, value string) (DailySummaryStatus, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	loc, err := c.Location(chatID)
	if err != nil {
		return DailySummaryStatus{}, err
	}
	status := DailySummaryStatus{Timezone: loc.String()}

	switch value {
	case "":
		return status, invalid("time", "is required (HH:MM or off)")
	case "off", "disable", "disabled", "none":
		_, err := store.Update(c.store, chatID, store.Settings, func(settings []store.Setting) ([]store.Setting, error) {
			settings = store.DeleteSetting(settings, store.SettingDailySummaryTime)
			return store.DeleteSetting(settings, settingDailySummaryLastSent), nil
		})
		if err != nil {
			return status, err
		}
		c.sched.CancelTag(chatID, tagDailySummary)
		return status, nil
	}

	at, err := scheduler.ParseTimeOfDay(value)
	if err != nil {
		return status, err
	}
	now := c.now()
	_, err = store.Update(c.store, chatID, store.Settings, func(settings []store.Setting) ([]store.Setting, error) {
		settings = store.PutSetting(settings, store.SettingDailySummaryTime, at.String(), now)
		return store.DeleteSetting(settings, settingDailySummaryLastSent), nil
	})
	if err != nil {
		return status, err
	}

	status.Enabled = true
	status.Time = at.String()
	entry, err := c.scheduleDailySummary(chatID, at, loc, time.Time{})
	if err != nil {
		c.logger.Warn("failed to schedule daily summary", "chat_id", chatID, "error", err)
		return status, nil
	}
	status.NextRun = entry.FireAt.In(loc).Format(time.RFC3339)
	return status, nil
}

// SetTimezone stores the chat's IANA time zone and moves its daily summary
// to the new zone.
func (c *Catalog) SetTimezone(chatID, name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("timezone", "is required")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, invalid("timezone", "unknown time zone %q (use an IANA name like Europe/Paris)", name)
	}

	now := c.now()
	settings, err := store.Update(c.store, chatID, store.Settings, func(settings []store.Setting) ([]store.Setting, error) {
		return store.PutSetting(settings, store.SettingTimezone, loc.String(), now), nil
	})
	if err != nil {
		return nil, err
	}

	if value, ok := store.GetSetting(settings, store.SettingDailySummaryTime); ok {
		if at, err := scheduler.ParseTimeOfDay(value); err == nil {
			if _, err := c.scheduleDailySummary(chatID, at, loc, time.Time{}); err != nil {
				c.logger.Warn("failed to move daily summary", "chat_id", chatID, "error", err)
			}
		}
	}
	return loc, nil
}

func (c *Catalog) registerReminderTools(e *ToolExecutor) {
	e.Register(
		MakeToolDefinition("reminder_set",
			"Schedule a reminder for a task. Pass task_id for an existing task, or title to create a new one.",
			objectSchema(map[string]any{
				"task_id":   prop("string", "Existing task id"),
				"title":     prop("string", "Title for a new task when task_id is not given"),
				"remind_at": prop("string", `ISO 8601 time or phrases like "in 5 minutes", "tomorrow at 9am", "friday 18:00"`),
			}, "remind_at"),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			t, err := c.SetReminder(chatID, stringArg(args, "task_id"), stringArg(args, "title"), stringArg(args, "remind_at"))
			if err != nil {
				return nil, err
			}
			loc := c.displayLocation(chatID)
			return okResult(map[string]any{"task": newTaskView(t, loc)}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("reminder_clear",
			"Remove all pending reminders of this chat.",
			objectSchema(map[string]any{}),
		),
		handler(func(_ context.Context, chatID string, _ map[string]any) (any, error) {
			n, err := c.ClearReminders(chatID)
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"cleared": n}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("daily_summary_set",
			`Configure the daily summary of pending tasks. Use HH:MM (24h, chat time zone) or "off".`,
			objectSchema(map[string]any{
				"time": prop("string", `HH:MM or "off"`),
			}, "time"),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			s, err := c.SetDailySummary(chatID, stringArg(args, "time"))
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"daily_summary": s}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("timezone_set",
			"Set the chat's time zone (IANA name, e.g. Europe/Paris). Reminder and summary times use it.",
			objectSchema(map[string]any{
				"timezone": prop("string", "IANA time zone name"),
			}, "timezone"),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			loc, err := c.SetTimezone(chatID, stringArg(args, "timezone"))
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{
				"timezone":   loc.String(),
				"local_time": c.now().In(loc).Format(time.RFC3339),
			}), nil
		}),
	)
}
