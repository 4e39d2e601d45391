package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/scheduler"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

const (
	tagDailySummary = "daily_summary"
	taskTagPrefix   = "task:"

	// settingDailySummaryLastSent records the last summary delivery so a
	// run missed while the process was down fires on the next start.
	settingDailySummaryLastSent = "daily_summary_last_sent"
)

func taskTag(id string) string { return taskTagPrefix + id }

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID, text string) error

func (f SenderFunc) SendText(ctx context.Context, chatID, text string) error { return f(ctx, chatID, text) }

// Reminders turns fired scheduler entries into chat messages.
type Reminders struct {
	store  *store.Store
	sender Sender
	now    func() time.Time
	logger *slog.Logger
}

// NewReminders creates the scheduler handler. sender may be set later with
// SetSender, before the scheduler starts.
func NewReminders(st *store.Store, sender Sender, logger *slog.Logger) *Reminders {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reminders{
		store:  st,
		sender: sender,
		now:    time.Now,
		logger: logger.With("component", "reminders"),
	}
}

// SetSender replaces the outbound sender.
func (r *Reminders) SetSender(s Sender) { r.sender = s }

// Fire is the scheduler.Handler for reminder and daily summary entries.
func (r *Reminders) Fire(ctx context.Context, e scheduler.Entry) error {
	if r.sender == nil {
		return fmt.Errorf("reminders: no sender configured")
	}
	switch {
	case e.Tag == tagDailySummary:
		return r.sendDailySummary(ctx, e.ChatID, e.FireAt)
	case strings.HasPrefix(e.Tag, taskTagPrefix):
		return r.sendTaskReminder(ctx, e.ChatID, strings.TrimPrefix(e.Tag, taskTagPrefix), e.Payload)
	default:
		if e.Payload == "" {
			return nil
		}
		return r.sender.SendText(ctx, e.ChatID, e.Payload)
	}
}

// sendTaskReminder delivers "Reminder: <title>" unless the task was deleted,
// completed, already reminded, or rescheduled since the entry was queued.
func (r *Reminders) sendTaskReminder(ctx context.Context, chatID, taskID, remindAt string) error {
	tasks, err := store.Load[store.Task](r.store, chatID, store.Tasks)
	if err != nil {
		return err
	}
	i := store.FindTask(tasks, taskID)
	if i < 0 {
		r.logger.Debug("reminder skipped, task gone", "chat_id", chatID, "task_id", taskID)
		return nil
	}
	t := tasks[i]
	if !t.ReminderPending() || reminderStamp(*t.RemindAt) != remindAt {
		r.logger.Debug("reminder skipped, task changed", "chat_id", chatID, "task_id", taskID)
		return nil
	}

	if err := r.sender.SendText(ctx, chatID, "Reminder: "+t.Title); err != nil {
		return fmt.Errorf("sending reminder: %w", err)
	}

	sent := r.now()
	_, err = store.Update(r.store, chatID, store.Tasks, func(tasks []store.Task) ([]store.Task, error) {
		if i := store.FindTask(tasks, taskID); i >= 0 {
			tasks[i].RemindedAt = &sent
		}
		return tasks, nil
	})
	return err
}

// sendDailySummary delivers the summary for the run scheduled at slot. A
// slot already covered by daily_summary_last_sent is skipped, so an entry
// re-added by a resync while the previous send was in flight does not send
// twice.
func (r *Reminders) sendDailySummary(ctx context.Context, chatID string, slot time.Time) error {
	settings, err := store.Load[store.Setting](r.store, chatID, store.Settings)
	if err != nil {
		return err
	}
	if last, ok := store.GetSetting(settings, settingDailySummaryLastSent); ok && !slot.IsZero() {
		if sent, err := time.Parse(time.RFC3339, last); err == nil && !sent.Before(slot) {
			r.logger.Debug("daily summary skipped, already sent", "chat_id", chatID, "slot", slot)
			return nil
		}
	}

	tasks, err := store.Load[store.Task](r.store, chatID, store.Tasks)
	if err != nil {
		return err
	}
	if err := r.sender.SendText(ctx, chatID, DailySummaryText(tasks)); err != nil {
		return fmt.Errorf("sending daily summary: %w", err)
	}
	sent := r.now()
	_, err = store.Update(r.store, chatID, store.Settings, func(settings []store.Setting) ([]store.Setting, error) {
		return store.PutSetting(settings, settingDailySummaryLastSent, sent.UTC().Format(time.RFC3339), sent), nil
	})
	return err
}

// DailySummaryText renders the pending tasks, high priority first.
func DailySummaryText(tasks []store.Task) string {
	var pending []store.Task
	high := 0
	for _, t := range tasks {
		if t.Completed {
			continue
		}
		pending = append(pending, t)
		if t.Priority == store.PriorityHigh {
			high++
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority.Rank() < pending[j].Priority.Rank()
	})

	var b strings.Builder
	b.WriteString("Daily summary\n")
	fmt.Fprintf(&b, "Pending: %d (High: %d)", len(pending), high)
	for _, t := range pending {
		fmt.Fprintf(&b, "\n- [%s] %s", t.Priority.Label(), t.Title)
	}
	return b.String()
}

// reminderStamp identifies a reminder time in entry payloads.
func reminderStamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// ---------- Scheduling ----------

func (c *Catalog) scheduleTaskReminder(chatID string, t store.Task) {
	if t.RemindAt == nil {
		return
	}
	_, err := c.sched.Add(scheduler.Entry{
		ChatID:  chatID,
		Tag:     taskTag(t.ID),
		Kind:    scheduler.KindOnce,
		FireAt:  *t.RemindAt,
		Payload: reminderStamp(*t.RemindAt),
	})
	if err != nil {
		c.logger.Warn("failed to schedule reminder", "chat_id", chatID, "task_id", t.ID, "error", err)
	}
}

func (c *Catalog) scheduleDailySummary(chatID string, at scheduler.TimeOfDay, loc *time.Location, after time.Time) (scheduler.Entry, error) {
	_, err := c.sched.Add(scheduler.Entry{
		ChatID:   chatID,
		Tag:      tagDailySummary,
		Kind:     scheduler.KindDaily,
		At:       at,
		Location: loc,
		After:    after,
	})
	if err != nil {
		return scheduler.Entry{}, err
	}
	e, _ := c.sched.Lookup(chatID, tagDailySummary)
	return e, nil
}

// Restore re-registers every unsent task reminder and configured daily
// summary found in the store. Past-due reminders fire on the next
// scheduler pass. Returns the number of entries scheduled.
func (c *Catalog) Restore() (int, error) {
	count := 0

	taskChats, err := c.store.Chats(store.Tasks)
	if err != nil {
		return 0, err
	}
	for _, chatID := range taskChats {
		tasks, err := store.Load[store.Task](c.store, chatID, store.Tasks)
		if err != nil {
			c.logger.Warn("skipping tasks on restore", "chat_id", chatID, "error", err)
			continue
		}
		for _, t := range tasks {
			if t.ReminderPending() {
				c.scheduleTaskReminder(chatID, t)
				count++
			}
		}
	}

	settingChats, err := c.store.Chats(store.Settings)
	if err != nil {
		return count, err
	}
	for _, chatID := range settingChats {
		settings, err := store.Load[store.Setting](c.store, chatID, store.Settings)
		if err != nil {
			c.logger.Warn("skipping settings on restore", "chat_id", chatID, "error", err)
			continue
		}
		value, ok := store.GetSetting(settings, store.SettingDailySummaryTime)
		if !ok || value == "" {
			// Turned off, possibly by another process.
			c.sched.CancelTag(chatID, tagDailySummary)
			continue
		}
		at, err := scheduler.ParseTimeOfDay(value)
		if err != nil {
			c.logger.Warn("ignoring invalid daily summary time", "chat_id", chatID, "value", value)
			continue
		}
		loc := c.displayLocation(chatID)
		var after time.Time
		if last, ok := store.GetSetting(settings, settingDailySummaryLastSent); ok {
			after, _ = time.Parse(time.RFC3339, last)
		}
		if after.IsZero() {
			if updated, ok := settingUpdatedAt(settings, store.SettingDailySummaryTime); ok {
				after = updated
			}
		}
		if _, err := c.scheduleDailySummary(chatID, at, loc, after); err != nil {
			c.logger.Warn("failed to restore daily summary", "chat_id", chatID, "error", err)
			continue
		}
		count++
	}

	c.logger.Debug("scheduled entries restored", "count", count)
	return count, nil
}

func settingUpdatedAt(settings []store.Setting, key string) (time.Time, bool) {
	for _, s := range settings {
		if s.Key == key {
			return s.UpdatedAt, !s.UpdatedAt.IsZero()
		}
	}
	return time.Time{}, false
}
