package copilot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/scheduler"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

func TestReminderFires(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.catalog.AddTask("telegram:1", "call the dentist", "high", "in 5 minutes")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if n := env.sched.RunDue(ctx); n != 0 {
		t.Fatalf("fired %d entries before the reminder was due", n)
	}
	env.clock.Advance(5 * time.Minute)
	if n := env.sched.RunDue(ctx); n != 1 {
		t.Fatalf("RunDue fired %d entries, want 1", n)
	}

	sent := env.sender.messages()
	if len(sent) != 1 || sent[0].ChatID != "telegram:1" || sent[0].Text != "Reminder: call the dentist" {
		t.Fatalf("sent = %+v", sent)
	}

	tasks, _ := store.Load[store.Task](env.store, "telegram:1", store.Tasks)
	i := store.FindTask(tasks, task.ID)
	if tasks[i].RemindedAt == nil {
		t.Error("reminded_at not recorded")
	}
	if tasks[i].ReminderPending() {
		t.Error("reminder still pending after delivery")
	}
}

func TestReminderSkipsCompletedTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	task, err := env.catalog.AddTask("c", "pay rent", "", "in 1 hour")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	entry, _ := env.sched.Lookup("c", taskTag(task.ID))

	if _, err := env.catalog.CompleteTask("c", task.ID); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	// Deliver the stale entry directly, as if it had been popped before
	// the task was completed.
	if err := env.reminders.Fire(context.Background(), entry); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if sent := env.sender.messages(); len(sent) != 0 {
		t.Errorf("completed task was reminded: %+v", sent)
	}
}

func TestReminderSkipsRescheduledEntry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	task, err := env.catalog.AddTask("c", "stretch", "", "in 10 minutes")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	stale, _ := env.sched.Lookup("c", taskTag(task.ID))
	if _, err := env.catalog.SetReminder("c", task.ID, "", "in 2 hours"); err != nil {
		t.Fatalf("SetReminder: %v", err)
	}

	if err := env.reminders.Fire(context.Background(), stale); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if sent := env.sender.messages(); len(sent) != 0 {
		t.Errorf("stale entry delivered: %+v", sent)
	}

	env.clock.Advance(2 * time.Hour)
	env.sched.RunDue(context.Background())
	if sent := env.sender.messages(); len(sent) != 1 {
		t.Errorf("rescheduled reminder not delivered: %+v", sent)
	}
}

func TestReminderSendFailureKeepsPending(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.sender.err = errors.New("network down")

	task, err := env.catalog.AddTask("c", "water plants", "", "in 1 minute")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	env.clock.Advance(time.Minute)
	env.sched.RunDue(context.Background())

	tasks, _ := store.Load[store.Task](env.store, "c", store.Tasks)
	if !tasks[store.FindTask(tasks, task.ID)].ReminderPending() {
		t.Error("failed delivery marked the reminder as sent")
	}
}

func TestDailySummaryFires(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, p := range []string{"low", "high"} {
		if _, err := env.catalog.AddTask("c", p+" task", p, ""); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}
	if _, err := env.catalog.SetDailySummary("c", "10:30"); err != nil {
		t.Fatalf("SetDailySummary: %v", err)
	}

	env.clock.Advance(30 * time.Minute)
	if n := env.sched.RunDue(context.Background()); n != 1 {
		t.Fatalf("RunDue = %d", n)
	}
	sent := env.sender.messages()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v", sent)
	}
	want := "Daily summary\nPending: 2 (High: 1)\n- [HIGH] high task\n- [LOW] low task"
	if sent[0].Text != want {
		t.Errorf("summary =\n%s\nwant\n%s", sent[0].Text, want)
	}

	e, ok := env.sched.Lookup("c", tagDailySummary)
	if !ok {
		t.Fatal("daily summary not re-queued")
	}
	if want := time.Date(2025, 3, 6, 10, 30, 0, 0, paris(t)); !e.FireAt.Equal(want) {
		t.Errorf("next run = %s, want %s", e.FireAt, want)
	}
}

func TestDailySummaryText(t *testing.T) {
	t.Parallel()
	got := DailySummaryText(nil)
	if got != "Daily summary\nPending: 0 (High: 0)" {
		t.Errorf("empty summary = %q", got)
	}

	tasks := []store.Task{
		{Title: "a", Priority: store.PriorityMedium},
		{Title: "b", Priority: store.PriorityHigh, Completed: true},
		{Title: "c", Priority: store.PriorityMedium},
	}
	got = DailySummaryText(tasks)
	if strings.Contains(got, "] b") {
		t.Errorf("completed task listed: %q", got)
	}
	if !strings.HasSuffix(got, "- [MED] a\n- [MED] c") {
		t.Errorf("stable order lost: %q", got)
	}
}

func TestRestore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	pending, err := env.catalog.AddTask("telegram:1", "pending", "", "in 1 hour")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	done, err := env.catalog.AddTask("telegram:1", "done", "", "in 1 hour")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := env.catalog.CompleteTask("telegram:1", done.ID); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if _, err := env.catalog.SetDailySummary("discord:9", "08:00"); err != nil {
		t.Fatalf("SetDailySummary: %v", err)
	}

	// A restart: new scheduler and catalog over the same store.
	sched := scheduler.New(env.reminders.Fire, quietLogger(),
		scheduler.WithClock(env.clock.Now), scheduler.WithLocation(paris(t)))
	t.Cleanup(sched.Stop)
	restored := NewCatalog(env.store, sched, quietLogger())

	n, err := restored.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 || sched.Len() != 2 {
		t.Fatalf("Restore scheduled %d (queue %d), want 2", n, sched.Len())
	}
	if _, ok := sched.Lookup("telegram:1", taskTag(pending.ID)); !ok {
		t.Error("pending reminder not restored")
	}
	if _, ok := sched.Lookup("telegram:1", taskTag(done.ID)); ok {
		t.Error("completed task reminder restored")
	}
	if _, ok := sched.Lookup("discord:9", tagDailySummary); !ok {
		t.Error("daily summary not restored")
	}
}

func TestRestoreFiresMissedReminder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	if _, err := env.catalog.AddTask("c", "missed", "", "in 1 minute"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	env.clock.Advance(time.Hour)

	sched := scheduler.New(env.reminders.Fire, quietLogger(),
		scheduler.WithClock(env.clock.Now), scheduler.WithLocation(paris(t)))
	t.Cleanup(sched.Stop)
	if _, err := NewCatalog(env.store, sched, quietLogger()).Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n := sched.RunDue(context.Background()); n != 1 {
		t.Fatalf("RunDue = %d, want the missed reminder", n)
	}
	if sent := env.sender.messages(); len(sent) != 1 || sent[0].Text != "Reminder: missed" {
		t.Errorf("sent = %+v", sent)
	}
}

// gatedSender blocks every send until release is closed.
type gatedSender struct {
	recordingSender
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSender) SendText(ctx context.Context, chatID, text string) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.recordingSender.SendText(ctx, chatID, text)
}

func TestDailySummaryNotResentAfterResync(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	gate := &gatedSender{entered: make(chan struct{}, 1), release: make(chan struct{})}
	env.reminders.SetSender(gate)

	if _, err := env.catalog.SetDailySummary("c", "10:30"); err != nil {
		t.Fatalf("SetDailySummary: %v", err)
	}
	env.clock.Advance(30 * time.Minute)

	done := make(chan int)
	go func() { done <- env.sched.RunDue(context.Background()) }()

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("summary send never started")
	}
	// A resync while the send is in flight re-adds the entry from the old
	// last-sent mark, which puts today's slot back in the queue.
	if _, err := env.catalog.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	close(gate.release)
	if n := <-done; n != 1 {
		t.Fatalf("first RunDue = %d", n)
	}

	env.sched.RunDue(context.Background())
	if sent := gate.messages(); len(sent) != 1 {
		t.Fatalf("summary sent %d times, want 1", len(sent))
	}

	e, ok := env.sched.Lookup("c", tagDailySummary)
	if !ok || !e.FireAt.Equal(time.Date(2025, 3, 6, 10, 30, 0, 0, paris(t))) {
		t.Errorf("next run = %+v, %v", e.FireAt, ok)
	}

	// The next day still fires.
	env.clock.Advance(24 * time.Hour)
	env.sched.RunDue(context.Background())
	if sent := gate.messages(); len(sent) != 2 {
		t.Errorf("next day's summary not sent: %d", len(sent))
	}
}
