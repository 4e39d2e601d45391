package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type recorder struct {
	mu    sync.Mutex
	fired []Entry
}

func (r *recorder) handle(_ context.Context, e Entry) error {
	r.mu.Lock()
	r.fired = append(r.fired, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.fired))
	for i, e := range r.fired {
		out[i] = e.Payload
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, start time.Time, h Handler, opts ...Option) (*Scheduler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: start}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s := New(h, quietLogger(), opts...)
	t.Cleanup(s.Stop)
	return s, clock
}

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestScheduleOnceFiresAtDueTime(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &recorder{}
	s, clock := newTestScheduler(t, start, rec.handle)
	ctx := context.Background()

	if _, err := s.ScheduleOnce("telegram:1", start.Add(5*time.Minute), "water plants"); err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}

	clock.Advance(4*time.Minute + 59*time.Second)
	if n := s.RunDue(ctx); n != 0 {
		t.Fatalf("fired %d entries before due time", n)
	}

	clock.Advance(time.Second)
	if n := s.RunDue(ctx); n != 1 {
		t.Fatalf("expected 1 fire at due time, got %d", n)
	}

	clock.Advance(time.Hour)
	if n := s.RunDue(ctx); n != 0 {
		t.Fatalf("one-shot entry fired again: %d", n)
	}
	if got := rec.payloads(); len(got) != 1 || got[0] != "water plants" {
		t.Fatalf("fired payloads = %v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", s.Len())
	}
}

func TestEqualFireTimesRunInSchedulingOrder(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &recorder{}
	s, clock := newTestScheduler(t, start, rec.handle)

	at := start.Add(time.Minute)
	for _, p := range []string{"A", "B", "C"} {
		if _, err := s.ScheduleOnce("c", at, p); err != nil {
			t.Fatal(err)
		}
	}
	// An earlier entry scheduled last still runs first.
	if _, err := s.ScheduleOnce("c", at.Add(-time.Second), "first"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute)
	s.RunDue(context.Background())

	got := rec.payloads()
	want := []string{"first", "A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("payloads = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payloads = %v, want %v", got, want)
		}
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &recorder{}
	s, clock := newTestScheduler(t, start, rec.handle)
	ctx := context.Background()

	keep, _ := s.ScheduleOnce("c", start.Add(time.Minute), "keep")
	drop, _ := s.ScheduleOnce("c", start.Add(time.Minute), "drop")

	if !s.Cancel(drop) {
		t.Fatal("Cancel of pending entry returned false")
	}
	if s.Cancel("does-not-exist") {
		t.Fatal("Cancel of unknown id returned true")
	}

	clock.Advance(time.Minute)
	s.RunDue(ctx)

	// Cancel after fire is a silent no-op and does not fire again.
	if s.Cancel(keep) {
		t.Fatal("Cancel after fire returned true")
	}
	clock.Advance(time.Minute)
	s.RunDue(ctx)

	if got := rec.payloads(); len(got) != 1 || got[0] != "keep" {
		t.Fatalf("payloads = %v", got)
	}
}

func TestTagReplacesExistingEntry(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &recorder{}
	s, clock := newTestScheduler(t, start, rec.handle)

	if _, err := s.Add(Entry{ChatID: "c", Tag: "task:1", FireAt: start.Add(time.Minute), Payload: "old"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(Entry{ChatID: "c", Tag: "task:1", FireAt: start.Add(2 * time.Minute), Payload: "new"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(Entry{ChatID: "other", Tag: "task:1", FireAt: start.Add(time.Minute), Payload: "other chat"}); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 pending entries, got %d", s.Len())
	}
	if e, ok := s.Lookup("c", "task:1"); !ok || e.Payload != "new" {
		t.Fatalf("Lookup = %+v, %v", e, ok)
	}

	clock.Advance(2 * time.Minute)
	s.RunDue(context.Background())
	if got := rec.payloads(); len(got) != 2 || got[0] != "other chat" || got[1] != "new" {
		t.Fatalf("payloads = %v", got)
	}
	if _, ok := s.Lookup("c", "task:1"); ok {
		t.Fatal("fired one-shot entry still indexed by tag")
	}
}

func TestCancelMatching(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, start, nil)

	for _, chat := range []string{"a", "a", "b"} {
		if _, err := s.ScheduleOnce(chat, start.Add(time.Hour), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if n := s.CancelMatching(func(e Entry) bool { return e.ChatID == "a" }); n != 2 {
		t.Fatalf("cancelled %d, want 2", n)
	}
	if entries := s.Entries(); len(entries) != 1 || entries[0].ChatID != "b" {
		t.Fatalf("remaining entries = %+v", entries)
	}
}

func TestDailyEntryKeepsLocalTimeAcrossDST(t *testing.T) {
	t.Parallel()
	loc := paris(t)
	// Two days before the spring-forward night of 2025-03-30.
	start := time.Date(2025, 3, 28, 12, 0, 0, 0, loc)
	rec := &recorder{}
	s, clock := newTestScheduler(t, start, rec.handle, WithLocation(loc))

	id, err := s.ScheduleDaily("c", TimeOfDay{Hour: 8}, "summary")
	if err != nil {
		t.Fatalf("ScheduleDaily: %v", err)
	}

	wantUTC := []time.Time{
		time.Date(2025, 3, 29, 7, 0, 0, 0, time.UTC), // CET
		time.Date(2025, 3, 30, 6, 0, 0, 0, time.UTC), // CEST
		time.Date(2025, 3, 31, 6, 0, 0, 0, time.UTC),
	}
	for i, want := range wantUTC {
		entries := s.Entries()
		if len(entries) != 1 || entries[0].ID != id {
			t.Fatalf("step %d: entries = %+v", i, entries)
		}
		got := entries[0].FireAt
		if !got.Equal(want) {
			t.Fatalf("step %d: fire at %s, want %s", i, got.UTC(), want)
		}
		if h := got.In(loc).Hour(); h != 8 {
			t.Fatalf("step %d: local hour = %d, want 8", i, h)
		}
		clock.Set(got)
		if n := s.RunDue(context.Background()); n != 1 {
			t.Fatalf("step %d: fired %d", i, n)
		}
	}
	if len(rec.payloads()) != len(wantUTC) {
		t.Fatalf("fired %d times, want %d", len(rec.payloads()), len(wantUTC))
	}
}

func TestDailyEntryAfterFiresMissedRun(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	rec := &recorder{}
	s, clock := newTestScheduler(t, start, rec.handle, WithLocation(time.UTC))

	// Last run happened yesterday at 08:00, so today's 08:00 was missed.
	_, err := s.Add(Entry{
		ChatID: "c",
		Kind:   KindDaily,
		At:     TimeOfDay{Hour: 8},
		After:  time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := s.RunDue(context.Background()); n != 1 {
		t.Fatalf("missed run fired %d times, want 1", n)
	}
	next := s.Entries()[0].FireAt
	if want := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next fire = %s, want %s", next, want)
	}
	clock.Advance(time.Hour)
	if n := s.RunDue(context.Background()); n != 0 {
		t.Fatalf("daily entry fired twice in one day")
	}
}

func TestFailingEntryDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	var ok []string
	handler := func(_ context.Context, e Entry) error {
		switch e.Payload {
		case "panic":
			panic("boom")
		case "error":
			return errors.New("send failed")
		}
		mu.Lock()
		ok = append(ok, e.Payload)
		mu.Unlock()
		return nil
	}
	s, clock := newTestScheduler(t, start, handler)

	for _, p := range []string{"panic", "error", "fine"} {
		if _, err := s.ScheduleOnce("c", start.Add(time.Second), p); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(time.Second)
	if n := s.RunDue(context.Background()); n != 3 {
		t.Fatalf("fired %d, want 3", n)
	}
	if len(ok) != 1 || ok[0] != "fine" {
		t.Fatalf("healthy entry did not run: %v", ok)
	}
}

func TestAddValidation(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, time.Now(), nil)

	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing chat", Entry{FireAt: time.Now()}},
		{"missing fire time", Entry{ChatID: "c"}},
		{"bad time of day", Entry{ChatID: "c", Kind: KindDaily, At: TimeOfDay{Hour: 25}}},
		{"unknown kind", Entry{ChatID: "c", Kind: "weekly", FireAt: time.Now()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Add(tt.entry); !IsSchedulingError(err) {
				t.Fatalf("expected SchedulingError, got %v", err)
			}
		})
	}
}

func TestLoopFiresInRealTime(t *testing.T) {
	t.Parallel()
	fired := make(chan string, 4)
	s := New(func(_ context.Context, e Entry) error {
		fired <- e.Payload
		return nil
	}, quietLogger(), WithPollInterval(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatal("second Start succeeded")
	}

	if _, err := s.ScheduleOnce("c", time.Now().Add(80*time.Millisecond), "late"); err != nil {
		t.Fatal(err)
	}
	// Scheduled after the loop went to sleep; the wakeup must pull it in.
	if _, err := s.ScheduleOnce("c", time.Now().Add(20*time.Millisecond), "early"); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"early", "late"} {
		select {
		case got := <-fired:
			if got != want {
				t.Fatalf("fired %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	s.Stop()
	if _, err := s.ScheduleOnce("c", time.Now().Add(time.Second), "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
}
