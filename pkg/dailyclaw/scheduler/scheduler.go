// Package scheduler fires time-based callbacks for chats: one-shot
// reminders and recurring daily entries. Pending entries live in a min-heap
// and a single timing loop sleeps until the earliest fire time.
//
// Daily entries keep their local time-of-day and zone; the next fire is
// recomputed with robfig/cron after every run, so daylight-saving changes
// move the UTC instant instead of the local time.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultPollInterval caps how long the loop sleeps, so wall-clock jumps
	// (suspend, NTP steps) are noticed.
	DefaultPollInterval = 30 * time.Second

	// DefaultCallbackTimeout bounds a single callback run.
	DefaultCallbackTimeout = time.Minute
)

// ErrStopped is returned when scheduling on a stopped scheduler.
var ErrStopped = errors.New("scheduler: stopped")

// Kind distinguishes one-shot from recurring entries.
type Kind string

const (
	KindOnce  Kind = "once"
	KindDaily Kind = "daily"
)

// Entry is a pending time-triggered action.
type Entry struct {
	// ID is assigned by the scheduler and stays stable across daily runs.
	ID string

	// ChatID is the conversation the entry belongs to.
	ChatID string

	// Tag is an optional caller key, unique per chat. Adding an entry with
	// a tag that already exists in the chat replaces the old entry.
	Tag string

	// Payload is handed back to the handler untouched.
	Payload string

	Kind Kind

	// FireAt is the next absolute fire instant.
	FireAt time.Time

	// At and Location define a daily entry's local time-of-day.
	At       TimeOfDay
	Location *time.Location

	// After, for daily entries, is the instant the first fire is computed
	// from. A value in the past makes a missed run fire immediately.
	After time.Time

	schedule cron.Schedule
	seq      uint64
	index    int
}

// Handler is called when an entry fires.
type Handler func(ctx context.Context, e Entry) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocation sets the zone used by ScheduleDaily.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithCallbackTimeout overrides DefaultCallbackTimeout.
func WithCallbackTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Scheduler owns the pending entries and the timing loop.
type Scheduler struct {
	handler Handler
	logger  *slog.Logger
	now     func() time.Time
	loc     *time.Location
	poll    time.Duration
	timeout time.Duration

	mu    sync.Mutex
	queue entryQueue
	byID  map[string]*Entry
	byTag map[string]*Entry // chatID + "\x00" + tag
	seq   uint64

	// runMu serializes RunDue so entries fire in heap order.
	runMu sync.Mutex

	wakeup  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
}

// New creates a Scheduler that calls handler for every fired entry.
func New(handler Handler, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		handler: handler,
		logger:  logger.With("component", "scheduler"),
		now:     time.Now,
		loc:     time.Local,
		poll:    DefaultPollInterval,
		timeout: DefaultCallbackTimeout,
		byID:    make(map[string]*Entry),
		byTag:   make(map[string]*Entry),
		wakeup:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the zone used by ScheduleDaily.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Now returns the scheduler clock's current time.
func (s *Scheduler) Now() time.Time { return s.now() }

// ScheduleOnce registers a one-shot entry and returns its id.
func (s *Scheduler) ScheduleOnce(chatID string, fireAt time.Time, payload string) (string, error) {
	return s.Add(Entry{ChatID: chatID, Kind: KindOnce, FireAt: fireAt, Payload: payload})
}

// ScheduleDaily registers an entry that fires every day at the given local
// time in the scheduler's location.
func (s *Scheduler) ScheduleDaily(chatID string, at TimeOfDay, payload string) (string, error) {
	return s.Add(Entry{ChatID: chatID, Kind: KindDaily, At: at, Location: s.loc, Payload: payload})
}

// Add registers e and returns its id. One-shot entries need FireAt; daily
// entries need At (Location defaults to the scheduler's).
func (s *Scheduler) Add(e Entry) (string, error) {
	if e.ChatID == "" {
		return "", &SchedulingError{Reason: "chat id is required"}
	}
	if e.Kind == "" {
		e.Kind = KindOnce
	}

	switch e.Kind {
	case KindOnce:
		if e.FireAt.IsZero() {
			return "", &SchedulingError{Reason: "fire time is required"}
		}
	case KindDaily:
		if !e.At.Valid() {
			return "", &SchedulingError{Expr: e.At.String(), Reason: "invalid time of day"}
		}
		if e.Location == nil {
			e.Location = s.loc
		}
		sched, err := dailySchedule(e.At, e.Location)
		if err != nil {
			return "", err
		}
		e.schedule = sched
		from := e.After
		if from.IsZero() {
			from = s.now()
		}
		e.FireAt = sched.Next(from)
	default:
		return "", &SchedulingError{Reason: fmt.Sprintf("unknown entry kind %q", e.Kind)}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", ErrStopped
	}
	if e.Tag != "" {
		if old, ok := s.byTag[tagKey(e.ChatID, e.Tag)]; ok {
			s.removeLocked(old)
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if old, ok := s.byID[e.ID]; ok {
		s.removeLocked(old)
	}
	s.seq++
	e.seq = s.seq
	entry := e
	heap.Push(&s.queue, &entry)
	s.byID[entry.ID] = &entry
	if entry.Tag != "" {
		s.byTag[tagKey(entry.ChatID, entry.Tag)] = &entry
	}
	s.mu.Unlock()

	s.signalWakeup()
	s.logger.Debug("entry scheduled",
		"id", entry.ID,
		"chat_id", entry.ChatID,
		"tag", entry.Tag,
		"kind", entry.Kind,
		"fire_at", entry.FireAt.Format(time.RFC3339),
	)
	return entry.ID, nil
}

// Cancel removes a pending entry. Unknown or already fired ids are ignored.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	s.removeLocked(e)
	s.logger.Debug("entry cancelled", "id", id, "chat_id", e.ChatID)
	return true
}

// CancelTag removes the chat's entry with the given tag, if any.
func (s *Scheduler) CancelTag(chatID, tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byTag[tagKey(chatID, tag)]
	if !ok {
		return false
	}
	s.removeLocked(e)
	return true
}

// CancelMatching removes every entry for which match returns true and
// reports how many were removed.
func (s *Scheduler) CancelMatching(match func(Entry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var victims []*Entry
	for _, e := range s.queue {
		if match(*e) {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		s.removeLocked(e)
	}
	return len(victims)
}

// Lookup returns the chat's entry with the given tag.
func (s *Scheduler) Lookup(chatID, tag string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byTag[tagKey(chatID, tag)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns a snapshot of the pending entries in fire order.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.queue))
	for _, e := range s.queue {
		out = append(out, *e)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].seq < out[j].seq
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Len returns the number of pending entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunDue fires every entry whose fire time is not after the current clock
// time, in (fire time, scheduling order). Daily entries are re-queued for
// their next local occurrence before their handler runs. It returns the
// number of entries fired.
func (s *Scheduler) RunDue(ctx context.Context) int {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	due := s.popDue(s.now())
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		s.fire(ctx, e)
	}
	return len(due)
}

// Start launches the timing loop. It returns an error if already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	pending := len(s.queue)
	s.mu.Unlock()

	go s.loop(ctx)
	s.logger.Info("scheduler started", "entries", pending)
	return nil
}

// Stop ends the timing loop and waits for an in-flight callback.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	close(s.stopCh)
	s.mu.Unlock()

	if started {
		select {
		case <-s.doneCh:
		case <-time.After(10 * time.Second):
			s.logger.Warn("scheduler stop timed out")
		}
	}
	s.logger.Info("scheduler stopped")
}

// ---------- Internal ----------

func tagKey(chatID, tag string) string { return chatID + "\x00" + tag }

func dailySchedule(at TimeOfDay, loc *time.Location) (cron.Schedule, error) {
	spec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", loc.String(), at.Minute, at.Hour)
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, &SchedulingError{Expr: spec, Reason: err.Error()}
	}
	return sched, nil
}

// removeLocked drops e from every index. Caller must hold s.mu.
func (s *Scheduler) removeLocked(e *Entry) {
	if e.index >= 0 && e.index < len(s.queue) && s.queue[e.index] == e {
		heap.Remove(&s.queue, e.index)
	}
	delete(s.byID, e.ID)
	if e.Tag != "" {
		key := tagKey(e.ChatID, e.Tag)
		if s.byTag[key] == e {
			delete(s.byTag, key)
		}
	}
}

func (s *Scheduler) popDue(now time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Entry
	var again []*Entry
	for len(s.queue) > 0 && !s.queue[0].FireAt.After(now) {
		e := heap.Pop(&s.queue).(*Entry)
		due = append(due, *e)

		if e.Kind == KindDaily && e.schedule != nil {
			e.FireAt = e.schedule.Next(now)
			again = append(again, e)
			continue
		}
		delete(s.byID, e.ID)
		if e.Tag != "" {
			key := tagKey(e.ChatID, e.Tag)
			if s.byTag[key] == e {
				delete(s.byTag, key)
			}
		}
	}
	for _, e := range again {
		s.seq++
		e.seq = s.seq
		heap.Push(&s.queue, e)
	}
	return due
}

func (s *Scheduler) peek() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].FireAt, true
}

// fire runs the handler for one entry. Panics and errors are logged and
// never stop the loop.
func (s *Scheduler) fire(ctx context.Context, e Entry) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled entry panicked",
				"id", e.ID, "chat_id", e.ChatID, "panic", r)
		}
	}()

	if s.handler == nil {
		s.logger.Warn("entry fired without handler", "id", e.ID)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.handler(runCtx, e); err != nil {
		s.logger.Error("scheduled entry failed",
			"id", e.ID,
			"chat_id", e.ChatID,
			"kind", e.Kind,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	s.logger.Info("scheduled entry fired",
		"id", e.ID,
		"chat_id", e.ChatID,
		"kind", e.Kind,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	var timer *time.Timer
	for {
		wait := s.poll
		if next, ok := s.peek(); ok {
			if d := next.Sub(s.now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}
		timer = resetTimer(timer, wait)

		select {
		case <-timer.C:
			s.RunDue(ctx)
		case <-s.wakeup:
			continue
		case <-s.stopCh:
			stopTimer(timer)
			return
		case <-ctx.Done():
			stopTimer(timer)
			return
		}
	}
}

func (s *Scheduler) signalWakeup() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

func resetTimer(timer *time.Timer, d time.Duration) *time.Timer {
	if timer == nil {
		return time.NewTimer(d)
	}
	stopTimer(timer)
	timer.Reset(d)
	return timer
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
