package copilot

import (
	"context"
	"strings"
	"time"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/scheduler"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

// TaskView is the tool-facing rendering of a task.
type TaskView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	Completed   bool   `json:"completed"`
	RemindAt    string `json:"remind_at,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func newTaskView(t store.Task, loc *time.Location) TaskView {
	return TaskView{
		ID:          t.ID,
		Title:       t.Title,
		Priority:    t.Priority.Label(),
		Status:      t.Status(),
		Completed:   t.Completed,
		RemindAt:    formatLocal(t.RemindAt, loc),
		CreatedAt:   t.CreatedAt.In(loc).Format(time.RFC3339),
		CompletedAt: formatLocal(t.CompletedAt, loc),
	}
}

// TaskSummary aggregates a chat's tasks.
type TaskSummary struct {
	Total               int            `json:"total"`
	Pending             int            `json:"pending"`
	Completed           int            `json:"completed"`
	HighPriorityPending int            `json:"high_priority_pending"`
	PendingByPriority   map[string]int `json:"pending_by_priority"`
}

// AddTask creates a task. remindAt, when set, is parsed before anything is
// written and schedules a reminder.
func (c *Catalog) AddTask(chatID, title, priority, remindAt string) (store.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Task{}, invalid("title", "is required")
	}
	loc, err := c.Location(chatID)
	if err != nil {
		return store.Task{}, err
	}
	now := c.now()

	var remind *time.Time
	if remindAt != "" {
		at, err := scheduler.ParseReminderTime(remindAt, now, loc)
		if err != nil {
			return store.Task{}, err
		}
		remind = &at
	}
	return c.createTask(chatID, title, store.ParsePriority(priority), remind)
}

func (c *Catalog) createTask(chatID, title string, priority store.Priority, remind *time.Time) (store.Task, error) {
	now := c.now()
	var created store.Task
	_, err := store.Update(c.store, chatID, store.Tasks, func(tasks []store.Task) ([]store.Task, error) {
		created = store.Task{
			ID:        store.NewID(func(id string) bool { return store.FindTask(tasks, id) >= 0 }),
			Title:     title,
			Priority:  priority,
			RemindAt:  remind,
			CreatedAt: now,
		}
		return append(tasks, created), nil
	})
	if err != nil {
		return store.Task{}, err
	}

	if created.ReminderPending() {
		c.scheduleTaskReminder(chatID, created)
	}
	return created, nil
}

// ListTasks returns the chat's tasks in creation order, filtered by status
// (pending, completed or all; empty means pending).
func (c *Catalog) ListTasks(chatID, status string) ([]store.Task, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "":
		status = "pending"
	case "pending", "completed", "all":
	case "done":
		status = "completed"
	default:
		return nil, invalid("status", "must be pending, completed or all")
	}

	tasks, err := store.Load[store.Task](c.store, chatID, store.Tasks)
	if err != nil {
		return nil, err
	}
	if status == "all" {
		return tasks, nil
	}
	out := make([]store.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status() == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// CompleteTask marks a task completed and drops its pending reminder.
func (c *Catalog) CompleteTask(chatID, id string) (store.Task, error) {
	var done store.Task
	now := c.now()
	_, err := store.Update(c.store, chatID, store.Tasks, func(tasks []store.Task) ([]store.Task, error) {
		i := store.FindTask(tasks, id)
		if i < 0 {
			return nil, &NotFoundError{Kind: "task", Ref: id}
		}
		if !tasks[i].Completed {
			tasks[i].Completed = true
			tasks[i].CompletedAt = &now
		}
		done = tasks[i]
		return tasks, nil
	})
	if err != nil {
		return store.Task{}, err
	}
	c.sched.CancelTag(chatID, taskTag(done.ID))
	return done, nil
}

// DeleteTask removes a task and cancels its reminder.
func (c *Catalog) DeleteTask(chatID, id string) (store.Task, error) {
	var removed store.Task
	_, err := store.Update(c.store, chatID, store.Tasks, func(tasks []store.Task) ([]store.Task, error) {
		i := store.FindTask(tasks, id)
		if i < 0 {
			return nil, &NotFoundError{Kind: "task", Ref: id}
		}
		removed = tasks[i]
		return append(tasks[:i], tasks[i+1:]...), nil
	})
	if err != nil {
		return store.Task{}, err
	}
	c.sched.CancelTag(chatID, taskTag(removed.ID))
	return removed, nil
}

// SummarizeTasks counts the chat's tasks. It never writes.
func (c *Catalog) SummarizeTasks(chatID string) (TaskSummary, error) {
	tasks, err := store.Load[store.Task](c.store, chatID, store.Tasks)
	if err != nil {
		return TaskSummary{}, err
	}
	s := TaskSummary{
		Total: len(tasks),
		PendingByPriority: map[string]int{
			string(store.PriorityHigh):   0,
			string(store.PriorityMedium): 0,
			string(store.PriorityLow):    0,
		},
	}
	for _, t := range tasks {
		if t.Completed {
			s.Completed++
			continue
		}
		s.Pending++
		s.PendingByPriority[string(store.ParsePriority(string(t.Priority)))]++
		if t.Priority == store.PriorityHigh {
			s.HighPriorityPending++
		}
	}
	return s, nil
}

func (c *Catalog) registerTaskTools(e *ToolExecutor) {
	e.Register(
		MakeToolDefinition("task_add",
			"Add a new task. Infer the priority from context when not given. Optionally set a reminder time.",
			objectSchema(map[string]any{
				"title":     prop("string", "What needs to be done"),
				"priority":  enumProp("Task priority (default medium)", "low", "medium", "high"),
				"remind_at": prop("string", `Optional reminder time: ISO 8601 or phrases like "in 30 minutes", "tomorrow at 9am"`),
			}, "title"),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			title := stringArg(args, "title")
			if title == "" {
				title = stringArg(args, "text")
			}
			t, err := c.AddTask(chatID, title, stringArg(args, "priority"), stringArg(args, "remind_at"))
			if err != nil {
				return nil, err
			}
			loc := c.displayLocation(chatID)
			return okResult(map[string]any{"task": newTaskView(t, loc)}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("task_list",
			"List tasks. Pending tasks by default.",
			objectSchema(map[string]any{
				"status": enumProp("Which tasks to list (default pending)", "pending", "completed", "all"),
			}),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			tasks, err := c.ListTasks(chatID, stringArg(args, "status"))
			if err != nil {
				return nil, err
			}
			loc := c.displayLocation(chatID)
			views := make([]TaskView, len(tasks))
			for i, t := range tasks {
				views[i] = newTaskView(t, loc)
			}
			return okResult(map[string]any{"count": len(views), "tasks": views}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("task_complete",
			"Mark a task as completed.",
			objectSchema(map[string]any{
				"task_id": prop("string", "Task id"),
			}, "task_id"),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			id, err := requireTaskID(args)
			if err != nil {
				return nil, err
			}
			t, err := c.CompleteTask(chatID, id)
			if err != nil {
				return nil, err
			}
			loc := c.displayLocation(chatID)
			return okResult(map[string]any{"task": newTaskView(t, loc)}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("task_delete",
			"Delete a task.",
			objectSchema(map[string]any{
				"task_id": prop("string", "Task id"),
			}, "task_id"),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			id, err := requireTaskID(args)
			if err != nil {
				return nil, err
			}
			t, err := c.DeleteTask(chatID, id)
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"deleted": map[string]string{"id": t.ID, "title": t.Title}}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("task_summary",
			"Get task statistics: totals, pending by priority.",
			objectSchema(map[string]any{}),
		),
		handler(func(_ context.Context, chatID string, _ map[string]any) (any, error) {
			s, err := c.SummarizeTasks(chatID)
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"summary": s}), nil
		}),
	)
}

func requireTaskID(args map[string]any) (string, error) {
	for _, key := range []string{"task_id", "id"} {
		if id := stringArg(args, key); id != "" {
			return id, nil
		}
	}
	return "", invalid("task_id", "is required")
}
