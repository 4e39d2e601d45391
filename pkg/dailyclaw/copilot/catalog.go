package copilot

import (
	"context"
	"log/slog"
	"time"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/scheduler"
	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

const dateLayout = "2006-01-02"

// Catalog implements the assistant's tools on top of the per-chat store and
// the scheduler. It holds no records itself: every call reads the current
// collection from the store and writes it back in full.
type Catalog struct {
	store  *store.Store
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewCatalog creates a catalog. The scheduler also supplies the clock and
// the default time zone.
func NewCatalog(st *store.Store, sched *scheduler.Scheduler, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:  st,
		sched:  sched,
		logger: logger.With("component", "catalog"),
	}
}

// Register adds every catalog tool to e.
func (c *Catalog) Register(e *ToolExecutor) {
	c.registerTaskTools(e)
	c.registerReminderTools(e)
	c.registerWorkoutTools(e)
	c.registerGroceryTools(e)
}

func (c *Catalog) now() time.Time { return c.sched.Now() }

// Location returns the chat's configured time zone, falling back to the
// scheduler's default.
func (c *Catalog) Location(chatID string) (*time.Location, error) {
	return chatLocation(c.store, chatID, c.sched.Location())
}

// displayLocation is Location for rendering output; read errors fall back
// to the default zone.
func (c *Catalog) displayLocation(chatID string) *time.Location {
	loc, err := c.Location(chatID)
	if err != nil {
		return c.sched.Location()
	}
	return loc
}

func chatLocation(st *store.Store, chatID string, fallback *time.Location) (*time.Location, error) {
	settings, err := store.Load[store.Setting](st, chatID, store.Settings)
	if err != nil {
		return nil, err
	}
	if name, ok := store.GetSetting(settings, store.SettingTimezone); ok && name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc, nil
		}
	}
	return fallback, nil
}

// chatFrom returns the chat bound to ctx.
func chatFrom(ctx context.Context) (string, error) {
	id := ChatFromContext(ctx)
	if id == "" {
		return "", invalid("chat_id", "is required")
	}
	return id, nil
}

// handler adapts a chat-scoped operation to a ToolHandlerFunc.
func handler(fn func(ctx context.Context, chatID string, args map[string]any) (any, error)) ToolHandlerFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		chatID, err := chatFrom(ctx)
		if err != nil {
			return nil, err
		}
		return fn(ctx, chatID, args)
	}
}

// objectSchema builds a JSON Schema object with the given properties.
func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func enumProp(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func formatLocal(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}

// normalizeDate resolves today/yesterday/tomorrow and validates YYYY-MM-DD.
// Empty input returns "".
func normalizeDate(field, value string, now time.Time) (string, error) {
	switch value {
	case "":
		return "", nil
	case "today":
		return now.Format(dateLayout), nil
	case "yesterday":
		return now.AddDate(0, 0, -1).Format(dateLayout), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, value); err != nil {
		return "", invalid(field, "expected YYYY-MM-DD, today, yesterday or tomorrow, got %q", value)
	}
	return value, nil
}

func okResult(fields map[string]any) map[string]any {
	out := map[string]any{"status": "ok"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
