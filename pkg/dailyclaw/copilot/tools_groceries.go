package copilot

import (
	"context"
	"strings"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

// GroceryInput is one item to add.
type GroceryInput struct {
	Name     string
	Quantity string
	Unit     string
}

// AddGroceries appends items to the chat's list.
func (c *Catalog) AddGroceries(chatID string, items []GroceryInput) ([]store.GroceryItem, error) {
	if len(items) == 0 {
		return nil, invalid("name", "item name is required")
	}
	for _, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return nil, invalid("name", "item name is required")
		}
	}

	now := c.now()
	var created []store.GroceryItem
	_, err := store.Update(c.store, chatID, store.Groceries, func(list []store.GroceryItem) ([]store.GroceryItem, error) {
		created = created[:0]
		for _, it := range items {
			item := store.GroceryItem{
				ID:        store.NewID(func(id string) bool { return findGrocery(list, id) >= 0 }),
				Name:      strings.TrimSpace(it.Name),
				Quantity:  strings.TrimSpace(it.Quantity),
				Unit:      strings.TrimSpace(it.Unit),
				CreatedAt: now,
			}
			list = append(list, item)
			created = append(created, item)
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListGroceries returns the chat's list in insertion order.
func (c *Catalog) ListGroceries(chatID string) ([]store.GroceryItem, error) {
	return store.Load[store.GroceryItem](c.store, chatID, store.Groceries)
}

// RemoveGrocery removes an item by id, or else the most recently added item
// with the given name (case-insensitive).
func (c *Catalog) RemoveGrocery(chatID, id, name string) (store.GroceryItem, error) {
	id, name = strings.TrimSpace(id), strings.TrimSpace(name)
	if id == "" && name == "" {
		return store.GroceryItem{}, invalid("id", "id or name is required")
	}
	var removed store.GroceryItem
	_, err := store.Update(c.store, chatID, store.Groceries, func(list []store.GroceryItem) ([]store.GroceryItem, error) {
		i := -1
		if id != "" {
			i = findGrocery(list, id)
		}
		if i < 0 && name != "" {
			for j := len(list) - 1; j >= 0; j-- {
				if strings.EqualFold(strings.TrimSpace(list[j].Name), name) {
					i = j
					break
				}
			}
		}
		if i < 0 {
			ref := id
			if ref == "" {
				ref = name
			}
			return nil, &NotFoundError{Kind: "grocery item", Ref: ref}
		}
		removed = list[i]
		return append(list[:i], list[i+1:]...), nil
	})
	return removed, err
}

// ClearGroceries empties the list in one write and returns how many items
// were removed.
func (c *Catalog) ClearGroceries(chatID string) (int, error) {
	cleared := 0
	_, err := store.Update(c.store, chatID, store.Groceries, func(list []store.GroceryItem) ([]store.GroceryItem, error) {
		cleared = len(list)
		return []store.GroceryItem{}, nil
	})
	return cleared, err
}

func findGrocery(list []store.GroceryItem, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// groceriesFromArgs accepts {"name"/"item", "quantity", "unit"} or
// {"items": [string | {name, quantity, unit}]}.
func groceriesFromArgs(args map[string]any) ([]GroceryInput, error) {
	raw, hasItems := args["items"]
	if !hasItems || raw == nil {
		name := stringArg(args, "name")
		if name == "" {
			name = stringArg(args, "item")
		}
		return []GroceryInput{{Name: name, Quantity: stringArg(args, "quantity"), Unit: stringArg(args, "unit")}}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, invalid("items", "must be an array")
	}
	out := make([]GroceryInput, 0, len(list))
	for _, entry := range list {
		switch v := entry.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, GroceryInput{Name: s})
			}
		case map[string]any:
			name := stringArg(v, "name")
			if name == "" {
				name = stringArg(v, "item")
			}
			if name == "" {
				continue
			}
			out = append(out, GroceryInput{Name: name, Quantity: stringArg(v, "quantity"), Unit: stringArg(v, "unit")})
		}
	}
	return out, nil
}

func (c *Catalog) registerGroceryTools(e *ToolExecutor) {
	e.Register(
		MakeToolDefinition("grocery_add",
			"Add one item (name) or several (items) to the grocery list.",
			objectSchema(map[string]any{
				"name":     prop("string", "Item name"),
				"quantity": prop("string", "Optional quantity"),
				"unit":     prop("string", "Optional unit (e.g. kg, bottles)"),
				"items": map[string]any{
					"type":        "array",
					"description": "Several items: strings or {name, quantity, unit} objects",
					"items":       map[string]any{},
				},
			}),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			inputs, err := groceriesFromArgs(args)
			if err != nil {
				return nil, err
			}
			items, err := c.AddGroceries(chatID, inputs)
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"items": items}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("grocery_list",
			"List the grocery list.",
			objectSchema(map[string]any{}),
		),
		handler(func(_ context.Context, chatID string, _ map[string]any) (any, error) {
			items, err := c.ListGroceries(chatID)
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"count": len(items), "items": items}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("grocery_remove",
			"Remove an item from the grocery list by id or name.",
			objectSchema(map[string]any{
				"id":   prop("string", "Item id"),
				"name": prop("string", "Item name"),
			}),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			name := stringArg(args, "name")
			if name == "" {
				name = stringArg(args, "item")
			}
			item, err := c.RemoveGrocery(chatID, stringArg(args, "id"), name)
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"removed": item}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("grocery_clear",
			"Remove every item from the grocery list.",
			objectSchema(map[string]any{}),
		),
		handler(func(_ context.Context, chatID string, _ map[string]any) (any, error) {
			n, err := c.ClearGroceries(chatID)
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"cleared": n}), nil
		}),
	)
}
