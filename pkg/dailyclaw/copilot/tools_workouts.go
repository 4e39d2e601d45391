package copilot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/store"
)

// defaultWorkoutWindow is the number of days workout_list covers when no
// range is given (today included).
const defaultWorkoutWindow = 7

const poundsToKilograms = 0.45359237

// WorkoutChange reports the exercise touched by an edit or removal.
type WorkoutChange struct {
	WorkoutID string             `json:"workout_id"`
	Date      string             `json:"date"`
	Exercise  string             `json:"exercise"`
	Sets      []store.WorkoutSet `json:"sets,omitempty"`
}

// ExerciseProgress compares the heaviest set of the first and the latest
// logged entry of an exercise.
type ExerciseProgress struct {
	Exercise    string           `json:"exercise"`
	Entries     int              `json:"entries"`
	FirstDate   string           `json:"first_date"`
	FirstWeight float64          `json:"first_weight"`
	FirstReps   int              `json:"first_reps"`
	FirstUnit   store.WeightUnit `json:"first_unit"`
	LastDate    string           `json:"last_date"`
	LastWeight  float64          `json:"last_weight"`
	LastReps    int              `json:"last_reps"`
	LastUnit    store.WeightUnit `json:"last_unit"`
	Delta       float64          `json:"delta"`
	Pct         *float64         `json:"pct,omitempty"`
	RepsDelta   int              `json:"reps_delta"`
}

// LogWorkout stores a new workout. date accepts YYYY-MM-DD, today,
// yesterday or tomorrow (empty means today).
func (c *Catalog) LogWorkout(chatID, date string, exercises []store.Exercise, notes string) (store.Workout, error) {
	if len(exercises) == 0 {
		return store.Workout{}, invalid("exercises", "at least one exercise with sets is required")
	}
	normalized := make([]store.Exercise, len(exercises))
	for i, ex := range exercises {
		ex, err := normalizeExercise(ex)
		if err != nil {
			return store.Workout{}, err
		}
		normalized[i] = ex
	}
	exercises = normalized
	loc, err := c.Location(chatID)
	if err != nil {
		return store.Workout{}, err
	}
	now := c.now().In(loc)
	day, err := normalizeDate("date", strings.ToLower(date), now)
	if err != nil {
		return store.Workout{}, err
	}
	if day == "" {
		day = now.Format(dateLayout)
	}

	var created store.Workout
	_, err = store.Update(c.store, chatID, store.Workouts, func(workouts []store.Workout) ([]store.Workout, error) {
		created = store.Workout{
			ID: store.NewID(func(id string) bool {
				return findWorkout(workouts, id) >= 0
			}),
			Date:      day,
			Type:      "strength",
			Exercises: exercises,
			Notes:     strings.TrimSpace(notes),
			CreatedAt: c.now(),
		}
		return append(workouts, created), nil
	})
	if err != nil {
		return store.Workout{}, err
	}
	return created, nil
}

// ListWorkouts returns workouts with from <= date <= to, in stored order.
// With neither bound given it covers the last seven days.
func (c *Catalog) ListWorkouts(chatID, from, to string) (string, string, []store.Workout, error) {
	from, to, err := c.dateRange(chatID, from, to, true)
	if err != nil {
		return "", "", nil, err
	}
	workouts, err := store.Load[store.Workout](c.store, chatID, store.Workouts)
	if err != nil {
		return "", "", nil, err
	}
	out := make([]store.Workout, 0, len(workouts))
	for _, w := range workouts {
		if inRange(w.Date, from, to) {
			out = append(out, w)
		}
	}
	return from, to, out, nil
}

// EditExercise replaces the sets of the most recent matching exercise
// (optionally on a given date). With setIndex > 0 (1-based) only that set
// is replaced, by the single set given.
func (c *Catalog) EditExercise(chatID, exercise string, sets []store.WorkoutSet, date string, notes *string, setIndex int) (WorkoutChange, error) {
	exercise = strings.TrimSpace(exercise)
	if exercise == "" {
		return WorkoutChange{}, invalid("exercise", "is required")
	}
	if len(sets) == 0 {
		return WorkoutChange{}, invalid("sets", "at least one set is required")
	}
	if setIndex > 0 && len(sets) != 1 {
		return WorkoutChange{}, invalid("sets", "exactly one set is required with set_index")
	}
	if setIndex < 0 {
		return WorkoutChange{}, invalid("set_index", "must be positive")
	}
	checked, err := normalizeExercise(store.Exercise{Name: exercise, Sets: sets})
	if err != nil {
		return WorkoutChange{}, err
	}
	sets = checked.Sets
	day, err := c.optionalDate(chatID, date)
	if err != nil {
		return WorkoutChange{}, err
	}

	var change WorkoutChange
	_, err = store.Update(c.store, chatID, store.Workouts, func(workouts []store.Workout) ([]store.Workout, error) {
		wi, ei := findLatestExercise(workouts, exercise, day)
		if wi < 0 {
			return nil, &NotFoundError{Kind: "exercise", Ref: exercise}
		}
		w := &workouts[wi]
		ex := &w.Exercises[ei]
		if setIndex > 0 {
			if setIndex > len(ex.Sets) {
				return nil, &NotFoundError{Kind: "set", Ref: fmt.Sprintf("%s #%d", ex.Name, setIndex)}
			}
			ex.Sets[setIndex-1] = sets[0]
		} else {
			ex.Sets = sets
		}
		if notes != nil {
			w.Notes = strings.TrimSpace(*notes)
		}
		change = WorkoutChange{WorkoutID: w.ID, Date: w.Date, Exercise: ex.Name, Sets: ex.Sets}
		return workouts, nil
	})
	return change, err
}

// RemoveExercise deletes the most recent matching exercise (optionally on a
// given date); a workout left without exercises is dropped.
func (c *Catalog) RemoveExercise(chatID, exercise, date string) (WorkoutChange, error) {
	exercise = strings.TrimSpace(exercise)
	if exercise == "" {
		return WorkoutChange{}, invalid("exercise", "is required")
	}
	day, err := c.optionalDate(chatID, date)
	if err != nil {
		return WorkoutChange{}, err
	}

	var change WorkoutChange
	_, err = store.Update(c.store, chatID, store.Workouts, func(workouts []store.Workout) ([]store.Workout, error) {
		wi, ei := findLatestExercise(workouts, exercise, day)
		if wi < 0 {
			return nil, &NotFoundError{Kind: "exercise", Ref: exercise}
		}
		w := &workouts[wi]
		change = WorkoutChange{WorkoutID: w.ID, Date: w.Date, Exercise: w.Exercises[ei].Name}
		w.Exercises = append(w.Exercises[:ei], w.Exercises[ei+1:]...)
		if len(w.Exercises) == 0 {
			workouts = append(workouts[:wi], workouts[wi+1:]...)
		}
		return workouts, nil
	})
	return change, err
}

// WorkoutProgress reports, per exercise, the change between the heaviest
// set of the first and of the latest logged entry. names filters exercises
// (case-insensitive); a filtered name with no entries is a NotFoundError.
// It never writes.
func (c *Catalog) WorkoutProgress(chatID string, names []string, from, to string) ([]ExerciseProgress, error) {
	from, to, err := c.dateRange(chatID, from, to, false)
	if err != nil {
		return nil, err
	}
	workouts, err := store.Load[store.Workout](c.store, chatID, store.Workouts)
	if err != nil {
		return nil, err
	}

	filter := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			filter[n] = true
		}
	}

	ordered := make([]store.Workout, 0, len(workouts))
	for _, w := range workouts {
		if inRange(w.Date, from, to) {
			ordered = append(ordered, w)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Date != ordered[j].Date {
			return ordered[i].Date < ordered[j].Date
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	stats := make(map[string]*ExerciseProgress)
	for _, w := range ordered {
		for _, ex := range w.Exercises {
			key := strings.ToLower(strings.TrimSpace(ex.Name))
			if key == "" || len(ex.Sets) == 0 || (len(filter) > 0 && !filter[key]) {
				continue
			}
			top := heaviestSet(ex.Sets)
			p, seen := stats[key]
			if !seen {
				p = &ExerciseProgress{
					Exercise:    ex.Name,
					FirstDate:   w.Date,
					FirstWeight: top.Weight,
					FirstReps:   top.Reps,
					FirstUnit:   unitOf(top),
				}
				stats[key] = p
			}
			p.Entries++
			p.LastDate = w.Date
			p.LastWeight = top.Weight
			p.LastReps = top.Reps
			p.LastUnit = unitOf(top)
		}
	}

	for name := range filter {
		if _, ok := stats[name]; !ok {
			return nil, &NotFoundError{Kind: "exercise", Ref: name}
		}
	}

	out := make([]ExerciseProgress, 0, len(stats))
	for _, p := range stats {
		// Delta and Pct are expressed in the latest entry's unit.
		first := convertWeight(p.FirstWeight, p.FirstUnit, p.LastUnit)
		p.Delta = round(p.LastWeight-first, 2)
		p.RepsDelta = p.LastReps - p.FirstReps
		if first > 0 {
			pct := round((p.LastWeight-first)/first*100, 1)
			p.Pct = &pct
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Exercise) < strings.ToLower(out[j].Exercise)
	})
	return out, nil
}

// ---------- helpers ----------

// normalizeExercise validates ex and returns a copy whose set units are
// canonical ("lbs" becomes "lb", an empty unit becomes "kg").
func normalizeExercise(ex store.Exercise) (store.Exercise, error) {
	if strings.TrimSpace(ex.Name) == "" {
		return ex, invalid("exercise", "name is required")
	}
	if len(ex.Sets) == 0 {
		return ex, invalid("sets", "%s needs at least one set", ex.Name)
	}
	sets := make([]store.WorkoutSet, len(ex.Sets))
	for i, s := range ex.Sets {
		if s.Reps < 0 {
			return ex, invalid(fmt.Sprintf("sets[%d].reps", i), "must not be negative")
		}
		if s.Weight < 0 {
			return ex, invalid(fmt.Sprintf("sets[%d].weight", i), "must not be negative")
		}
		unit, ok := store.ParseUnit(string(s.Unit))
		if !ok {
			return ex, invalid(fmt.Sprintf("sets[%d].unit", i), "must be kg or lb")
		}
		s.Unit = unit
		sets[i] = s
	}
	ex.Sets = sets
	return ex, nil
}

// heaviestSet picks the set with the highest weight (compared in kg), more
// reps winning ties.
func heaviestSet(sets []store.WorkoutSet) store.WorkoutSet {
	best := sets[0]
	for _, s := range sets[1:] {
		bw, sw := inKilograms(best), inKilograms(s)
		if sw > bw || (sw == bw && s.Reps > best.Reps) {
			best = s
		}
	}
	return best
}

func inKilograms(s store.WorkoutSet) float64 {
	return convertWeight(s.Weight, unitOf(s), store.Kilograms)
}

// unitOf reads a set's unit, tolerating aliases in documents written before
// units were normalized on save.
func unitOf(s store.WorkoutSet) store.WeightUnit {
	if u, ok := store.ParseUnit(string(s.Unit)); ok {
		return u
	}
	return s.Unit
}

func convertWeight(w float64, from, to store.WeightUnit) float64 {
	switch {
	case from == to:
		return w
	case from == store.Pounds && to == store.Kilograms:
		return w * poundsToKilograms
	case from == store.Kilograms && to == store.Pounds:
		return w / poundsToKilograms
	}
	return w
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func findWorkout(workouts []store.Workout, id string) int {
	for i := range workouts {
		if workouts[i].ID == id {
			return i
		}
	}
	return -1
}

// findLatestExercise scans from the newest workout backwards for an
// exercise named name (case-insensitive), optionally on date.
func findLatestExercise(workouts []store.Workout, name, date string) (int, int) {
	key := strings.ToLower(strings.TrimSpace(name))
	for wi := len(workouts) - 1; wi >= 0; wi-- {
		if date != "" && workouts[wi].Date != date {
			continue
		}
		exercises := workouts[wi].Exercises
		for ei := len(exercises) - 1; ei >= 0; ei-- {
			if strings.ToLower(strings.TrimSpace(exercises[ei].Name)) == key {
				return wi, ei
			}
		}
	}
	return -1, -1
}

func inRange(date, from, to string) bool {
	if from != "" && date < from {
		return false
	}
	if to != "" && date > to {
		return false
	}
	return true
}

func (c *Catalog) optionalDate(chatID, date string) (string, error) {
	loc, err := c.Location(chatID)
	if err != nil {
		return "", err
	}
	return normalizeDate("date", strings.ToLower(date), c.now().In(loc))
}

func (c *Catalog) dateRange(chatID, from, to string, defaultWindow bool) (string, string, error) {
	loc, err := c.Location(chatID)
	if err != nil {
		return "", "", err
	}
	now := c.now().In(loc)
	if from, err = normalizeDate("date_from", strings.ToLower(from), now); err != nil {
		return "", "", err
	}
	if to, err = normalizeDate("date_to", strings.ToLower(to), now); err != nil {
		return "", "", err
	}
	if from == "" && to == "" && defaultWindow {
		to = now.Format(dateLayout)
		from = now.AddDate(0, 0, -(defaultWorkoutWindow - 1)).Format(dateLayout)
	}
	if from != "" && to != "" && from > to {
		return "", "", invalid("date_from", "must not be after date_to")
	}
	return from, to, nil
}

// ---------- argument decoding ----------

// exercisesFromArgs accepts the three shapes agents send:
//
//	{"exercises": [{"name": .., "sets": [..]}]}
//	{"exercise": .., "sets": [..]}
//	{"exercise": .., "reps": 5, "weight": 60, "unit": "kg", "sets": 3}
func exercisesFromArgs(args map[string]any) ([]store.Exercise, error) {
	if _, ok := args["exercises"]; ok {
		if single, isObj := args["exercises"].(map[string]any); isObj {
			args = map[string]any{"exercises": []any{single}}
		}
		list, err := objectList(args, "exercises")
		if err != nil {
			return nil, err
		}
		out := make([]store.Exercise, 0, len(list))
		for i, obj := range list {
			ex, err := exerciseFromArgs(obj, fmt.Sprintf("exercises[%d]", i))
			if err != nil {
				return nil, err
			}
			out = append(out, ex)
		}
		return out, nil
	}
	ex, err := exerciseFromArgs(args, "")
	if err != nil {
		return nil, err
	}
	return []store.Exercise{ex}, nil
}

func exerciseFromArgs(obj map[string]any, prefix string) (store.Exercise, error) {
	name := stringArg(obj, "name")
	if name == "" {
		name = stringArg(obj, "exercise")
	}
	if name == "" {
		return store.Exercise{}, invalid(joinField(prefix, "exercise"), "name is required")
	}
	sets, err := setsFromArgs(obj, prefix)
	if err != nil {
		return store.Exercise{}, err
	}
	return store.Exercise{Name: name, Sets: sets}, nil
}

// setsFromArgs reads "sets" as a list of set objects, a single object, or
// a repeat count for top-level reps/weight/unit.
func setsFromArgs(obj map[string]any, prefix string) ([]store.WorkoutSet, error) {
	switch raw := obj["sets"].(type) {
	case []any:
		out := make([]store.WorkoutSet, 0, len(raw))
		for i, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, invalid(joinField(prefix, fmt.Sprintf("sets[%d]", i)), "must be an object with reps, weight and unit")
			}
			s, err := setFromArgs(m, joinField(prefix, fmt.Sprintf("sets[%d]", i)))
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case map[string]any:
		s, err := setFromArgs(raw, joinField(prefix, "sets"))
		if err != nil {
			return nil, err
		}
		return []store.WorkoutSet{s}, nil
	}

	if _, hasReps := obj["reps"]; !hasReps {
		return nil, invalid(joinField(prefix, "sets"), "are required")
	}
	count := 1
	if n, present, err := intArg(obj, "sets"); err != nil {
		return nil, err
	} else if present {
		if n < 1 {
			return nil, invalid(joinField(prefix, "sets"), "must be at least 1")
		}
		count = n
	}
	s, err := setFromArgs(obj, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]store.WorkoutSet, count)
	for i := range out {
		out[i] = s
	}
	return out, nil
}

func setFromArgs(m map[string]any, field string) (store.WorkoutSet, error) {
	reps, present, err := intArg(m, "reps")
	if err != nil {
		return store.WorkoutSet{}, invalid(joinField(field, "reps"), "must be a whole number")
	}
	if !present {
		return store.WorkoutSet{}, invalid(joinField(field, "reps"), "is required")
	}
	if reps < 0 {
		return store.WorkoutSet{}, invalid(joinField(field, "reps"), "must not be negative")
	}
	weight, _, err := numberArg(m, "weight")
	if err != nil {
		return store.WorkoutSet{}, invalid(joinField(field, "weight"), "must be a number")
	}
	if weight < 0 {
		return store.WorkoutSet{}, invalid(joinField(field, "weight"), "must not be negative")
	}
	unit, ok := store.ParseUnit(stringArg(m, "unit"))
	if !ok {
		return store.WorkoutSet{}, invalid(joinField(field, "unit"), "must be kg or lb")
	}
	return store.WorkoutSet{Reps: reps, Weight: weight, Unit: unit}, nil
}

func joinField(prefix, field string) string {
	if prefix == "" {
		return field
	}
	return prefix + "." + field
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Catalog) registerWorkoutTools(e *ToolExecutor) {
	setSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reps":   prop("integer", "Repetitions"),
			"weight": prop("number", "Weight (0 for bodyweight)"),
			"unit":   enumProp("Weight unit (default kg)", "kg", "lb"),
		},
		"required": []string{"reps"},
	}
	setsSchema := map[string]any{"type": "array", "items": setSchema, "description": "Sets in order"}

	e.Register(
		MakeToolDefinition("workout_log",
			"Log a strength workout. Pass exercises with their sets, or a single exercise with sets (or reps/weight/unit).",
			objectSchema(map[string]any{
				"date": prop("string", "YYYY-MM-DD, today, yesterday or tomorrow (default today)"),
				"exercises": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name": prop("string", "Exercise name"),
							"sets": setsSchema,
						},
						"required": []string{"name", "sets"},
					},
				},
				"exercise": prop("string", "Single exercise name"),
				"sets":     setsSchema,
				"reps":     prop("integer", "Reps for a single-set log"),
				"weight":   prop("number", "Weight for a single-set log"),
				"unit":     enumProp("Weight unit (default kg)", "kg", "lb"),
				"notes":    prop("string", "Optional notes"),
			}),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			exercises, err := exercisesFromArgs(args)
			if err != nil {
				return nil, err
			}
			w, err := c.LogWorkout(chatID, stringArg(args, "date"), exercises, stringArg(args, "notes"))
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"workout": w}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("workout_list",
			"List workouts in a date range (YYYY-MM-DD). Defaults to the last 7 days.",
			objectSchema(map[string]any{
				"date_from": prop("string", "First day (inclusive)"),
				"date_to":   prop("string", "Last day (inclusive)"),
			}),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			from, to, workouts, err := c.ListWorkouts(chatID, stringArg(args, "date_from"), stringArg(args, "date_to"))
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"date_from": from, "date_to": to, "count": len(workouts), "workouts": workouts}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("workout_edit",
			"Replace the sets of the latest logged exercise with this name (optionally on a date). With set_index, replace only that set (1-based).",
			objectSchema(map[string]any{
				"exercise":  prop("string", "Exercise name"),
				"sets":      setsSchema,
				"date":      prop("string", "Restrict to this date"),
				"set_index": prop("integer", "1-based index of the set to replace"),
				"notes":     prop("string", "Replace the workout notes"),
			}, "exercise", "sets"),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			name := stringArg(args, "exercise")
			if name == "" {
				name = stringArg(args, "name")
			}
			if _, ok := args["sets"]; !ok {
				return nil, invalid("sets", "are required")
			}
			sets, err := setsFromArgs(args, "")
			if err != nil {
				return nil, err
			}
			idx, _, err := intArg(args, "set_index")
			if err != nil {
				return nil, err
			}
			var notes *string
			if _, ok := args["notes"]; ok {
				n := stringArg(args, "notes")
				notes = &n
			}
			change, err := c.EditExercise(chatID, name, sets, stringArg(args, "date"), notes, idx)
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"updated": change}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("workout_remove",
			"Remove the latest logged exercise with this name (optionally on a date).",
			objectSchema(map[string]any{
				"exercise": prop("string", "Exercise name"),
				"date":     prop("string", "Restrict to this date"),
			}, "exercise"),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			name := stringArg(args, "exercise")
			if name == "" {
				name = stringArg(args, "name")
			}
			change, err := c.RemoveExercise(chatID, name, stringArg(args, "date"))
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"removed": change}), nil
		}),
	)

	e.Register(
		MakeToolDefinition("workout_progress",
			"Weight and rep change between the first and latest logged entry of each exercise (delta and %).",
			objectSchema(map[string]any{
				"exercise":  prop("string", "Exercise name, or several separated by commas (default all)"),
				"date_from": prop("string", "First day (inclusive)"),
				"date_to":   prop("string", "Last day (inclusive)"),
			}),
		),
		handler(func(_ context.Context, chatID string, args map[string]any) (any, error) {
			progress, err := c.WorkoutProgress(chatID, splitNames(stringArg(args, "exercise")),
				stringArg(args, "date_from"), stringArg(args, "date_to"))
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"progress": progress}), nil
		}),
	)
}
