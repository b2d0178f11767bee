// internal/nutrition/aggregate.go

// Package nutrition sums macros over meal entries and picks out the meals
// logged on a calendar day. Nothing in here returns an error: bad numbers
// show up as NaN in the result and must be rejected before they get here.
package nutrition

import (
	"fmt"
	"time"

	"mcp-macro-log/internal/models"
)

// DayLayout is the calendar-day format used by every day argument.
const DayLayout = "2006-01-02"

// ScaleEntry returns the macros contributed by one entry.
func ScaleEntry(e models.Entry) models.Macros {
	return e.Macros.Scale(e.Amount / 100)
}

// SumMacros adds up ScaleEntry over entries. The slice is not modified.
func SumMacros(entries []models.Entry) models.Macros {
	var total models.Macros
	for _, e := range entries {
		total = total.Add(ScaleEntry(e))
	}
	return total
}

// DayOf renders the date portion of t in t's own location.
func DayOf(t time.Time) string {
	return t.Format(DayLayout)
}

// SelectMealsForDay keeps the meals whose timestamp falls on day, in input
// order. The comparison is on the rendered date only; no timezone
// conversion is done.
func SelectMealsForDay(meals []models.Meal, day string) []models.Meal {
	out := make([]models.Meal, 0, len(meals))
	for _, m := range meals {
		if DayOf(m.Date) == day {
			out = append(out, m)
		}
	}
	return out
}

// SumMacrosForDay totals every entry of every meal on day.
func SumMacrosForDay(meals []models.Meal, day string) models.Macros {
	var total models.Macros
	for _, m := range SelectMealsForDay(meals, day) {
		total = total.Add(SumMacros(m.Entries))
	}
	return total
}

// ParseDay validates a YYYY-MM-DD string.
func ParseDay(s string) (string, error) {
	d, err := time.Parse(DayLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: day must be YYYY-MM-DD: %q", models.ErrInvalidInput, s)
	}
	return d.Format(DayLayout), nil
}

// MealTotals pairs a meal with its summed macros.
type MealTotals struct {
	Meal   models.Meal   `json:"meal"`
	Totals models.Macros `json:"totals"`
}

// DaySummary is the per-day view: the day's meals, each with its own
// totals, and the grand total.
type DaySummary struct {
	Day    string        `json:"day"`
	Meals  []MealTotals  `json:"meals"`
	Totals models.Macros `json:"totals"`
}

func SummarizeDay(meals []models.Meal, day string) DaySummary {
	selected := SelectMealsForDay(meals, day)
	s := DaySummary{Day: day, Meals: make([]MealTotals, 0, len(selected))}
	for _, m := range selected {
		t := SumMacros(m.Entries)
		s.Meals = append(s.Meals, MealTotals{Meal: m, Totals: t})
		s.Totals = s.Totals.Add(t)
	}
	return s
}
