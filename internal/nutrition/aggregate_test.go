// internal/nutrition/aggregate_test.go
package nutrition

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mcp-macro-log/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func entry(foodID string, amount float64, m models.Macros) models.Entry {
	return models.Entry{FoodID: foodID, Amount: amount, Unit: models.UnitGram, Macros: m}
}

func sampleEntries() []models.Entry {
	return []models.Entry{
		entry("oats", 60, models.Macros{Energy: 370, Protein: 13, Carbohydrate: 60, Fat: 7}),
		entry("milk", 200, models.Macros{Energy: 46, Protein: 3.4, Carbohydrate: 4.7, Fat: 1.5}),
		entry("banana", 120, models.Macros{Energy: 89, Protein: 1.1, Carbohydrate: 23, Fat: 0.3}),
		entry("honey", 15, models.Macros{Energy: 304, Carbohydrate: 82}),
	}
}

func TestScaleEntry(t *testing.T) {
	snap := models.Macros{Energy: 200, Protein: 10, Carbohydrate: 20, Fat: 5}

	t.Run("identity at 100", func(t *testing.T) {
		for _, e := range sampleEntries() {
			e.Amount = 100
			if diff := cmp.Diff(e.Macros, ScaleEntry(e), approx); diff != "" {
				t.Errorf("ScaleEntry(%s) mismatch (-want +got):\n%s", e.FoodID, diff)
			}
		}
	})

	t.Run("zero amount", func(t *testing.T) {
		assert.Equal(t, models.Macros{}, ScaleEntry(entry("x", 0, snap)))
	})

	t.Run("150 units", func(t *testing.T) {
		got := ScaleEntry(entry("x", 150, snap))
		want := models.Macros{Energy: 300, Protein: 15, Carbohydrate: 30, Fat: 7.5}
		if diff := cmp.Diff(want, got, approx); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("non-finite amount propagates", func(t *testing.T) {
		got := ScaleEntry(entry("x", math.NaN(), snap))
		assert.True(t, math.IsNaN(got.Energy))
		assert.True(t, math.IsNaN(got.Fat))
	})
}

func TestSumMacros(t *testing.T) {
	assert.Equal(t, models.Macros{}, SumMacros(nil))
	assert.Equal(t, models.Macros{}, SumMacros([]models.Entry{}))

	entries := sampleEntries()
	before := append([]models.Entry(nil), entries...)
	total := SumMacros(entries)
	assert.Equal(t, before, entries, "input must not be mutated")

	t.Run("order independent", func(t *testing.T) {
		r := rand.New(rand.NewSource(7))
		for i := 0; i < 20; i++ {
			shuffled := append([]models.Entry(nil), entries...)
			r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
			if diff := cmp.Diff(total, SumMacros(shuffled), approx); diff != "" {
				t.Fatalf("permutation %d changed total (-want +got):\n%s", i, diff)
			}
		}
	})

	t.Run("additive over concatenation", func(t *testing.T) {
		for split := 0; split <= len(entries); split++ {
			a, b := entries[:split], entries[split:]
			want := SumMacros(a).Add(SumMacros(b))
			if diff := cmp.Diff(want, total, approx); diff != "" {
				t.Errorf("split %d (-want +got):\n%s", split, diff)
			}
		}
	})

	t.Run("duplicate foods sum independently", func(t *testing.T) {
		snap := models.Macros{Energy: 100, Protein: 10}
		two := []models.Entry{entry("same", 100, snap), entry("same", 50, snap)}
		got := SumMacros(two)
		assert.InDelta(t, 150, got.Energy, 1e-9)
		assert.InDelta(t, 15, got.Protein, 1e-9)
	})
}

func mealAt(name, ts string, energy float64) models.Meal {
	d, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return models.Meal{
		Name:    name,
		Date:    d,
		Entries: []models.Entry{entry(name, 100, models.Macros{Energy: energy, Protein: energy / 100})},
	}
}

func TestSelectAndSumForDay(t *testing.T) {
	meals := []models.Meal{
		mealAt("breakfast", "2025-06-26T08:00:00Z", 500),
		mealAt("late", "2025-06-27T00:30:00Z", 900),
		mealAt("dinner", "2025-06-26T19:15:00Z", 300),
	}

	selected := SelectMealsForDay(meals, "2025-06-26")
	require.Len(t, selected, 2)
	assert.Equal(t, "breakfast", selected[0].Name)
	assert.Equal(t, "dinner", selected[1].Name)

	total := SumMacrosForDay(meals, "2025-06-26")
	assert.InDelta(t, 800, total.Energy, 1e-9)
	assert.InDelta(t, 8, total.Protein, 1e-9)

	assert.Empty(t, SelectMealsForDay(meals, "2025-06-25"))
	assert.Equal(t, models.Macros{}, SumMacrosForDay(meals, "2025-06-25"))
}

func TestSelectForDayUsesStoredOffset(t *testing.T) {
	// 22:30Z on the 26th, logged at +02:00.
	m := mealAt("snack", "2025-06-27T00:30:00+02:00", 100)
	assert.Len(t, SelectMealsForDay([]models.Meal{m}, "2025-06-27"), 1)
	assert.Empty(t, SelectMealsForDay([]models.Meal{m}, "2025-06-26"))
}

func TestSummarizeDay(t *testing.T) {
	meals := []models.Meal{
		mealAt("a", "2025-06-26T08:00:00Z", 500),
		mealAt("b", "2025-06-26T12:00:00Z", 300),
		mealAt("c", "2025-06-27T12:00:00Z", 50),
	}
	s := SummarizeDay(meals, "2025-06-26")
	assert.Equal(t, "2025-06-26", s.Day)
	require.Len(t, s.Meals, 2)
	assert.InDelta(t, 500, s.Meals[0].Totals.Energy, 1e-9)
	assert.InDelta(t, 800, s.Totals.Energy, 1e-9)
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2025-06-26")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-26", d)

	for _, bad := range []string{"", "2025-6-26", "26.06.2025", "2025-06-26T10:00"} {
		_, err := ParseDay(bad)
		assert.ErrorIs(t, err, models.ErrInvalidInput, bad)
	}
}
