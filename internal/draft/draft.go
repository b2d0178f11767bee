// internal/draft/draft.go

// Package draft holds the meal a user is composing or editing before it is
// committed to the store.
package draft

import (
	"errors"
	"fmt"
	"time"

	"mcp-macro-log/internal/models"
	"mcp-macro-log/internal/nutrition"
)

var ErrIndexOutOfRange = errors.New("entry index out of range")

type State string

const (
	StateEmpty     State = "empty"
	StatePopulated State = "populated"
)

// Draft is not safe for concurrent use.
type Draft struct {
	name    string
	mealID  string
	date    time.Time
	entries []models.Entry
}

func New() *Draft {
	return &Draft{}
}

func (d *Draft) SetName(name string) {
	d.name = name
}

// AddEntry appends e. Entries for the same food are kept as separate lines.
func (d *Draft) AddEntry(e models.Entry) {
	d.entries = append(d.entries, e)
}

func (d *Draft) UpdateEntryAmount(index int, amount float64) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}
	if err := models.ValidateAmount(amount); err != nil {
		return err
	}
	d.entries[index].Amount = amount
	return nil
}

// RemoveEntry deletes the entry at index and shifts the rest left.
func (d *Draft) RemoveEntry(index int) error {
	if err := d.checkIndex(index); err != nil {
		return err
	}
	d.entries = append(d.entries[:index], d.entries[index+1:]...)
	return nil
}

func (d *Draft) Reset() {
	*d = Draft{}
}

// Load replaces the draft with a committed meal so it can be edited. The
// next commit updates that meal instead of creating a new one.
func (d *Draft) Load(m models.Meal) {
	d.name = m.Name
	d.mealID = m.ID
	d.date = m.Date
	d.entries = append([]models.Entry(nil), m.Entries...)
}

func (d *Draft) checkIndex(index int) error {
	if index < 0 || index >= len(d.entries) {
		return fmt.Errorf("%w: %d (draft has %d entries)", ErrIndexOutOfRange, index, len(d.entries))
	}
	return nil
}

func (d *Draft) Name() string { return d.name }

// MealID is the committed meal this draft edits, or "".
func (d *Draft) MealID() string { return d.mealID }

// Date is the loaded meal's date; zero for a new meal.
func (d *Draft) Date() time.Time { return d.date }

func (d *Draft) Len() int { return len(d.entries) }

// Entries returns a copy of the entries in insertion order.
func (d *Draft) Entries() []models.Entry {
	return append([]models.Entry(nil), d.entries...)
}

func (d *Draft) State() State {
	if d.name == "" && d.mealID == "" && len(d.entries) == 0 {
		return StateEmpty
	}
	return StatePopulated
}

func (d *Draft) Totals() models.Macros {
	return nutrition.SumMacros(d.entries)
}

// Snapshot is a read-only copy of a draft for display.
type Snapshot struct {
	State   State          `json:"state"`
	Name    string         `json:"name"`
	MealID  string         `json:"meal_id,omitempty"`
	Entries []models.Entry `json:"entries"`
	Totals  models.Macros  `json:"totals"`
}

func (d *Draft) Snapshot() Snapshot {
	entries := d.Entries()
	if entries == nil {
		entries = []models.Entry{}
	}
	return Snapshot{
		State:   d.State(),
		Name:    d.name,
		MealID:  d.mealID,
		Entries: entries,
		Totals:  d.Totals(),
	}
}
