// internal/models/meal.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// Entry is one line item in a meal. Macros is a copy of the food's
// per-100 values taken when the entry was created.
type Entry struct {
	FoodID string  `json:"food_id"`
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
	Macros Macros  `json:"macros"`
}

type Meal struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	Entries   []Entry   `json:"entries"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntry turns a food into an entry of DefaultAmount in the food's unit.
func NewEntry(food FoodRecord) Entry {
	unit := food.Unit
	if unit == "" {
		unit = UnitGram
	}
	return Entry{
		FoodID: food.ID,
		Name:   food.Name,
		Amount: DefaultAmount,
		Unit:   unit,
		Macros: food.MacrosPer100,
	}
}

// NewEntryWithAmount is NewEntry with a caller-chosen quantity. A blank
// unit keeps the food's unit.
func NewEntryWithAmount(food FoodRecord, amount float64, unit string) (Entry, error) {
	if err := ValidateAmount(amount); err != nil {
		return Entry{}, err
	}
	e := NewEntry(food)
	e.Amount = amount
	if strings.TrimSpace(unit) != "" {
		u, err := NormalizeUnit(unit)
		if err != nil {
			return Entry{}, err
		}
		e.Unit = u
	}
	return e, nil
}

// Validate checks a meal before it is written.
func (m Meal) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: meal name is required", ErrInvalidInput)
	}
	if len(m.Entries) == 0 {
		return fmt.Errorf("%w: meal needs at least one food", ErrInvalidInput)
	}
	for i, e := range m.Entries {
		if err := ValidateAmount(e.Amount); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if err := e.Macros.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

type Profile struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Weight    *float64  `json:"weight,omitempty"`
	Height    *float64  `json:"height,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ConfidenceLevel string

const (
	HighConfidence   ConfidenceLevel = "high"
	MediumConfidence ConfidenceLevel = "medium"
	LowConfidence    ConfidenceLevel = "low"
)

type EstimateRequest struct {
	Description string `json:"description"`
}

// EstimateResponse is a proposed food definition, not yet stored.
type EstimateResponse struct {
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	MacrosPer100 Macros          `json:"macros_per_100"`
	Confidence   ConfidenceLevel `json:"confidence"`
	Notes        string          `json:"notes,omitempty"`
}
