// internal/models/food.go
package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	UnitGram       = "g"
	UnitMillilitre = "ml"
	UnitPiece      = "stk"

	// DefaultAmount is the quantity a freshly added entry starts with.
	DefaultAmount = 100.0
)

// FoodRecord is a reusable food definition. Macros are per 100 of Unit.
type FoodRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Name         string    `json:"name"`
	Barcode      string    `json:"barcode,omitempty"`
	Unit         string    `json:"unit"`
	MacrosPer100 Macros    `json:"macros_per_100"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeBarcode trims a scanned or typed code. An empty result means
// the record has no barcode.
func NormalizeBarcode(raw string) string {
	return strings.TrimSpace(raw)
}

// NormalizeUnit maps blank units to grams and rejects unknown tags.
func NormalizeUnit(unit string) (string, error) {
	switch u := strings.ToLower(strings.TrimSpace(unit)); u {
	case "":
		return UnitGram, nil
	case UnitGram, UnitMillilitre, UnitPiece:
		return u, nil
	default:
		return "", fmt.Errorf("%w: unknown unit %q", ErrInvalidInput, unit)
	}
}

// NewFoodRecord builds a validated record ready to hand to the store.
func NewFoodRecord(name, barcode, unit string, per100 Macros) (FoodRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FoodRecord{}, fmt.Errorf("%w: food name is required", ErrInvalidInput)
	}
	u, err := NormalizeUnit(unit)
	if err != nil {
		return FoodRecord{}, err
	}
	if err := per100.Validate(); err != nil {
		return FoodRecord{}, err
	}
	return FoodRecord{
		Name:         name,
		Barcode:      NormalizeBarcode(barcode),
		Unit:         u,
		MacrosPer100: per100,
	}, nil
}

// FoodUpdate is a partial edit of a food record. Nil fields are left alone.
type FoodUpdate struct {
	Name         *string `json:"name,omitempty"`
	Unit         *string `json:"unit,omitempty"`
	MacrosPer100 *Macros `json:"macros_per_100,omitempty"`
}

// Apply validates the update and returns the edited copy of f.
func (u FoodUpdate) Apply(f FoodRecord) (FoodRecord, error) {
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return f, fmt.Errorf("%w: food name is required", ErrInvalidInput)
		}
		f.Name = name
	}
	if u.Unit != nil {
		unit, err := NormalizeUnit(*u.Unit)
		if err != nil {
			return f, err
		}
		f.Unit = unit
	}
	if u.MacrosPer100 != nil {
		if err := u.MacrosPer100.Validate(); err != nil {
			return f, err
		}
		f.MacrosPer100 = *u.MacrosPer100
	}
	return f, nil
}
