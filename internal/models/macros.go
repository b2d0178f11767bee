// internal/models/macros.go
package models

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidInput marks values rejected at the construction boundary.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned by mutations that target a missing record.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation, e.g. a reused barcode.
	ErrConflict = errors.New("conflict")
)

// Macros holds energy (kcal), protein, carbohydrate and fat.
type Macros struct {
	Energy       float64 `json:"kcal" yaml:"kcal"`
	Protein      float64 `json:"protein" yaml:"protein"`
	Carbohydrate float64 `json:"carbs" yaml:"carbs"`
	Fat          float64 `json:"fat" yaml:"fat"`
}

func (m Macros) Add(o Macros) Macros {
	return Macros{
		Energy:       m.Energy + o.Energy,
		Protein:      m.Protein + o.Protein,
		Carbohydrate: m.Carbohydrate + o.Carbohydrate,
		Fat:          m.Fat + o.Fat,
	}
}

func (m Macros) Scale(f float64) Macros {
	return Macros{
		Energy:       m.Energy * f,
		Protein:      m.Protein * f,
		Carbohydrate: m.Carbohydrate * f,
		Fat:          m.Fat * f,
	}
}

// Validate rejects negative and non-finite fields.
func (m Macros) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"kcal", m.Energy},
		{"protein", m.Protein},
		{"carbs", m.Carbohydrate},
		{"fat", m.Fat},
	}
	for _, f := range fields {
		if err := checkQuantity(f.name, f.v); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAmount checks an entry amount before it reaches a draft.
func ValidateAmount(amount float64) error {
	return checkQuantity("amount", amount)
}

func checkQuantity(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrInvalidInput, name)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, name)
	}
	return nil
}
