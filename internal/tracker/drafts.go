// internal/tracker/drafts.go
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mcp-macro-log/internal/draft"
	"mcp-macro-log/internal/identity"
	"mcp-macro-log/internal/models"
)

func (s *Service) Draft(ctx context.Context) (draft.Snapshot, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return draft.Snapshot{}, err
	}
	return s.drafts.View(userID), nil
}

func (s *Service) SetDraftName(ctx context.Context, name string) (draft.Snapshot, error) {
	return s.editDraft(ctx, func(d *draft.Draft) error {
		d.SetName(name)
		return nil
	})
}

// AddFoodRef picks the food to add, by id or by barcode.
type AddFoodRef struct {
	FoodID  string
	Barcode string
	Amount  *float64 // nil means models.DefaultAmount
	Unit    string
}

// AddFoodToDraft looks the food up and appends an entry with a snapshot
// of its current macros.
func (s *Service) AddFoodToDraft(ctx context.Context, ref AddFoodRef) (draft.Snapshot, error) {
	if _, err := identity.UserID(ctx); err != nil {
		return draft.Snapshot{}, err
	}

	var f *models.FoodRecord
	var err error
	switch {
	case ref.FoodID != "":
		f, err = s.GetFood(ctx, ref.FoodID)
	case models.NormalizeBarcode(ref.Barcode) != "":
		f, err = s.FoodByBarcode(ctx, ref.Barcode)
	default:
		return draft.Snapshot{}, fmt.Errorf("%w: food_id or barcode is required", models.ErrInvalidInput)
	}
	if err != nil {
		return draft.Snapshot{}, err
	}
	if f == nil {
		return draft.Snapshot{}, fmt.Errorf("%w: food %s%s", models.ErrNotFound, ref.FoodID, ref.Barcode)
	}

	entry := models.NewEntry(*f)
	if ref.Amount != nil || ref.Unit != "" {
		amount := models.DefaultAmount
		if ref.Amount != nil {
			amount = *ref.Amount
		}
		if entry, err = models.NewEntryWithAmount(*f, amount, ref.Unit); err != nil {
			return draft.Snapshot{}, err
		}
	}

	return s.editDraft(ctx, func(d *draft.Draft) error {
		d.AddEntry(entry)
		return nil
	})
}

func (s *Service) UpdateDraftAmount(ctx context.Context, index int, amount float64) (draft.Snapshot, error) {
	return s.editDraft(ctx, func(d *draft.Draft) error {
		return d.UpdateEntryAmount(index, amount)
	})
}

func (s *Service) RemoveDraftEntry(ctx context.Context, index int) (draft.Snapshot, error) {
	return s.editDraft(ctx, func(d *draft.Draft) error {
		return d.RemoveEntry(index)
	})
}

// ResetDraft throws the user's draft away, including any binding to a
// loaded meal.
func (s *Service) ResetDraft(ctx context.Context) (draft.Snapshot, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return draft.Snapshot{}, err
	}
	s.drafts.Discard(userID)
	return s.drafts.View(userID), nil
}

// LoadMealIntoDraft replaces the draft with a committed meal so the next
// commit edits it in place.
func (s *Service) LoadMealIntoDraft(ctx context.Context, mealID string) (draft.Snapshot, error) {
	m, err := s.GetMeal(ctx, mealID)
	if err != nil {
		return draft.Snapshot{}, err
	}
	if m == nil {
		return draft.Snapshot{}, fmt.Errorf("%w: meal %s", models.ErrNotFound, mealID)
	}
	return s.editDraft(ctx, func(d *draft.Draft) error {
		d.Load(*m)
		return nil
	})
}

// CommitDraft writes the draft as a meal and resets it. A draft loaded from
// an existing meal updates that meal; otherwise a new one is created. When
// date is nil the loaded meal's date, or now, is used.
func (s *Service) CommitDraft(ctx context.Context, date *time.Time) (*models.Meal, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}

	var committed *models.Meal
	err = s.drafts.Update(userID, func(d *draft.Draft) error {
		meal := models.Meal{
			ID:      d.MealID(),
			UserID:  userID,
			Name:    strings.TrimSpace(d.Name()),
			Date:    d.Date(),
			Entries: d.Entries(),
		}
		if date != nil {
			meal.Date = *date
		}
		if meal.Date.IsZero() {
			meal.Date = s.now()
		}
		if err := meal.Validate(); err != nil {
			return err
		}

		if meal.ID == "" {
			if _, err := s.store.CreateMeal(ctx, &meal); err != nil {
				return errors.Wrap(err, "create meal")
			}
		} else if err := s.store.UpdateMeal(ctx, &meal); err != nil {
			return errors.Wrap(err, "update meal")
		}

		d.Reset()
		committed = &meal
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("meal committed",
		zap.String("user", userID),
		zap.String("meal", committed.ID),
		zap.Int("entries", len(committed.Entries)))
	return committed, nil
}

func (s *Service) editDraft(ctx context.Context, fn func(*draft.Draft) error) (draft.Snapshot, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return draft.Snapshot{}, err
	}
	var snap draft.Snapshot
	err = s.drafts.Update(userID, func(d *draft.Draft) error {
		if err := fn(d); err != nil {
			return err
		}
		snap = d.Snapshot()
		return nil
	})
	return snap, err
}
