// internal/tracker/tracker.go

// Package tracker implements the user-facing operations: food catalog,
// draft editing, committing meals and the daily macro view. Every
// operation that touches user data reads the user id from the context.
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
	"mcp-macro-log/internal/nutrition"
)

// Store is the persistence collaborator. Lookups return nil, nil when the
// record does not exist; mutations of missing records return
// models.ErrNotFound.
type Store interface {
	CreateFood(ctx context.Context, f *models.FoodRecord) error
	GetFood(ctx context.Context, id string) (*models.FoodRecord, error)
	GetFoodByBarcode(ctx context.Context, barcode string) (*models.FoodRecord, error)
	ListFoods(ctx context.Context) ([]models.FoodRecord, error)
	SearchFoods(ctx context.Context, query string) ([]models.FoodRecord, error)
	UpdateFood(ctx context.Context, f *models.FoodRecord) error

	CreateMeal(ctx context.Context, meal *models.Meal) (string, error)
	GetMeal(ctx context.Context, userID, mealID string) (*models.Meal, error)
	ListMeals(ctx context.Context, userID string, limit int) ([]models.Meal, error)
	UpdateMeal(ctx context.Context, meal *models.Meal) error
	DeleteMeal(ctx context.Context, userID, mealID string) error

	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	SaveProfile(ctx context.Context, p *models.Profile) error

	Close() error
}

type Service struct {
	store  Store
	drafts *draft.Registry
	log    *zap.Logger
	now    func() time.Time
}

func New(store Store, drafts *draft.Registry, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, drafts: drafts, log: log, now: time.Now}
}

// FoodInput is the raw form of a new food.
type FoodInput struct {
	Name         string        `json:"name"`
	Barcode      string        `json:"barcode,omitempty"`
	Unit         string        `json:"unit,omitempty"`
	MacrosPer100 models.Macros `json:"macros_per_100"`
}

func (s *Service) CreateFood(ctx context.Context, in FoodInput) (*models.FoodRecord, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	f, err := models.NewFoodRecord(in.Name, in.Barcode, in.Unit, in.MacrosPer100)
	if err != nil {
		return nil, err
	}
	f.UserID = userID
	if err := s.store.CreateFood(ctx, &f); err != nil {
		return nil, errors.Wrap(err, "create food")
	}
	s.log.Info("food created", zap.String("user", userID), zap.String("food", f.ID), zap.String("name", f.Name))
	return &f, nil
}

func (s *Service) UpdateFood(ctx context.Context, id string, upd models.FoodUpdate) (*models.FoodRecord, error) {
	if _, err := identity.UserID(ctx); err != nil {
		return nil, err
	}
	f, err := s.store.GetFood(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load food")
	}
	if f == nil {
		return nil, fmt.Errorf("%w: food %s", models.ErrNotFound, id)
	}
	edited, err := upd.Apply(*f)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateFood(ctx, &edited); err != nil {
		return nil, errors.Wrap(err, "update food")
	}
	return &edited, nil
}

// GetFood returns nil when the food does not exist.
func (s *Service) GetFood(ctx context.Context, id string) (*models.FoodRecord, error) {
	f, err := s.store.GetFood(ctx, id)
	return f, errors.Wrap(err, "get food")
}

// FoodByBarcode returns nil for unknown or blank codes.
func (s *Service) FoodByBarcode(ctx context.Context, raw string) (*models.FoodRecord, error) {
	code := models.NormalizeBarcode(raw)
	if code == "" {
		return nil, nil
	}
	f, err := s.store.GetFoodByBarcode(ctx, code)
	return f, errors.Wrap(err, "find food by barcode")
}

func (s *Service) ListFoods(ctx context.Context) ([]models.FoodRecord, error) {
	foods, err := s.store.ListFoods(ctx)
	return foods, errors.Wrap(err, "list foods")
}

func (s *Service) SearchFoods(ctx context.Context, query string) ([]models.FoodRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListFoods(ctx)
	}
	foods, err := s.store.SearchFoods(ctx, query)
	return foods, errors.Wrap(err, "search foods")
}

func (s *Service) GetMeal(ctx context.Context, mealID string) (*models.Meal, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMeal(ctx, userID, mealID)
	return m, errors.Wrap(err, "get meal")
}

func (s *Service) ListMeals(ctx context.Context, limit int) ([]models.Meal, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	meals, err := s.store.ListMeals(ctx, userID, limit)
	return meals, errors.Wrap(err, "list meals")
}

// MealUpdate replaces the given parts of a committed meal.
type MealUpdate struct {
	Name    *string
	Date    *time.Time
	Entries []models.Entry // nil keeps the current entries
}

func (s *Service) UpdateMeal(ctx context.Context, mealID string, upd MealUpdate) (*models.Meal, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMeal(ctx, userID, mealID)
	if err != nil {
		return nil, errors.Wrap(err, "load meal")
	}
	if m == nil {
		return nil, fmt.Errorf("%w: meal %s", models.ErrNotFound, mealID)
	}
	if upd.Name != nil {
		m.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Date != nil {
		m.Date = *upd.Date
	}
	if upd.Entries != nil {
		m.Entries = append([]models.Entry(nil), upd.Entries...)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMeal(ctx, m); err != nil {
		return nil, errors.Wrap(err, "update meal")
	}
	return m, nil
}

func (s *Service) DeleteMeal(ctx context.Context, mealID string) error {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMeal(ctx, userID, mealID); err != nil {
		return errors.Wrap(err, "delete meal")
	}
	s.log.Info("meal deleted", zap.String("user", userID), zap.String("meal", mealID))
	return nil
}

// DaySummary returns the user's meals on day with totals. An empty day
// means today in the server's local time.
func (s *Service) DaySummary(ctx context.Context, day string) (*nutrition.DaySummary, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if day == "" {
		day = nutrition.DayOf(s.now())
	} else if day, err = nutrition.ParseDay(day); err != nil {
		return nil, err
	}
	meals, err := s.store.ListMeals(ctx, userID, 0)
	if err != nil {
		return nil, errors.Wrap(err, "list meals")
	}
	summary := nutrition.SummarizeDay(meals, day)
	return &summary, nil
}

func (s *Service) GetProfile(ctx context.Context) (*models.Profile, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProfile(ctx, userID)
	return p, errors.Wrap(err, "get profile")
}

type ProfileUpdate struct {
	Name   *string  `json:"name,omitempty"`
	Email  *string  `json:"email,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

func (s *Service) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*models.Profile, error) {
	userID, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load profile")
	}
	if p == nil {
		p = &models.Profile{UserID: userID}
	}
	if upd.Name != nil {
		p.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Email != nil {
		p.Email = strings.TrimSpace(*upd.Email)
	}
	for _, v := range []*float64{upd.Weight, upd.Height} {
		if v != nil && !(*v > 0) {
			return nil, fmt.Errorf("%w: weight and height must be positive", models.ErrInvalidInput)
		}
	}
	if upd.Weight != nil {
		p.Weight = upd.Weight
	}
	if upd.Height != nil {
		p.Height = upd.Height
	}
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return nil, errors.Wrap(err, "save profile")
	}
	return p, nil
}
