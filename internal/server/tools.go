// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"go.uber.org/zap"

	"mcp-macro-log/internal/identity"
	"mcp-macro-log/internal/models"
	"mcp-macro-log/internal/tracker"
)

var errInvalidParams = errors.New("invalid parameters")

type CreateFoodParams struct {
	Name    string  `json:"name" description:"Display name of the food"`
	Barcode string  `json:"barcode,omitempty" description:"Optional barcode; blank means none"`
	Unit    string  `json:"unit,omitempty" description:"Canonical unit: g or ml (default g)"`
	Kcal    float64 `json:"kcal" description:"Energy per 100 units"`
	Protein float64 `json:"protein" description:"Protein per 100 units"`
	Carbs   float64 `json:"carbs" description:"Carbohydrate per 100 units"`
	Fat     float64 `json:"fat" description:"Fat per 100 units"`
}

type UpdateFoodParams struct {
	FoodID  string   `json:"food_id" description:"Food to edit"`
	Name    *string  `json:"name,omitempty"`
	Unit    *string  `json:"unit,omitempty"`
	Kcal    *float64 `json:"kcal,omitempty"`
	Protein *float64 `json:"protein,omitempty"`
	Carbs   *float64 `json:"carbs,omitempty"`
	Fat     *float64 `json:"fat,omitempty"`
}

type FoodIDParams struct {
	FoodID string `json:"food_id"`
}

type BarcodeParams struct {
	Barcode string `json:"barcode"`
}

type SearchFoodsParams struct {
	Query string `json:"query,omitempty" description:"Case-insensitive name substring"`
}

type EstimateFoodParams struct {
	Description string `json:"description" description:"Food to estimate macros for"`
}

type DraftNameParams struct {
	Name string `json:"name"`
}

type DraftAddFoodParams struct {
	FoodID  string   `json:"food_id,omitempty"`
	Barcode string   `json:"barcode,omitempty"`
	Amount  *float64 `json:"amount,omitempty" description:"Quantity in unit (default 100)"`
	Unit    string   `json:"unit,omitempty"`
}

type DraftIndexParams struct {
	Index  *int     `json:"index" description:"Zero-based entry position"`
	Amount *float64 `json:"amount,omitempty"`
}

type MealIDParams struct {
	MealID string `json:"meal_id"`
}

type CommitMealParams struct {
	Date string `json:"date,omitempty" description:"When the meal was eaten (RFC3339, YYYY-MM-DDTHH:MM or YYYY-MM-DD); defaults to now"`
}

type UpdateMealParams struct {
	MealID  string          `json:"meal_id"`
	Name    *string         `json:"name,omitempty"`
	Date    string          `json:"date,omitempty"`
	Entries *[]models.Entry `json:"entries,omitempty" description:"Replaces every entry when set"`
}

type ListMealsParams struct {
	Limit int `json:"limit,omitempty" description:"Maximum number of meals to return (0 = all)"`
}

type DaySummaryParams struct {
	Day string `json:"day,omitempty" description:"Calendar day YYYY-MM-DD; defaults to today"`
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal arguments: %v", errInvalidParams, err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	return nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", errInvalidParams, name)
	}
	return nil
}

var mealTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

// parseMealTime accepts full timestamps and the shorter forms a date/time
// picker produces; the short forms are read in the server's local zone.
func parseMealTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range mealTimeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", models.ErrInvalidInput, s)
}

func (s *MacroLogServer) handleCreateFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params CreateFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	food, err := s.tracker.CreateFood(ctx, tracker.FoodInput{
		Name:    params.Name,
		Barcode: params.Barcode,
		Unit:    params.Unit,
		MacrosPer100: models.Macros{
			Energy:       params.Kcal,
			Protein:      params.Protein,
			Carbohydrate: params.Carbs,
			Fat:          params.Fat,
		},
	})
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(food)
}

func (s *MacroLogServer) handleUpdateFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params UpdateFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := required("food_id", params.FoodID); err != nil {
		return nil, err
	}

	if _, err := identity.UserID(ctx); err != nil {
		return nil, err
	}

	upd := models.FoodUpdate{Name: params.Name, Unit: params.Unit}
	if params.Kcal != nil || params.Protein != nil || params.Carbs != nil || params.Fat != nil {
		current, err := s.tracker.GetFood(ctx, params.FoodID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: food %s", models.ErrNotFound, params.FoodID)
		}
		m := current.MacrosPer100
		overlay(&m.Energy, params.Kcal)
		overlay(&m.Protein, params.Protein)
		overlay(&m.Carbohydrate, params.Carbs)
		overlay(&m.Fat, params.Fat)
		upd.MacrosPer100 = &m
	}

	food, err := s.tracker.UpdateFood(ctx, params.FoodID, upd)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(food)
}

func overlay(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func (s *MacroLogServer) handleListFoods(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	foods, err := s.tracker.ListFoods(ctx)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(foods)
}

func (s *MacroLogServer) handleSearchFoods(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params SearchFoodsParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	foods, err := s.tracker.SearchFoods(ctx, params.Query)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(foods)
}

func (s *MacroLogServer) handleGetFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params FoodIDParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := required("food_id", params.FoodID); err != nil {
		return nil, err
	}
	food, err := s.tracker.GetFood(ctx, params.FoodID)
	if err != nil {
		return nil, err
	}
	return s.lookupResponse("food", food, food != nil)
}

func (s *MacroLogServer) handleFindFoodByBarcode(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params BarcodeParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	food, err := s.tracker.FoodByBarcode(ctx, params.Barcode)
	if err != nil {
		return nil, err
	}
	return s.lookupResponse("food", food, food != nil)
}

func (s *MacroLogServer) handleEstimateFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params EstimateFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := required("description", params.Description); err != nil {
		return nil, err
	}
	if s.estimator == nil {
		return nil, fmt.Errorf("macro estimation is not configured")
	}
	est, err := s.estimator.EstimateFood(ctx, &models.EstimateRequest{Description: params.Description})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate macros: %w", err)
	}
	return s.createJSONResponse(est)
}

func (s *MacroLogServer) handleDraftShow(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	snap, err := s.tracker.Draft(ctx)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(snap)
}

func (s *MacroLogServer) handleDraftSetName(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DraftNameParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	snap, err := s.tracker.SetDraftName(ctx, params.Name)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(snap)
}

func (s *MacroLogServer) handleDraftAddFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DraftAddFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	snap, err := s.tracker.AddFoodToDraft(ctx, tracker.AddFoodRef{
		FoodID:  params.FoodID,
		Barcode: params.Barcode,
		Amount:  params.Amount,
		Unit:    params.Unit,
	})
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(snap)
}

func (s *MacroLogServer) handleDraftUpdateAmount(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DraftIndexParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.Index == nil || params.Amount == nil {
		return nil, fmt.Errorf("%w: index and amount are required", errInvalidParams)
	}
	snap, err := s.tracker.UpdateDraftAmount(ctx, *params.Index, *params.Amount)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(snap)
}

func (s *MacroLogServer) handleDraftRemoveEntry(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DraftIndexParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.Index == nil {
		return nil, fmt.Errorf("%w: index is required", errInvalidParams)
	}
	snap, err := s.tracker.RemoveDraftEntry(ctx, *params.Index)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(snap)
}

func (s *MacroLogServer) handleDraftReset(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	snap, err := s.tracker.ResetDraft(ctx)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(snap)
}

func (s *MacroLogServer) handleDraftLoadMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params MealIDParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := required("meal_id", params.MealID); err != nil {
		return nil, err
	}
	snap, err := s.tracker.LoadMealIntoDraft(ctx, params.MealID)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(snap)
}

func (s *MacroLogServer) handleCommitMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params CommitMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	var date *time.Time
	if params.Date != "" {
		t, err := parseMealTime(params.Date)
		if err != nil {
			return nil, err
		}
		date = &t
	}

	meal, err := s.tracker.CommitDraft(ctx, date)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(meal)
}

func (s *MacroLogServer) handleGetMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params MealIDParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := required("meal_id", params.MealID); err != nil {
		return nil, err
	}
	meal, err := s.tracker.GetMeal(ctx, params.MealID)
	if err != nil {
		return nil, err
	}
	return s.lookupResponse("meal", meal, meal != nil)
}

func (s *MacroLogServer) handleListMeals(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ListMealsParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	meals, err := s.tracker.ListMeals(ctx, params.Limit)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(meals)
}

func (s *MacroLogServer) handleUpdateMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params UpdateMealParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := required("meal_id", params.MealID); err != nil {
		return nil, err
	}

	upd := tracker.MealUpdate{Name: params.Name}
	if params.Date != "" {
		t, err := parseMealTime(params.Date)
		if err != nil {
			return nil, err
		}
		upd.Date = &t
	}
	if params.Entries != nil {
		upd.Entries = *params.Entries
		if upd.Entries == nil {
			upd.Entries = []models.Entry{}
		}
	}

	meal, err := s.tracker.UpdateMeal(ctx, params.MealID, upd)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(meal)
}

func (s *MacroLogServer) handleDeleteMeal(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params MealIDParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if err := required("meal_id", params.MealID); err != nil {
		return nil, err
	}
	if err := s.tracker.DeleteMeal(ctx, params.MealID); err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{"deleted": true, "meal_id": params.MealID})
}

func (s *MacroLogServer) handleDaySummary(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params DaySummaryParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	summary, err := s.tracker.DaySummary(ctx, params.Day)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(summary)
}

func (s *MacroLogServer) handleGetProfile(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	p, err := s.tracker.GetProfile(ctx)
	if err != nil {
		return nil, err
	}
	return s.lookupResponse("profile", p, p != nil)
}

func (s *MacroLogServer) handleUpdateProfile(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params tracker.ProfileUpdate
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	p, err := s.tracker.UpdateProfile(ctx, params)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(p)
}

// lookupResponse renders an optional record as {"found": bool, key: value}.
func (s *MacroLogServer) lookupResponse(key string, v interface{}, found bool) (*protocol.CallToolResult, error) {
	out := map[string]interface{}{"found": found}
	if found {
		out[key] = v
	}
	return s.createJSONResponse(out)
}

func (s *MacroLogServer) registerTools() {
	s.tools = map[string]toolHandler{
		"create_food":          s.handleCreateFood,
		"update_food":          s.handleUpdateFood,
		"list_foods":           s.handleListFoods,
		"search_foods":         s.handleSearchFoods,
		"get_food":             s.handleGetFood,
		"find_food_by_barcode": s.handleFindFoodByBarcode,
		"estimate_food":        s.handleEstimateFood,
		"draft_show":           s.handleDraftShow,
		"draft_set_name":       s.handleDraftSetName,
		"draft_add_food":       s.handleDraftAddFood,
		"draft_update_amount":  s.handleDraftUpdateAmount,
		"draft_remove_entry":   s.handleDraftRemoveEntry,
		"draft_reset":          s.handleDraftReset,
		"draft_load_meal":      s.handleDraftLoadMeal,
		"commit_meal":          s.handleCommitMeal,
		"get_meal":             s.handleGetMeal,
		"list_meals":           s.handleListMeals,
		"update_meal":          s.handleUpdateMeal,
		"delete_meal":          s.handleDeleteMeal,
		"day_summary":          s.handleDaySummary,
		"get_profile":          s.handleGetProfile,
		"update_profile":       s.handleUpdateProfile,
	}

	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	s.log.Debug("registered tools", zap.Strings("tools", names))
}
