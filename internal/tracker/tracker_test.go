// internal/tracker/tracker_test.go
package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcp-macro-log/internal/draft"
	"mcp-macro-log/internal/identity"
	"mcp-macro-log/internal/models"
	"mcp-macro-log/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := New(st, draft.NewRegistry(time.Hour), zap.NewNop())
	svc.now = func() time.Time { return time.Date(2025, 6, 26, 12, 0, 0, 0, time.UTC) }
	return svc
}

func asUser(id string) context.Context {
	return identity.WithUser(context.Background(), id)
}

func mustFood(t *testing.T, svc *Service, ctx context.Context, name, barcode string, m models.Macros) *models.FoodRecord {
	t.Helper()
	f, err := svc.CreateFood(ctx, FoodInput{Name: name, Barcode: barcode, MacrosPer100: m})
	require.NoError(t, err)
	return f
}

func TestUnauthenticatedOperationsFail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFood(ctx, FoodInput{Name: "x"})
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = svc.Draft(ctx)
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = svc.SetDraftName(ctx, "x")
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = svc.CommitDraft(ctx, nil)
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = svc.ListMeals(ctx, 0)
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	_, err = svc.DaySummary(ctx, "")
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
	assert.ErrorIs(t, svc.DeleteMeal(ctx, "m"), identity.ErrUnauthenticated)
	_, err = svc.UpdateProfile(ctx, ProfileUpdate{})
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)

	// The catalog is readable without a user.
	_, err = svc.ListFoods(ctx)
	assert.NoError(t, err)
}

func TestCreateFoodNormalizesBarcode(t *testing.T) {
	svc := newTestService(t)
	ctx := asUser("u1")

	f := mustFood(t, svc, ctx, "Bread", "   ", models.Macros{Energy: 250})
	assert.Equal(t, "", f.Barcode)
	assert.Equal(t, "u1", f.UserID)

	g := mustFood(t, svc, ctx, "Crackers", " 123 ", models.Macros{Energy: 400})
	assert.Equal(t, "123", g.Barcode)

	found, err := svc.FoodByBarcode(ctx, "123 ")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, g.ID, found.ID)

	blank, err := svc.FoodByBarcode(ctx, " ")
	require.NoError(t, err)
	assert.Nil(t, blank)

	_, err = svc.CreateFood(ctx, FoodInput{Name: "Dup", Barcode: "123"})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestComposeAndCommitMeal(t *testing.T) {
	svc := newTestService(t)
	ctx := asUser("u1")

	oats := mustFood(t, svc, ctx, "Oats", "", models.Macros{Energy: 370, Protein: 13, Carbohydrate: 60, Fat: 7})
	milk := mustFood(t, svc, ctx, "Milk", "7038", models.Macros{Energy: 46, Protein: 3.4, Carbohydrate: 4.7, Fat: 1.5})

	_, err := svc.SetDraftName(ctx, "Breakfast")
	require.NoError(t, err)
	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{FoodID: oats.ID})
	require.NoError(t, err)
	half := 50.0
	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{FoodID: oats.ID, Amount: &half})
	require.NoError(t, err)
	snap, err := svc.AddFoodToDraft(ctx, AddFoodRef{Barcode: " 7038 "})
	require.NoError(t, err)

	require.Len(t, snap.Entries, 3)
	assert.Equal(t, draft.StatePopulated, snap.State)
	assert.InDelta(t, 370+185+46, snap.Totals.Energy, 1e-9)

	snap, err = svc.UpdateDraftAmount(ctx, 2, 200)
	require.NoError(t, err)
	assert.InDelta(t, 370+185+92, snap.Totals.Energy, 1e-9)

	// Later edits to the food must not touch the draft's snapshot.
	newMacros := models.Macros{Energy: 1}
	_, err = svc.UpdateFood(ctx, milk.ID, models.FoodUpdate{MacrosPer100: &newMacros})
	require.NoError(t, err)

	meal, err := svc.CommitDraft(ctx, nil)
	require.NoError(t, err)
	require.NotEmpty(t, meal.ID)
	assert.Equal(t, "Breakfast", meal.Name)
	assert.Equal(t, svc.now(), meal.Date)
	require.Len(t, meal.Entries, 3)
	assert.Equal(t, 46.0, meal.Entries[2].Macros.Energy)

	after, err := svc.Draft(ctx)
	require.NoError(t, err)
	assert.Equal(t, draft.StateEmpty, after.State)

	stored, err := svc.GetMeal(ctx, meal.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, meal.Entries, stored.Entries)

	day, err := svc.DaySummary(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-26", day.Day)
	require.Len(t, day.Meals, 1)
	assert.InDelta(t, 370+185+92, day.Totals.Energy, 1e-9)
}

func TestCommitRequiresNameAndEntries(t *testing.T) {
	svc := newTestService(t)
	ctx := asUser("u1")
	f := mustFood(t, svc, ctx, "Egg", "", models.Macros{Energy: 155})

	_, err := svc.CommitDraft(ctx, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{FoodID: f.ID})
	require.NoError(t, err)
	_, err = svc.CommitDraft(ctx, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput, "blank name")

	snap, err := svc.Draft(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Entries, 1, "failed commit keeps the draft")

	_, err = svc.SetDraftName(ctx, "  ")
	require.NoError(t, err)
	_, err = svc.CommitDraft(ctx, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput, "whitespace name")
}

func TestDraftErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := asUser("u1")

	_, err := svc.RemoveDraftEntry(ctx, 0)
	assert.ErrorIs(t, err, draft.ErrIndexOutOfRange)
	_, err = svc.UpdateDraftAmount(ctx, 3, 10)
	assert.ErrorIs(t, err, draft.ErrIndexOutOfRange)

	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{FoodID: "missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	f := mustFood(t, svc, ctx, "Egg", "", models.Macros{Energy: 155})
	neg := -5.0
	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{FoodID: f.ID, Amount: &neg})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestDraftsArePerUser(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SetDraftName(asUser("a"), "A's lunch")
	require.NoError(t, err)

	b, err := svc.Draft(asUser("b"))
	require.NoError(t, err)
	assert.Equal(t, draft.StateEmpty, b.State)
}

func TestResetDraftDropsLoadedMeal(t *testing.T) {
	svc := newTestService(t)
	ctx := asUser("u1")
	f := mustFood(t, svc, ctx, "Bread", "", models.Macros{Energy: 250})

	_, err := svc.SetDraftName(ctx, "Toast")
	require.NoError(t, err)
	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{FoodID: f.ID})
	require.NoError(t, err)
	meal, err := svc.CommitDraft(ctx, nil)
	require.NoError(t, err)
	_, err = svc.LoadMealIntoDraft(ctx, meal.ID)
	require.NoError(t, err)

	snap, err := svc.ResetDraft(ctx)
	require.NoError(t, err)
	assert.Equal(t, draft.StateEmpty, snap.State)
	assert.Empty(t, snap.MealID)
	assert.NotNil(t, snap.Entries)

	_, err = svc.ResetDraft(context.Background())
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
}

func TestEditMealThroughDraft(t *testing.T) {
	svc := newTestService(t)
	ctx := asUser("u1")
	f := mustFood(t, svc, ctx, "Rice", "", models.Macros{Energy: 130})

	_, err := svc.SetDraftName(ctx, "Dinner")
	require.NoError(t, err)
	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{FoodID: f.ID})
	require.NoError(t, err)
	when := time.Date(2025, 6, 25, 19, 0, 0, 0, time.UTC)
	meal, err := svc.CommitDraft(ctx, &when)
	require.NoError(t, err)

	snap, err := svc.LoadMealIntoDraft(ctx, meal.ID)
	require.NoError(t, err)
	assert.Equal(t, meal.ID, snap.MealID)
	require.Len(t, snap.Entries, 1)

	_, err = svc.UpdateDraftAmount(ctx, 0, 250)
	require.NoError(t, err)
	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{FoodID: f.ID})
	require.NoError(t, err)
	updated, err := svc.CommitDraft(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, meal.ID, updated.ID)
	assert.True(t, when.Equal(updated.Date), "loaded date is kept")

	meals, err := svc.ListMeals(ctx, 0)
	require.NoError(t, err)
	require.Len(t, meals, 1)
	require.Len(t, meals[0].Entries, 2)
	assert.Equal(t, 250.0, meals[0].Entries[0].Amount)

	_, err = svc.LoadMealIntoDraft(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.LoadMealIntoDraft(asUser("someone-else"), meal.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateAndDeleteMeal(t *testing.T) {
	svc := newTestService(t)
	ctx := asUser("u1")
	f := mustFood(t, svc, ctx, "Apple", "", models.Macros{Energy: 52})

	_, err := svc.SetDraftName(ctx, "Snack")
	require.NoError(t, err)
	_, err = svc.AddFoodToDraft(ctx, AddFoodRef{FoodID: f.ID})
	require.NoError(t, err)
	meal, err := svc.CommitDraft(ctx, nil)
	require.NoError(t, err)

	name := "Afternoon snack"
	upd, err := svc.UpdateMeal(ctx, meal.ID, MealUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, upd.Name)
	assert.Len(t, upd.Entries, 1)

	_, err = svc.UpdateMeal(ctx, meal.ID, MealUpdate{Entries: []models.Entry{}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.UpdateMeal(ctx, "missing", MealUpdate{Name: &name})
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, svc.DeleteMeal(ctx, meal.ID))
	gone, err := svc.GetMeal(ctx, meal.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.ErrorIs(t, svc.DeleteMeal(ctx, meal.ID), models.ErrNotFound)
}

func TestDaySummaryRejectsBadDay(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.DaySummary(asUser("u"), "26/06/2025")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestProfile(t *testing.T) {
	svc := newTestService(t)
	ctx := asUser("u1")

	p, err := svc.GetProfile(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	name, w := "Ola", 80.0
	p, err = svc.UpdateProfile(ctx, ProfileUpdate{Name: &name, Weight: &w})
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "Ola", p.Name)

	zero := 0.0
	_, err = svc.UpdateProfile(ctx, ProfileUpdate{Height: &zero})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) ListMeals(context.Context, string, int) ([]models.Meal, error) {
	return nil, f.err
}

func (f failingStore) CreateMeal(context.Context, *models.Meal) (string, error) {
	return "", f.err
}

func TestStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("store down")
	svc := New(failingStore{err: boom}, draft.NewRegistry(0), nil)
	ctx := asUser("u1")

	_, err := svc.DaySummary(ctx, "2025-06-26")
	assert.ErrorIs(t, err, boom)

	_, err = svc.SetDraftName(ctx, "Lunch")
	require.NoError(t, err)
	require.NoError(t, svc.drafts.Update("u1", func(d *draft.Draft) error {
		d.AddEntry(models.Entry{FoodID: "f", Amount: 100, Unit: "g"})
		return nil
	}))
	_, err = svc.CommitDraft(ctx, nil)
	assert.ErrorIs(t, err, boom)

	snap, err := svc.Draft(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Lunch", snap.Name, "draft survives a failed write")
}
