// internal/storage/postgres.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mcp-macro-log/internal/models"
)

type foodRow struct {
	ID        string  `gorm:"primaryKey;type:text"`
	UserID    string  `gorm:"index;not null"`
	Name      string  `gorm:"index;not null"`
	Barcode   *string `gorm:"uniqueIndex"`
	Unit      string  `gorm:"not null"`
	Kcal      float64
	Protein   float64
	Carbs     float64
	Fat       float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (foodRow) TableName() string { return "foods" }

type mealRow struct {
	ID         string    `gorm:"primaryKey;type:text"`
	UserID     string    `gorm:"index:idx_meals_user_date;not null"`
	Name       string    `gorm:"not null"`
	Date       time.Time `gorm:"index:idx_meals_user_date;not null"`
	DateOffset int       // seconds east of UTC the meal was logged at
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Entries    []entryRow `gorm:"foreignKey:MealID;constraint:OnDelete:CASCADE"`
}

func (mealRow) TableName() string { return "meals" }

type entryRow struct {
	ID       uint   `gorm:"primaryKey"`
	MealID   string `gorm:"index;not null"`
	Position int    `gorm:"not null"`
	FoodID   string `gorm:"not null"`
	Name     string
	Amount   float64
	Unit     string
	Kcal     float64
	Protein  float64
	Carbs    float64
	Fat      float64
}

func (entryRow) TableName() string { return "meal_entries" }

type profileRow struct {
	UserID    string `gorm:"primaryKey;type:text"`
	Name      string
	Email     string
	Weight    *float64
	Height    *float64
	CreatedAt time.Time
}

func (profileRow) TableName() string { return "profiles" }

// PostgresStorage is the gorm-backed store used when storage.driver is
// "postgres".
type PostgresStorage struct {
	db *gorm.DB
}

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&foodRow{}, &mealRow{}, &entryRow{}, &profileRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &PostgresStorage{db: db}, nil
}

func (s *PostgresStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStorage) CreateFood(ctx context.Context, f *models.FoodRecord) error {
	f.ID = uuid.NewString()
	row := toFoodRow(*f)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: barcode %q is already registered", models.ErrConflict, f.Barcode)
		}
		return fmt.Errorf("failed to insert food: %w", err)
	}
	f.CreatedAt, f.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (s *PostgresStorage) GetFood(ctx context.Context, id string) (*models.FoodRecord, error) {
	return s.firstFood(ctx, "id = ?", id)
}

func (s *PostgresStorage) GetFoodByBarcode(ctx context.Context, barcode string) (*models.FoodRecord, error) {
	return s.firstFood(ctx, "barcode = ?", barcode)
}

func (s *PostgresStorage) firstFood(ctx context.Context, cond string, arg interface{}) (*models.FoodRecord, error) {
	var row foodRow
	err := s.db.WithContext(ctx).Where(cond, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query food: %w", err)
	}
	f := fromFoodRow(row)
	return &f, nil
}

func (s *PostgresStorage) ListFoods(ctx context.Context) ([]models.FoodRecord, error) {
	var rows []foodRow
	if err := s.db.WithContext(ctx).Order("LOWER(name), id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query foods: %w", err)
	}
	return fromFoodRows(rows), nil
}

func (s *PostgresStorage) SearchFoods(ctx context.Context, query string) ([]models.FoodRecord, error) {
	var rows []foodRow
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	err := s.db.WithContext(ctx).
		Where("LOWER(name) LIKE ?", pattern).
		Order("LOWER(name), id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search foods: %w", err)
	}
	return fromFoodRows(rows), nil
}

func (s *PostgresStorage) UpdateFood(ctx context.Context, f *models.FoodRecord) error {
	res := s.db.WithContext(ctx).Model(&foodRow{}).Where("id = ?", f.ID).Updates(map[string]interface{}{
		"name":    f.Name,
		"unit":    f.Unit,
		"kcal":    f.MacrosPer100.Energy,
		"protein": f.MacrosPer100.Protein,
		"carbs":   f.MacrosPer100.Carbohydrate,
		"fat":     f.MacrosPer100.Fat,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update food: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: food %s", models.ErrNotFound, f.ID)
	}
	f.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *PostgresStorage) CreateMeal(ctx context.Context, meal *models.Meal) (string, error) {
	meal.ID = uuid.NewString()
	row := toMealRow(*meal)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to insert meal: %w", err)
	}
	meal.CreatedAt, meal.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return meal.ID, nil
}

func (s *PostgresStorage) UpdateMeal(ctx context.Context, meal *models.Meal) error {
	row := toMealRow(*meal)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&mealRow{}).
			Where("id = ? AND user_id = ?", meal.ID, meal.UserID).
			Updates(map[string]interface{}{
				"name":        row.Name,
				"date":        row.Date,
				"date_offset": row.DateOffset,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update meal: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: meal %s", models.ErrNotFound, meal.ID)
		}
		if err := tx.Where("meal_id = ?", meal.ID).Delete(&entryRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear meal entries: %w", err)
		}
		if len(row.Entries) > 0 {
			if err := tx.Create(&row.Entries).Error; err != nil {
				return fmt.Errorf("failed to insert entries: %w", err)
			}
		}
		meal.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *PostgresStorage) DeleteMeal(ctx context.Context, userID, mealID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", mealID, userID).Delete(&mealRow{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete meal: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: meal %s", models.ErrNotFound, mealID)
		}
		return tx.Where("meal_id = ?", mealID).Delete(&entryRow{}).Error
	})
}

func (s *PostgresStorage) GetMeal(ctx context.Context, userID, mealID string) (*models.Meal, error) {
	var row mealRow
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("id = ? AND user_id = ?", mealID, userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query meal: %w", err)
	}
	m := fromMealRow(row)
	return &m, nil
}

func (s *PostgresStorage) ListMeals(ctx context.Context, userID string, limit int) ([]models.Meal, error) {
	q := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("user_id = ?", userID).
		Order("date DESC, created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []mealRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}
	meals := make([]models.Meal, 0, len(rows))
	for _, r := range rows {
		meals = append(meals, fromMealRow(r))
	}
	return meals, nil
}

func (s *PostgresStorage) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var row profileRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return &models.Profile{
		UserID:    row.UserID,
		Name:      row.Name,
		Email:     row.Email,
		Weight:    row.Weight,
		Height:    row.Height,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *PostgresStorage) SaveProfile(ctx context.Context, p *models.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	row := profileRow{
		UserID:    p.UserID,
		Name:      p.Name,
		Email:     p.Email,
		Weight:    p.Weight,
		Height:    p.Height,
		CreatedAt: p.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func toFoodRow(f models.FoodRecord) foodRow {
	row := foodRow{
		ID:        f.ID,
		UserID:    f.UserID,
		Name:      f.Name,
		Unit:      f.Unit,
		Kcal:      f.MacrosPer100.Energy,
		Protein:   f.MacrosPer100.Protein,
		Carbs:     f.MacrosPer100.Carbohydrate,
		Fat:       f.MacrosPer100.Fat,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
	if f.Barcode != "" {
		b := f.Barcode
		row.Barcode = &b
	}
	return row
}

func fromFoodRow(r foodRow) models.FoodRecord {
	f := models.FoodRecord{
		ID:     r.ID,
		UserID: r.UserID,
		Name:   r.Name,
		Unit:   r.Unit,
		MacrosPer100: models.Macros{
			Energy:       r.Kcal,
			Protein:      r.Protein,
			Carbohydrate: r.Carbs,
			Fat:          r.Fat,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Barcode != nil {
		f.Barcode = *r.Barcode
	}
	return f
}

func fromFoodRows(rows []foodRow) []models.FoodRecord {
	out := make([]models.FoodRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromFoodRow(r))
	}
	return out
}

func toMealRow(m models.Meal) mealRow {
	_, offset := m.Date.Zone()
	row := mealRow{
		ID:         m.ID,
		UserID:     m.UserID,
		Name:       m.Name,
		Date:       m.Date.UTC(),
		DateOffset: offset,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Entries:    make([]entryRow, 0, len(m.Entries)),
	}
	for i, e := range m.Entries {
		row.Entries = append(row.Entries, entryRow{
			MealID:   m.ID,
			Position: i,
			FoodID:   e.FoodID,
			Name:     e.Name,
			Amount:   e.Amount,
			Unit:     e.Unit,
			Kcal:     e.Macros.Energy,
			Protein:  e.Macros.Protein,
			Carbs:    e.Macros.Carbohydrate,
			Fat:      e.Macros.Fat,
		})
	}
	return row
}

// fromMealRow restores the offset the meal was logged at so its calendar
// day renders the same as when it was written.
func fromMealRow(r mealRow) models.Meal {
	m := models.Meal{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Date:      r.Date.In(time.FixedZone("", r.DateOffset)),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Entries:   make([]models.Entry, 0, len(r.Entries)),
	}
	for _, e := range r.Entries {
		m.Entries = append(m.Entries, models.Entry{
			FoodID: e.FoodID,
			Name:   e.Name,
			Amount: e.Amount,
			Unit:   e.Unit,
			Macros: models.Macros{
				Energy:       e.Kcal,
				Protein:      e.Protein,
				Carbohydrate: e.Carbs,
				Fat:          e.Fat,
			},
		})
	}
	return m
}
