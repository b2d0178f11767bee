// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mcp-macro-log/internal/models"
)

const timeLayout = time.RFC3339Nano

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dsn := "file:" + dbPath + "?" + url.Values{
		"_pragma": {"foreign_keys(1)", "busy_timeout(5000)"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS foods (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        name TEXT NOT NULL,
        barcode TEXT UNIQUE,
        unit TEXT NOT NULL,
        kcal REAL NOT NULL,
        protein REAL NOT NULL,
        carbs REAL NOT NULL,
        fat REAL NOT NULL,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS meals (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        name TEXT NOT NULL,
        date TEXT NOT NULL,
        date_unix INTEGER NOT NULL,
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS meal_entries (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        meal_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        food_id TEXT NOT NULL,
        name TEXT NOT NULL,
        amount REAL NOT NULL,
        unit TEXT NOT NULL,
        kcal REAL NOT NULL,
        protein REAL NOT NULL,
        carbs REAL NOT NULL,
        fat REAL NOT NULL,
        FOREIGN KEY (meal_id) REFERENCES meals(id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS profiles (
        user_id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        email TEXT NOT NULL,
        weight REAL,
        height REAL,
        created_at TEXT NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_meals_user_date ON meals(user_id, date_unix);
    CREATE INDEX IF NOT EXISTS idx_meal_entries_meal_id ON meal_entries(meal_id, position);
    CREATE INDEX IF NOT EXISTS idx_foods_name ON foods(name);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// CreateFood stores f and fills in its ID and timestamps.
func (s *SQLiteStorage) CreateFood(ctx context.Context, f *models.FoodRecord) error {
	now := time.Now().UTC()
	f.ID = uuid.NewString()
	f.CreatedAt, f.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO foods (id, user_id, name, barcode, unit, kcal, protein, carbs, fat, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		f.ID, f.UserID, f.Name, nullString(f.Barcode), f.Unit,
		f.MacrosPer100.Energy, f.MacrosPer100.Protein, f.MacrosPer100.Carbohydrate, f.MacrosPer100.Fat,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: barcode %q is already registered", models.ErrConflict, f.Barcode)
		}
		return fmt.Errorf("failed to insert food: %w", err)
	}
	return nil
}

const foodColumns = `id, user_id, name, barcode, unit, kcal, protein, carbs, fat, created_at, updated_at`

// GetFood returns nil when no food has that id.
func (s *SQLiteStorage) GetFood(ctx context.Context, id string) (*models.FoodRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+foodColumns+` FROM foods WHERE id = ?`, id)
	return scanOptionalFood(row)
}

// GetFoodByBarcode returns nil when the barcode is unknown.
func (s *SQLiteStorage) GetFoodByBarcode(ctx context.Context, barcode string) (*models.FoodRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+foodColumns+` FROM foods WHERE barcode = ?`, barcode)
	return scanOptionalFood(row)
}

func (s *SQLiteStorage) ListFoods(ctx context.Context) ([]models.FoodRecord, error) {
	return s.queryFoods(ctx, `SELECT `+foodColumns+` FROM foods ORDER BY name COLLATE NOCASE, id`)
}

// SearchFoods matches name substrings case-insensitively.
func (s *SQLiteStorage) SearchFoods(ctx context.Context, query string) ([]models.FoodRecord, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.queryFoods(ctx,
		`SELECT `+foodColumns+` FROM foods WHERE LOWER(name) LIKE ? ESCAPE '\' ORDER BY name COLLATE NOCASE, id`,
		pattern)
}

func (s *SQLiteStorage) UpdateFood(ctx context.Context, f *models.FoodRecord) error {
	f.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
        UPDATE foods SET name = ?, unit = ?, kcal = ?, protein = ?, carbs = ?, fat = ?, updated_at = ?
        WHERE id = ?
    `,
		f.Name, f.Unit,
		f.MacrosPer100.Energy, f.MacrosPer100.Protein, f.MacrosPer100.Carbohydrate, f.MacrosPer100.Fat,
		f.UpdatedAt.Format(timeLayout), f.ID)
	if err != nil {
		return fmt.Errorf("failed to update food: %w", err)
	}
	return expectOneRow(res, "food", f.ID)
}

func (s *SQLiteStorage) queryFoods(ctx context.Context, query string, args ...interface{}) ([]models.FoodRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query foods: %w", err)
	}
	defer rows.Close()

	foods := []models.FoodRecord{}
	for rows.Next() {
		f, err := scanFood(rows)
		if err != nil {
			return nil, err
		}
		foods = append(foods, *f)
	}
	return foods, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFood(row scanner) (*models.FoodRecord, error) {
	f := &models.FoodRecord{}
	var barcode sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(&f.ID, &f.UserID, &f.Name, &barcode, &f.Unit,
		&f.MacrosPer100.Energy, &f.MacrosPer100.Protein, &f.MacrosPer100.Carbohydrate, &f.MacrosPer100.Fat,
		&createdAtStr, &updatedAtStr)
	if err != nil {
		return nil, err
	}
	f.Barcode = barcode.String

	if f.CreatedAt, err = time.Parse(timeLayout, createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if f.UpdatedAt, err = time.Parse(timeLayout, updatedAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return f, nil
}

func scanOptionalFood(row *sql.Row) (*models.FoodRecord, error) {
	f, err := scanFood(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan food: %w", err)
	}
	return f, nil
}

// CreateMeal stores meal with its entries and returns the new id.
func (s *SQLiteStorage) CreateMeal(ctx context.Context, meal *models.Meal) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	meal.ID = uuid.NewString()
	meal.CreatedAt, meal.UpdatedAt = now, now

	_, err = tx.ExecContext(ctx, `
        INSERT INTO meals (id, user_id, name, date, date_unix, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `,
		meal.ID, meal.UserID, meal.Name, meal.Date.Format(timeLayout), meal.Date.UnixNano(),
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("failed to insert meal: %w", err)
	}

	if err := insertEntries(ctx, tx, meal.ID, meal.Entries); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit meal: %w", err)
	}
	return meal.ID, nil
}

// UpdateMeal replaces name, date and the whole entry list of an existing meal.
func (s *SQLiteStorage) UpdateMeal(ctx context.Context, meal *models.Meal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	meal.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
        UPDATE meals SET name = ?, date = ?, date_unix = ?, updated_at = ?
        WHERE id = ? AND user_id = ?
    `,
		meal.Name, meal.Date.Format(timeLayout), meal.Date.UnixNano(), meal.UpdatedAt.Format(timeLayout), meal.ID, meal.UserID)
	if err != nil {
		return fmt.Errorf("failed to update meal: %w", err)
	}
	if err := expectOneRow(res, "meal", meal.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM meal_entries WHERE meal_id = ?`, meal.ID); err != nil {
		return fmt.Errorf("failed to clear meal entries: %w", err)
	}
	if err := insertEntries(ctx, tx, meal.ID, meal.Entries); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) DeleteMeal(ctx context.Context, userID, mealID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meals WHERE id = ? AND user_id = ?`, mealID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete meal: %w", err)
	}
	return expectOneRow(res, "meal", mealID)
}

// GetMeal returns nil when the user has no meal with that id.
func (s *SQLiteStorage) GetMeal(ctx context.Context, userID, mealID string) (*models.Meal, error) {
	meals, err := s.queryMeals(ctx, `
        SELECT id, user_id, name, date, created_at, updated_at
        FROM meals WHERE id = ? AND user_id = ?
    `, mealID, userID)
	if err != nil {
		return nil, err
	}
	if len(meals) == 0 {
		return nil, nil
	}
	return &meals[0], nil
}

// ListMeals returns the user's meals, newest first. limit <= 0 means all.
// date keeps the offset the meal was logged in, so ordering uses date_unix.
func (s *SQLiteStorage) ListMeals(ctx context.Context, userID string, limit int) ([]models.Meal, error) {
	query := `
        SELECT id, user_id, name, date, created_at, updated_at
        FROM meals
        WHERE user_id = ?
        ORDER BY date_unix DESC, rowid DESC
    `
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryMeals(ctx, query, args...)
}

func (s *SQLiteStorage) queryMeals(ctx context.Context, query string, args ...interface{}) ([]models.Meal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query meals: %w", err)
	}

	meals := []models.Meal{}
	for rows.Next() {
		var meal models.Meal
		var dateStr, createdAtStr, updatedAtStr string

		if err := rows.Scan(&meal.ID, &meal.UserID, &meal.Name, &dateStr, &createdAtStr, &updatedAtStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}

		if meal.Date, err = time.Parse(timeLayout, dateStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}
		if meal.CreatedAt, err = time.Parse(timeLayout, createdAtStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if meal.UpdatedAt, err = time.Parse(timeLayout, updatedAtStr); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		meals = append(meals, meal)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Entries are loaded after the meal cursor is closed so a single
	// connection is never asked to serve two open result sets.
	for i := range meals {
		if err := s.loadEntriesForMeal(ctx, &meals[i]); err != nil {
			return nil, fmt.Errorf("failed to load entries for meal %s: %w", meals[i].ID, err)
		}
	}
	return meals, nil
}

func (s *SQLiteStorage) loadEntriesForMeal(ctx context.Context, meal *models.Meal) error {
	rows, err := s.db.QueryContext(ctx, `
        SELECT food_id, name, amount, unit, kcal, protein, carbs, fat
        FROM meal_entries
        WHERE meal_id = ?
        ORDER BY position
    `, meal.ID)
	if err != nil {
		return fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []models.Entry{}
	for rows.Next() {
		var e models.Entry
		err := rows.Scan(&e.FoodID, &e.Name, &e.Amount, &e.Unit,
			&e.Macros.Energy, &e.Macros.Protein, &e.Macros.Carbohydrate, &e.Macros.Fat)
		if err != nil {
			return fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}

	meal.Entries = entries
	return rows.Err()
}

func insertEntries(ctx context.Context, tx *sql.Tx, mealID string, entries []models.Entry) error {
	query := `
        INSERT INTO meal_entries (meal_id, position, food_id, name, amount, unit, kcal, protein, carbs, fat)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	for i, e := range entries {
		_, err := tx.ExecContext(ctx, query,
			mealID, i, e.FoodID, e.Name, e.Amount, e.Unit,
			e.Macros.Energy, e.Macros.Protein, e.Macros.Carbohydrate, e.Macros.Fat)
		if err != nil {
			return fmt.Errorf("failed to insert entry: %w", err)
		}
	}
	return nil
}

// GetProfile returns nil when the user has not saved a profile.
func (s *SQLiteStorage) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	p := &models.Profile{}
	var weight, height sql.NullFloat64
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, `
        SELECT user_id, name, email, weight, height, created_at FROM profiles WHERE user_id = ?
    `, userID).Scan(&p.UserID, &p.Name, &p.Email, &weight, &height, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	if weight.Valid {
		p.Weight = &weight.Float64
	}
	if height.Valid {
		p.Height = &height.Float64
	}
	if p.CreatedAt, err = time.Parse(timeLayout, createdAtStr); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return p, nil
}

func (s *SQLiteStorage) SaveProfile(ctx context.Context, p *models.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO profiles (user_id, name, email, weight, height, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            name = excluded.name, email = excluded.email,
            weight = excluded.weight, height = excluded.height
    `, p.UserID, p.Name, p.Email, nullFloat(p.Weight), nullFloat(p.Height), p.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", models.ErrNotFound, kind, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
