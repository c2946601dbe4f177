package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"nutrition-bot/internal/models"
)

func (db *PostgresDB) CreateMeal(ctx context.Context, m *models.Meal) error {
	query := `
        INSERT INTO meals (user_id, name, ingredients, type, serving, calories, protein, fat, carbs, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	err := db.pool.QueryRow(ctx, query,
		m.UserID, m.Name, models.JoinIngredients(m.Ingredients), string(m.Type), m.Serving,
		m.Calories, m.Protein, m.Fat, m.Carbs, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListMeals returns the user's meals in [from, to), newest first.
func (db *PostgresDB) ListMeals(ctx context.Context, userID int64, from, to time.Time) ([]models.Meal, error) {
	query := `
        SELECT id, user_id, name, ingredients, type, serving, calories, protein, fat, carbs, created_at
        FROM meals
        WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
        ORDER BY created_at DESC
    `
	rows, err := db.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	return scanMeals(rows)
}

func (db *PostgresDB) AllMeals(ctx context.Context, userID int64) ([]models.Meal, error) {
	query := `
        SELECT id, user_id, name, ingredients, type, serving, calories, protein, fat, carbs, created_at
        FROM meals
        WHERE user_id = $1
        ORDER BY created_at
    `
	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	return scanMeals(rows)
}

func scanMeals(rows pgx.Rows) ([]models.Meal, error) {
	var meals []models.Meal
	for rows.Next() {
		var m models.Meal
		var ingredients, typ string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Name, &ingredients, &typ, &m.Serving,
			&m.Calories, &m.Protein, &m.Fat, &m.Carbs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		m.Ingredients = models.SplitIngredients(ingredients)
		m.Type = models.DishType(typ)
		meals = append(meals, m)
	}
	return meals, rows.Err()
}

// SumMeals totals the macros of meals in [from, to).
func (db *PostgresDB) SumMeals(ctx context.Context, userID int64, from, to time.Time) (models.Macros, error) {
	query := `
        SELECT COALESCE(SUM(calories), 0), COALESCE(SUM(protein), 0),
               COALESCE(SUM(fat), 0), COALESCE(SUM(carbs), 0)
        FROM meals
        WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
    `
	var m models.Macros
	err := db.pool.QueryRow(ctx, query, userID, from, to).Scan(&m.Calories, &m.Protein, &m.Fat, &m.Carbs)
	if err != nil {
		return models.Macros{}, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

// LastMealAt returns the newest meal time, nil when the user has none.
func (db *PostgresDB) LastMealAt(ctx context.Context, userID int64) (*time.Time, error) {
	var t *time.Time
	err := db.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM meals WHERE user_id = $1`, userID).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (db *PostgresDB) CountMeals(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM meals WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// CountMealsBetween counts meals logged in [from, to). A zero to leaves the
// range open.
func (db *PostgresDB) CountMealsBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx, `
        SELECT count(*) FROM meals
        WHERE created_at >= $1 AND ($2::timestamptz IS NULL OR created_at < $2)
    `, from, upperBound(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// HasMealsBefore reports whether the user logged anything before t.
func (db *PostgresDB) HasMealsBefore(ctx context.Context, userID int64, t time.Time) (bool, error) {
	var ok bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM meals WHERE user_id = $1 AND created_at < $2)`, userID, t).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

// DeleteMealsBefore purges meals older than the retention cutoff.
func (db *PostgresDB) DeleteMealsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM meals WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
