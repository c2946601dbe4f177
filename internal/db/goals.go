package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"nutrition-bot/internal/models"
)

const goalColumns = `user_id, gender, age, height_cm, weight_kg, body_fat, work, training, target, plan,
        calories, protein, fat, carbs, morning_plan, evening_summary, created_at`

func scanGoal(row pgx.Row) (*models.Goal, error) {
	var g models.Goal
	var gender, work, training, target, plan string
	err := row.Scan(&g.UserID, &gender, &g.Age, &g.HeightCm, &g.WeightKg, &g.BodyFat,
		&work, &training, &target, &plan,
		&g.Calories, &g.Protein, &g.Fat, &g.Carbs, &g.MorningPlan, &g.EveningSummary, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	g.Gender = models.Gender(gender)
	g.Work = models.WorkIntensity(work)
	g.Training = models.TrainingFrequency(training)
	g.Target = models.Target(target)
	g.Plan = models.Plan(plan)
	return &g, nil
}

func (db *PostgresDB) GetGoal(ctx context.Context, userID int64) (*models.Goal, error) {
	return scanGoal(db.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE user_id = $1`, userID))
}

func (db *PostgresDB) SaveGoal(ctx context.Context, g *models.Goal) error {
	query := `
        INSERT INTO goals (` + goalColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        ON CONFLICT (user_id) DO UPDATE SET
            gender = $2, age = $3, height_cm = $4, weight_kg = $5, body_fat = $6,
            work = $7, training = $8, target = $9, plan = $10,
            calories = $11, protein = $12, fat = $13, carbs = $14,
            morning_plan = $15, evening_summary = $16
    `
	_, err := db.pool.Exec(ctx, query,
		g.UserID, string(g.Gender), g.Age, g.HeightCm, g.WeightKg, g.BodyFat,
		string(g.Work), string(g.Training), string(g.Target), string(g.Plan),
		g.Calories, g.Protein, g.Fat, g.Carbs, g.MorningPlan, g.EveningSummary, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (db *PostgresDB) DeleteGoal(ctx context.Context, userID int64) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM goals WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (db *PostgresDB) ListGoals(ctx context.Context) ([]*models.Goal, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+goalColumns+` FROM goals ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var goals []*models.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}
