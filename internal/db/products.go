package db

import (
	"context"
	"fmt"

	"nutrition-bot/internal/models"
)

// SearchProducts looks name up in the reference catalog. Shorter names rank
// first.
func (db *PostgresDB) SearchProducts(ctx context.Context, name string, limit int) ([]models.Dish, error) {
	query := `
        SELECT name, type, serving, calories, protein, fat, carbs
        FROM products
        WHERE name ILIKE '%' || $1 || '%'
        ORDER BY length(name), name
        LIMIT $2
    `
	rows, err := db.pool.Query(ctx, query, name, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Dish
	for rows.Next() {
		var d models.Dish
		var typ string
		if err := rows.Scan(&d.Name, &typ, &d.Serving, &d.Calories, &d.Protein, &d.Fat, &d.Carbs); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		d.Type = models.DishType(typ)
		out = append(out, d)
	}
	return out, rows.Err()
}
