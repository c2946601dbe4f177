package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"nutrition-bot/internal/models"
)

// RecordPayment appends the payment row and applies fn to the locked user
// row in one transaction.
func (db *PostgresDB) RecordPayment(ctx context.Context, p *models.Payment, fn func(*models.User) error) (*models.User, error) {
	var out *models.User
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		u, err := getUser(ctx, tx, p.UserID, true)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		query := `
            INSERT INTO payments (user_id, grade, months, amount, currency, stripe_id, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING id
        `
		if err := tx.QueryRow(ctx, query,
			p.UserID, string(p.Grade), p.Months, p.Amount, p.Currency, p.StripeID, p.CreatedAt,
		).Scan(&p.ID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		out = u
		return nil
	})
	return out, err
}

func (db *PostgresDB) CountPayments(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM payments WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// PaymentExists reports whether a checkout session was already applied.
func (db *PostgresDB) PaymentExists(ctx context.Context, stripeID string) (bool, error) {
	var ok bool
	err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE stripe_id = $1)`, stripeID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}
