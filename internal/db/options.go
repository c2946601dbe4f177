package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"nutrition-bot/internal/models"
)

// GetOption reads a key from the options table.
func (db *PostgresDB) GetOption(ctx context.Context, key string) (string, error) {
	var v string
	err := db.pool.QueryRow(ctx, `SELECT value FROM options WHERE key = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (db *PostgresDB) SetOption(ctx context.Context, key, value string) error {
	_, err := db.pool.Exec(ctx, `
        INSERT INTO options (key, value) VALUES ($1, $2)
        ON CONFLICT (key) DO UPDATE SET value = $2
    `, key, value)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// AddCounter atomically adds delta to a numeric option and returns the new
// value.
func (db *PostgresDB) AddCounter(ctx context.Context, key string, delta int64) (int64, error) {
	var v int64
	err := db.pool.QueryRow(ctx, `
        INSERT INTO options (key, value) VALUES ($1, ($2::bigint)::text)
        ON CONFLICT (key) DO UPDATE SET value = ((options.value)::bigint + $2::bigint)::text
        RETURNING value::bigint
    `, key, delta).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

// TakeCounter returns the counter value and resets it to zero atomically.
func (db *PostgresDB) TakeCounter(ctx context.Context, key string) (int64, error) {
	var v int64
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT value::bigint FROM options WHERE key = $1 FOR UPDATE`, key).Scan(&v)
		if errors.Is(err, pgx.ErrNoRows) {
			v = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE options SET value = '0' WHERE key = $1`, key)
		return err
	})
	return v, err
}
