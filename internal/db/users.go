package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"nutrition-bot/internal/models"
)

const userColumns = `id, chat_id, username, grade, blocked, left_chat, trial_used,
        requests_used, request_limit, daily_used, daily_window_start,
        period_start, period_end, trial_start, trial_end,
        notified_7d, notified_3d, notified_1d, notified_0d, expiry_lapsed,
        tz_offset,
        morning_enabled, morning_at, morning_last,
        day_enabled, day_at, day_last,
        evening_enabled, evening_at, evening_last,
        referrer_id, last_activity, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var grade, lapsed string
	err := row.Scan(
		&u.ID, &u.ChatID, &u.Username, &grade, &u.Blocked, &u.LeftChat, &u.TrialUsed,
		&u.RequestsUsed, &u.RequestLimit, &u.DailyUsed, &u.DailyWindowStart,
		&u.PeriodStart, &u.PeriodEnd, &u.TrialStart, &u.TrialEnd,
		&u.Expiry.Days7, &u.Expiry.Days3, &u.Expiry.Days1, &u.Expiry.Days0, &lapsed,
		&u.TZOffset,
		&u.Morning.Enabled, &u.Morning.At, &u.Morning.LastFired,
		&u.Day.Enabled, &u.Day.At, &u.Day.LastFired,
		&u.Evening.Enabled, &u.Evening.At, &u.Evening.LastFired,
		&u.ReferrerID, &u.LastActivity, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	u.Grade = models.Grade(grade)
	u.Expiry.Lapsed = models.Grade(lapsed)
	return &u, nil
}

func getUser(ctx context.Context, q DBTX, id int64, forUpdate bool) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	u, err := scanUser(q.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, err
}

func insertUser(ctx context.Context, q DBTX, u *models.User) (bool, error) {
	query := `
        INSERT INTO users (id, chat_id, username, grade, requests_used, request_limit,
            daily_window_start, period_start, referrer_id, last_activity, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO NOTHING
    `
	tag, err := q.Exec(ctx, query,
		u.ID, u.ChatID, u.Username, string(u.Grade), u.RequestsUsed, u.RequestLimit,
		u.DailyWindowStart, u.PeriodStart, u.ReferrerID, u.LastActivity, u.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func saveUser(ctx context.Context, q DBTX, u *models.User) error {
	query := `
        UPDATE users SET
            chat_id = $2, username = $3, grade = $4, blocked = $5, left_chat = $6, trial_used = $7,
            requests_used = $8, request_limit = $9, daily_used = $10, daily_window_start = $11,
            period_start = $12, period_end = $13, trial_start = $14, trial_end = $15,
            notified_7d = $16, notified_3d = $17, notified_1d = $18, notified_0d = $19,
            expiry_lapsed = $20, tz_offset = $21,
            morning_enabled = $22, morning_at = $23, morning_last = $24,
            day_enabled = $25, day_at = $26, day_last = $27,
            evening_enabled = $28, evening_at = $29, evening_last = $30,
            referrer_id = $31, last_activity = $32
        WHERE id = $1
    `
	_, err := q.Exec(ctx, query,
		u.ID, u.ChatID, u.Username, string(u.Grade), u.Blocked, u.LeftChat, u.TrialUsed,
		u.RequestsUsed, u.RequestLimit, u.DailyUsed, u.DailyWindowStart,
		u.PeriodStart, u.PeriodEnd, u.TrialStart, u.TrialEnd,
		u.Expiry.Days7, u.Expiry.Days3, u.Expiry.Days1, u.Expiry.Days0,
		string(u.Expiry.Lapsed), u.TZOffset,
		u.Morning.Enabled, u.Morning.At, u.Morning.LastFired,
		u.Day.Enabled, u.Day.At, u.Day.LastFired,
		u.Evening.Enabled, u.Evening.At, u.Evening.LastFired,
		u.ReferrerID, u.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// EnsureUser returns the user, inserting it first when unknown. init fills
// the defaults of a new row.
func (db *PostgresDB) EnsureUser(ctx context.Context, id, chatID int64, username string, init func(*models.User)) (*models.User, bool, error) {
	u, err := getUser(ctx, db.pool, id, false)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	fresh := &models.User{ID: id, ChatID: chatID, Username: username}
	init(fresh)
	created, err := insertUser(ctx, db.pool, fresh)
	if err != nil {
		return nil, false, err
	}
	u, err = getUser(ctx, db.pool, id, false)
	return u, created, err
}

func (db *PostgresDB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return getUser(ctx, db.pool, id, false)
}

// UpdateUser is the read-modify-write primitive: the row is locked, fn
// mutates it, and the result is committed together.
func (db *PostgresDB) UpdateUser(ctx context.Context, id int64, fn func(*models.User) error) (*models.User, error) {
	var out *models.User
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		u, err := getUser(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	return out, err
}

func (db *PostgresDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsersBetween counts users created in [from, to). A zero to leaves the
// range open.
func (db *PostgresDB) CountUsersBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx, `
        SELECT count(*) FROM users
        WHERE created_at >= $1 AND ($2::timestamptz IS NULL OR created_at < $2)
    `, from, upperBound(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// MarkNudge records a one-shot engagement message. It reports true only for
// the call that inserted the marker.
func (db *PostgresDB) MarkNudge(ctx context.Context, userID int64, kind string) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
        INSERT INTO user_nudges (user_id, kind) VALUES ($1, $2)
        ON CONFLICT (user_id, kind) DO NOTHING
    `, userID, kind)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
