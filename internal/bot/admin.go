package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nutrition-bot/internal/capture"
	"nutrition-bot/internal/gpt"
	"nutrition-bot/internal/models"
)

// AdminRequest is a parsed "<password> <action> [args]" admin command.
type AdminRequest struct {
	Password string
	Action   string
	UserID   int64
	Days     int
	Grade    models.Grade
}

const adminUsage = "Формат: <пароль> grant <id> <дни> <тариф> | block <id> | unblock <id> | stats"

func ParseAdmin(args string) (AdminRequest, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return AdminRequest{}, models.ErrInvalidInput
	}
	req := AdminRequest{Password: fields[0], Action: fields[1]}
	rest := fields[2:]

	var err error
	switch req.Action {
	case "stats":
		if len(rest) != 0 {
			return AdminRequest{}, models.ErrInvalidInput
		}
	case "block", "unblock":
		if len(rest) != 1 {
			return AdminRequest{}, models.ErrInvalidInput
		}
		req.UserID, err = strconv.ParseInt(rest[0], 10, 64)
	case "grant":
		if len(rest) != 3 {
			return AdminRequest{}, models.ErrInvalidInput
		}
		if req.UserID, err = strconv.ParseInt(rest[0], 10, 64); err != nil {
			break
		}
		if req.Days, err = strconv.Atoi(rest[1]); err != nil {
			break
		}
		req.Grade = models.Grade(rest[2])
	default:
		return AdminRequest{}, fmt.Errorf("%w: action %q", models.ErrInvalidInput, req.Action)
	}
	if err != nil {
		return AdminRequest{}, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return req, nil
}

// handleAdmin runs an operator action. A wrong password looks like an
// unknown command.
func (t *TelegramBot) handleAdmin(ctx context.Context, src capture.Source, args string) error {
	fields := strings.Fields(args)
	if t.admin.Password == "" || len(fields) == 0 || fields[0] != t.admin.Password {
		t.logger.Warnw("Rejected admin command", "user_id", src.UserID)
		t.reply(ctx, src.ChatID, textUnknownCommand, nil)
		return nil
	}
	req, err := ParseAdmin(args)
	if err != nil {
		t.reply(ctx, src.ChatID, adminUsage, nil)
		return nil
	}

	t.logger.Infow("Admin command", "user_id", src.UserID, "action", req.Action, "target", req.UserID)

	switch req.Action {
	case "grant":
		u, err := t.ledger.GrantDays(ctx, req.UserID, req.Days, req.Grade)
		if err != nil {
			t.reply(ctx, src.ChatID, fmt.Sprintf("Не удалось: %v", err), nil)
			return nil
		}
		until := ""
		if u.PeriodEnd != nil {
			until = " до " + u.PeriodEnd.UTC().Format("02.01.2006 15:04") + " UTC"
		}
		t.reply(ctx, src.ChatID, fmt.Sprintf("Готово: %d, %s%s", u.ID, gradeNames[u.Grade], until), nil)
	case "block", "unblock":
		if err := t.ledger.SetBlocked(ctx, req.UserID, req.Action == "block"); err != nil {
			t.reply(ctx, src.ChatID, fmt.Sprintf("Не удалось: %v", err), nil)
			return nil
		}
		t.reply(ctx, src.ChatID, fmt.Sprintf("Готово: %s %d", req.Action, req.UserID), nil)
	case "stats":
		text, err := t.adminStats(ctx)
		if err != nil {
			return err
		}
		t.reply(ctx, src.ChatID, text, nil)
	}
	return nil
}

func (t *TelegramBot) adminStats(ctx context.Context) (string, error) {
	now := t.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	dayEnd := dayStart.AddDate(0, 0, 1)

	total, err := t.store.CountUsersBetween(ctx, time.Time{}, time.Time{})
	if err != nil {
		return "", err
	}
	newToday, err := t.store.CountUsersBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return "", err
	}
	meals, err := t.store.CountMealsBetween(ctx, dayStart, dayEnd)
	if err != nil {
		return "", err
	}
	tokens, err := t.store.GetOption(ctx, gpt.TokensCounterKey)
	if errors.Is(err, models.ErrNotFound) {
		tokens, err = "0", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("👥 Пользователей: %d (новых сегодня: %d)\n🍽 Записей сегодня: %d\n🔢 Токенов сегодня: %s",
		total, newToday, meals, tokens), nil
}
