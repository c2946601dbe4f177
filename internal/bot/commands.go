package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nutrition-bot/internal/capture"
	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/goal"
	"nutrition-bot/internal/history"
	"nutrition-bot/internal/ledger"
	"nutrition-bot/internal/models"
)

// handleCommand processes bot commands
func (t *TelegramBot) handleCommand(ctx context.Context, src capture.Source, message *tgbotapi.Message) error {
	command := message.Command()
	args := strings.TrimSpace(message.CommandArguments())

	t.logger.Infow("Handling command", "command", command, "user_id", src.UserID)

	if t.admin.Command != "" && command == t.admin.Command {
		return t.handleAdmin(ctx, src, args)
	}

	switch command {
	case "start":
		return t.cmdStart(ctx, src, args)
	case "help":
		t.reply(ctx, src.ChatID, textCommands, nil)
	case "cancel":
		t.clearForm(src.UserID)
		t.reply(ctx, src.ChatID, textFormCancel, nil)
	case "goal":
		return t.cmdGoal(ctx, src, args)
	case "goal_stop":
		t.clearForm(src.UserID)
		if err := t.store.DeleteGoal(ctx, src.UserID); err != nil {
			return err
		}
		t.reply(ctx, src.ChatID, textGoalStopped, nil)
	case "subscribe":
		t.showPlans(ctx, src)
	case "trial":
		return t.cmdTrial(ctx, src)
	case "timezone":
		return t.cmdTimezone(ctx, src, args)
	case "remind":
		return t.cmdRemind(ctx, src, args)
	case "history":
		return t.showHistory(ctx, src, 0, 0)
	case "stats":
		return t.cmdStats(ctx, src)
	case "export":
		return t.cmdExport(ctx, src)
	default:
		t.reply(ctx, src.ChatID, textUnknownCommand, nil)
	}
	return nil
}

func (t *TelegramBot) cmdStart(ctx context.Context, src capture.Source, args string) error {
	switch args {
	case startPaid:
		t.reply(ctx, src.ChatID, textPaidThanks, nil)
	case startCancel:
		t.reply(ctx, src.ChatID, textPaidCancel, nil)
	default:
		t.reply(ctx, src.ChatID, textWelcome, nil)
	}
	return nil
}

const (
	referralPrefix = "ref_"
	startPaid      = "paid"
	startCancel    = "cancel"
)

// parseReferrer reads the inviting user from a "ref_<id>" start payload.
func parseReferrer(args string) int64 {
	if !strings.HasPrefix(args, referralPrefix) {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args, referralPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func (t *TelegramBot) cmdTrial(ctx context.Context, src capture.Source) error {
	_, started, err := t.ledger.StartTrial(ctx, src.UserID, models.GradeTrialLight)
	if err != nil {
		return err
	}
	if !started {
		t.reply(ctx, src.ChatID, textTrialUsed, nil)
		return nil
	}
	limits := ledger.LimitsFor(models.GradeTrialLight)
	t.reply(ctx, src.ChatID, fmt.Sprintf(textTrialStarted, ledger.TrialDays, limits.Monthly), nil)
	return nil
}

func (t *TelegramBot) cmdTimezone(ctx context.Context, src capture.Source, args string) error {
	offset, err := ParseTimezone(args)
	if err != nil {
		t.reply(ctx, src.ChatID, textTimezoneUsage, nil)
		return nil
	}
	if _, err := t.store.UpdateUser(ctx, src.UserID, func(u *models.User) error {
		u.TZOffset = &offset
		return nil
	}); err != nil {
		return err
	}
	t.reply(ctx, src.ChatID, fmt.Sprintf(textTimezoneSet, FormatOffset(offset)), nil)
	return nil
}

// ParseTimezone reads a UTC offset such as "+03:00", "-5" or "UTC+5:30"
// into minutes east of UTC.
func ParseTimezone(s string) (int, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimPrefix(s, "UTC")
	s = strings.TrimPrefix(s, "GMT")
	if s == "" {
		return 0, models.ErrInvalidInput
	}

	sign := 1
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}

	hours, minutes := s, "0"
	if i := strings.IndexAny(s, ":."); i >= 0 {
		hours, minutes = s[:i], s[i+1:]
	}
	h, err := strconv.Atoi(hours)
	if err != nil || h < 0 {
		return 0, fmt.Errorf("%w: hours %q", models.ErrInvalidInput, hours)
	}
	m, err := strconv.Atoi(minutes)
	if err != nil || m < 0 || m >= 60 {
		return 0, fmt.Errorf("%w: minutes %q", models.ErrInvalidInput, minutes)
	}

	offset := sign * (h*60 + m)
	if offset < -12*60 || offset > 14*60 {
		return 0, fmt.Errorf("%w: offset %d out of range", models.ErrInvalidInput, offset)
	}
	return offset, nil
}

// FormatOffset renders minutes east of UTC as "+03:00".
func FormatOffset(minutes int) string {
	sign := "+"
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return fmt.Sprintf("%s%02d:%02d", sign, minutes/60, minutes%60)
}

type RemindRequest struct {
	Kind    models.ReminderKind
	At      string
	Enabled bool
}

// ParseRemind reads "<slot> <HH:MM|off>".
func ParseRemind(args string) (RemindRequest, error) {
	fields := strings.Fields(strings.ToLower(args))
	if len(fields) != 2 {
		return RemindRequest{}, models.ErrInvalidInput
	}

	kind := models.ReminderKind(fields[0])
	if _, ok := reminderNames[kind]; !ok {
		return RemindRequest{}, fmt.Errorf("%w: slot %q", models.ErrInvalidInput, fields[0])
	}
	if fields[1] == "off" {
		return RemindRequest{Kind: kind}, nil
	}
	at, err := time.Parse("15:04", fields[1])
	if err != nil {
		return RemindRequest{}, fmt.Errorf("%w: time %q", models.ErrInvalidInput, fields[1])
	}
	return RemindRequest{Kind: kind, At: at.Format("15:04"), Enabled: true}, nil
}

func (t *TelegramBot) cmdRemind(ctx context.Context, src capture.Source, args string) error {
	req, err := ParseRemind(args)
	if err != nil {
		t.reply(ctx, src.ChatID, textRemindUsage, nil)
		return nil
	}

	errNeedTZ := errors.New("timezone is not set")
	_, err = t.store.UpdateUser(ctx, src.UserID, func(u *models.User) error {
		if req.Enabled && u.TZOffset == nil {
			return errNeedTZ
		}
		r := u.Reminder(req.Kind)
		r.Enabled = req.Enabled
		if req.Enabled {
			r.At = req.At
		}
		return nil
	})
	switch {
	case errors.Is(err, errNeedTZ):
		t.reply(ctx, src.ChatID, textRemindNeedTZ, nil)
		return nil
	case err != nil:
		return err
	}

	if req.Enabled {
		t.reply(ctx, src.ChatID, fmt.Sprintf(textRemindOn, reminderNames[req.Kind], req.At), nil)
	} else {
		t.reply(ctx, src.ChatID, fmt.Sprintf(textRemindOff, reminderNames[req.Kind]), nil)
	}
	return nil
}

// showHistory sends the first page, or edits msgID in place when paging.
func (t *TelegramBot) showHistory(ctx context.Context, src capture.Source, msgID, offset int) error {
	u, err := t.store.GetUser(ctx, src.UserID)
	if err != nil {
		return err
	}
	page, err := t.history.Page(ctx, u, offset)
	if err != nil {
		return err
	}

	text, kb := history.PageText(u, page), historyKeyboard(page)
	if msgID != 0 {
		if err := t.messenger.Edit(ctx, src.ChatID, msgID, text, kb); err == nil {
			return nil
		}
	}
	t.reply(ctx, src.ChatID, text, kb)
	return nil
}

func historyKeyboard(p *history.Page) delivery.Keyboard {
	var row []delivery.Button
	if p.HasEarlier {
		row = append(row, delivery.Button{Text: textEarlier, Data: historyData(p.Offset + 1)})
	}
	if p.HasLater {
		row = append(row, delivery.Button{Text: textLater, Data: historyData(p.Offset - 1)})
	}
	if len(row) == 0 {
		return nil
	}
	return delivery.Keyboard{row}
}

func (t *TelegramBot) cmdStats(ctx context.Context, src capture.Source) error {
	u, err := t.store.GetUser(ctx, src.UserID)
	if err != nil {
		return err
	}
	now := t.now()

	today, err := t.history.Today(ctx, u)
	if err != nil {
		return err
	}
	week, err := t.history.PeriodTotals(ctx, u.ID, history.DayStart(u, now).AddDate(0, 0, -6))
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Сегодня: %s\n", history.MacrosLine(today))
	fmt.Fprintf(&b, "📆 За 7 дней: %s\n", history.MacrosLine(week))

	g, err := t.store.GetGoal(ctx, u.ID)
	switch {
	case err == nil:
		b.WriteString("\n" + goal.ProgressText(today, g.Targets) + "\n")
	case !errors.Is(err, models.ErrNotFound):
		return err
	}

	b.WriteString("\n" + planLine(u, now))
	t.reply(ctx, src.ChatID, b.String(), nil)
	return nil
}

// planLine describes the grade, usage and remaining period.
func planLine(u *models.User, now time.Time) string {
	ledger.Refresh(u, now)
	line := fmt.Sprintf("Тариф: %s, запросов %d из %d", gradeNames[u.Grade], u.RequestsUsed, u.RequestLimit)
	if days := ledger.DaysLeft(u, now); days >= 0 {
		line += fmt.Sprintf(", осталось %d дн.", days)
	}
	return line
}

func (t *TelegramBot) cmdExport(ctx context.Context, src capture.Source) error {
	u, err := t.store.GetUser(ctx, src.UserID)
	if err != nil {
		return err
	}
	meals, err := t.store.AllMeals(ctx, u.ID)
	if err != nil {
		return err
	}
	if len(meals) == 0 {
		t.reply(ctx, src.ChatID, textNoMeals, nil)
		return nil
	}

	var buf bytes.Buffer
	if err := history.WriteCSV(&buf, u, meals); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	name := fmt.Sprintf("meals_%s.csv", u.LocalTime(t.now()).Format("2006-01-02"))
	return t.messenger.SendDocument(ctx, src.ChatID, name, buf.Bytes(), textExportNote)
}

func (t *TelegramBot) cmdGoal(ctx context.Context, src capture.Source, args string) error {
	if args != "new" {
		g, err := t.store.GetGoal(ctx, src.UserID)
		if err == nil {
			t.reply(ctx, src.ChatID, fmt.Sprintf(textGoalShow, goal.TargetsText(g.Targets)), nil)
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}
	}
	t.startForm(ctx, src)
	return nil
}
