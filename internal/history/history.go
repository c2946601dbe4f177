package history

import (
	"context"
	"fmt"
	"time"

	"nutrition-bot/internal/models"
)

// PageSize is the number of local days shown per history page.
const PageSize = 2

var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

type Repository interface {
	ListMeals(ctx context.Context, userID int64, from, to time.Time) ([]models.Meal, error)
	SumMeals(ctx context.Context, userID int64, from, to time.Time) (models.Macros, error)
	HasMealsBefore(ctx context.Context, userID int64, t time.Time) (bool, error)
}

// Service answers read-side questions over saved meals. Every call reads
// storage directly.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// DayStart returns the start of the user's local calendar day containing t.
func DayStart(u *models.User, t time.Time) time.Time {
	local := u.LocalTime(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// DailyTotals sums the meals of the user's local day containing date.
func (s *Service) DailyTotals(ctx context.Context, u *models.User, date time.Time) (models.Macros, error) {
	start := DayStart(u, date)
	totals, err := s.repo.SumMeals(ctx, u.ID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return models.Macros{}, fmt.Errorf("daily totals: %w", err)
	}
	return totals, nil
}

// Today is DailyTotals for the current local day.
func (s *Service) Today(ctx context.Context, u *models.User) (models.Macros, error) {
	return s.DailyTotals(ctx, u, s.now())
}

// PeriodTotals sums every meal saved at or after since.
func (s *Service) PeriodTotals(ctx context.Context, userID int64, since time.Time) (models.Macros, error) {
	totals, err := s.repo.SumMeals(ctx, userID, since, endOfTime)
	if err != nil {
		return models.Macros{}, fmt.Errorf("period totals: %w", err)
	}
	return totals, nil
}

type Day struct {
	Date   time.Time
	Meals  []models.Meal
	Totals models.Macros
}

type Page struct {
	Offset     int
	Days       []Day
	HasEarlier bool
	HasLater   bool
}

// Page returns PageSize local days ending offset pages before today, newest
// day first.
func (s *Service) Page(ctx context.Context, u *models.User, offset int) (*Page, error) {
	if offset < 0 {
		offset = 0
	}
	today := DayStart(u, s.now())
	newest := today.AddDate(0, 0, -offset*PageSize)
	oldest := newest.AddDate(0, 0, -(PageSize - 1))

	meals, err := s.repo.ListMeals(ctx, u.ID, oldest, newest.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}

	page := &Page{Offset: offset, HasLater: offset > 0}
	for i := 0; i < PageSize; i++ {
		day := Day{Date: newest.AddDate(0, 0, -i)}
		next := day.Date.AddDate(0, 0, 1)
		for _, m := range meals {
			if !m.CreatedAt.Before(day.Date) && m.CreatedAt.Before(next) {
				day.Meals = append(day.Meals, m)
				day.Totals = day.Totals.Add(m.Macros)
			}
		}
		page.Days = append(page.Days, day)
	}

	page.HasEarlier, err = s.repo.HasMealsBefore(ctx, u.ID, oldest)
	if err != nil {
		return nil, fmt.Errorf("check earlier meals: %w", err)
	}
	return page, nil
}
