package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutrition-bot/internal/db"
	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/gpt"
	"nutrition-bot/internal/history"
	"nutrition-bot/internal/ledger"
	"nutrition-bot/internal/media"
	"nutrition-bot/internal/models"
	"nutrition-bot/internal/session"
	"nutrition-bot/pkg/logger"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

type message struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu    sync.Mutex
	sent  []message
	edits []message
}

func (f *fakeMessenger) Send(_ context.Context, chatID int64, text string, _ delivery.Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message{chatID, text})
	return len(f.sent), nil
}

func (f *fakeMessenger) Edit(_ context.Context, chatID int64, _ int, text string, _ delivery.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, message{chatID, text})
	return nil
}

func (f *fakeMessenger) Delete(context.Context, int64, int) error { return nil }

func (f *fakeMessenger) SendDocument(context.Context, int64, string, []byte, string) error {
	return nil
}

type fakeAlerter struct {
	sources []string
}

func (a *fakeAlerter) Alert(_ context.Context, source string, _ error) {
	a.sources = append(a.sources, source)
}

type panicky struct{}

func (panicky) Name() string                          { return "panicky" }
func (panicky) Interval() time.Duration               { return time.Millisecond }
func (panicky) Tick(context.Context, time.Time) error { panic("boom") }

type counting struct {
	mu    sync.Mutex
	ticks int
}

func (c *counting) Name() string            { return "counting" }
func (c *counting) Interval() time.Duration { return time.Millisecond }
func (c *counting) Tick(context.Context, time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return errors.New("always fails")
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	alerts := &fakeAlerter{}
	r := NewRunner(logger.NewNop(), alerts)

	err := r.RunOnce(context.Background(), panicky{}, t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"watcher panicky"}, alerts.sources)
}

func TestRun_ContinuesAfterFailures(t *testing.T) {
	w := &counting{}
	r := NewRunner(logger.NewNop(), &fakeAlerter{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx, w)
		close(done)
	}()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.ticks >= 3
	}, time.Second, time.Millisecond)
	cancel()
	<-done
}

func userWithReminder(at string) *models.User {
	zero := 0
	return &models.User{
		ID: 1, ChatID: 100, Grade: models.GradeFree, TZOffset: &zero,
		Morning:   models.Reminder{Enabled: true, At: at},
		CreatedAt: t0.AddDate(0, 0, -1), LastActivity: t0,
	}
}

func TestReminder_FiresOncePerLocalDay(t *testing.T) {
	store := db.NewMemoryDB()
	store.PutUser(userWithReminder("08:00"))
	msgs := &fakeMessenger{}
	w := NewReminder(store, store, history.NewService(store), msgs, logger.NewNop(), time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Tick(ctx, t0))
	require.Len(t, msgs.sent, 1)
	assert.Contains(t, msgs.sent[0].text, "Доброе утро")

	u, _ := store.GetUser(ctx, 1)
	require.NotNil(t, u.Morning.LastFired)
	assert.True(t, models.SameDate(*u.Morning.LastFired, t0))

	require.NoError(t, w.Tick(ctx, t0.Add(30*time.Second)))
	require.NoError(t, w.Tick(ctx, t0))
	assert.Len(t, msgs.sent, 1, "duplicate tick on the same day")

	require.NoError(t, w.Tick(ctx, t0.AddDate(0, 0, 1)))
	assert.Len(t, msgs.sent, 2)
}

func TestReminder_UsesLocalTime(t *testing.T) {
	store := db.NewMemoryDB()
	u := userWithReminder("11:00")
	offset := 180
	u.TZOffset = &offset
	store.PutUser(u)
	msgs := &fakeMessenger{}
	w := NewReminder(store, store, history.NewService(store), msgs, logger.NewNop(), time.Minute)

	require.NoError(t, w.Tick(context.Background(), t0))
	assert.Len(t, msgs.sent, 1, "08:00 UTC is 11:00 at +03:00")
}

func TestReminder_EveningSummaryIncludesProgress(t *testing.T) {
	store := db.NewMemoryDB()
	u := userWithReminder("")
	u.Evening = models.Reminder{Enabled: true, At: "21:00"}
	store.PutUser(u)
	require.NoError(t, store.SaveGoal(context.Background(), &models.Goal{
		UserID: 1, Targets: models.Targets{Calories: 2000, Protein: 100, Fat: 70, Carbs: 240},
		EveningSummary: true, CreatedAt: t0,
	}))
	require.NoError(t, store.CreateMeal(context.Background(), &models.Meal{
		UserID: 1, Name: "x", Macros: models.Macros{Calories: 500}, CreatedAt: t0,
	}))
	msgs := &fakeMessenger{}
	w := NewReminder(store, store, history.NewService(store), msgs, logger.NewNop(), time.Minute)

	require.NoError(t, w.Tick(context.Background(), time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC)))
	require.Len(t, msgs.sent, 1)
	assert.Contains(t, msgs.sent[0].text, "500 ккал")
	assert.Contains(t, msgs.sent[0].text, "Калории: 500 / 2000 ккал")
}

func TestReminder_RetiresGoals(t *testing.T) {
	store := db.NewMemoryDB()
	ctx := context.Background()

	paid := userWithReminder("")
	paid.ID, paid.ChatID, paid.Grade = 1, 100, models.GradePaidLight
	free := userWithReminder("")
	free.ID, free.ChatID = 2, 200
	active := userWithReminder("")
	active.ID, active.ChatID = 3, 300
	for _, u := range []*models.User{paid, free, active} {
		store.PutUser(u)
	}

	// Paid user: no meals for three days.
	require.NoError(t, store.SaveGoal(ctx, &models.Goal{UserID: 1, CreatedAt: t0.AddDate(0, 0, -5)}))
	require.NoError(t, store.CreateMeal(ctx, &models.Meal{UserID: 1, CreatedAt: t0.AddDate(0, 0, -3)}))
	// Free user: eats daily but the goal trial is over.
	require.NoError(t, store.SaveGoal(ctx, &models.Goal{UserID: 2, CreatedAt: t0.AddDate(0, 0, -7)}))
	require.NoError(t, store.CreateMeal(ctx, &models.Meal{UserID: 2, CreatedAt: t0.Add(-time.Hour)}))
	// Free user within the trial, ate yesterday.
	require.NoError(t, store.SaveGoal(ctx, &models.Goal{UserID: 3, CreatedAt: t0.AddDate(0, 0, -2)}))
	require.NoError(t, store.CreateMeal(ctx, &models.Meal{UserID: 3, CreatedAt: t0.AddDate(0, 0, -1)}))

	msgs := &fakeMessenger{}
	w := NewReminder(store, store, history.NewService(store), msgs, logger.NewNop(), time.Minute)
	require.NoError(t, w.Tick(ctx, t0))

	_, err := store.GetGoal(ctx, 1)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.GetGoal(ctx, 2)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.GetGoal(ctx, 3)
	assert.NoError(t, err)
	assert.Len(t, msgs.sent, 2)
}

func TestDueThreshold(t *testing.T) {
	tests := []struct {
		name  string
		flags models.ExpiryFlags
		days  int
		want  int
		ok    bool
	}{
		{"far away", models.ExpiryFlags{}, 12, 0, false},
		{"seven", models.ExpiryFlags{}, 7, 7, true},
		{"five uses seven", models.ExpiryFlags{}, 5, 7, true},
		{"five already sent", models.ExpiryFlags{Days7: true}, 5, 0, false},
		{"skipped to one", models.ExpiryFlags{}, 1, 1, true},
		{"expired", models.ExpiryFlags{Days7: true, Days3: true, Days1: true}, 0, 0, true},
		{"expired sent", models.ExpiryFlags{Days0: true}, 0, 0, false},
		{"no period", models.ExpiryFlags{}, -1, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DueThreshold(tc.flags, tc.days)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestSubscription_NotifiesEachThresholdOnce(t *testing.T) {
	store := db.NewMemoryDB()
	end := t0.AddDate(0, 0, 7)
	store.PutUser(&models.User{
		ID: 1, ChatID: 100, Grade: models.GradePaidLight, RequestLimit: 300,
		PeriodStart: t0.AddDate(0, 0, -23), PeriodEnd: &end, DailyWindowStart: t0,
	})
	msgs := &fakeMessenger{}
	w := NewSubscription(store, msgs, logger.NewNop(), time.Hour)
	ctx := context.Background()

	require.NoError(t, w.Tick(ctx, t0))
	require.NoError(t, w.Tick(ctx, t0.Add(time.Hour)))
	require.Len(t, msgs.sent, 1)
	assert.Contains(t, msgs.sent[0].text, "через 7 дн.")

	// Jump straight to one day left: only the one-day notice goes out.
	require.NoError(t, w.Tick(ctx, end.Add(-12*time.Hour)))
	require.Len(t, msgs.sent, 2)
	assert.Contains(t, msgs.sent[1].text, "завтра")
	require.NoError(t, w.Tick(ctx, end.Add(-6*time.Hour)))
	assert.Len(t, msgs.sent, 2)

	require.NoError(t, w.Tick(ctx, end))
	require.Len(t, msgs.sent, 3)
	assert.Contains(t, msgs.sent[2].text, "закончилась")

	u, _ := store.GetUser(ctx, 1)
	assert.Equal(t, models.GradeFree, u.Grade)
	assert.Equal(t, models.ExpiryFlags{Days7: true, Days3: true, Days1: true, Days0: true}, u.Expiry)
}

func TestSubscription_NotifiesPeriodEndedByActivity(t *testing.T) {
	store := db.NewMemoryDB()
	end := t0.AddDate(0, 0, 2)
	store.PutUser(&models.User{
		ID: 1, ChatID: 100, Grade: models.GradePaidPro, RequestLimit: 1000,
		PeriodStart: t0.AddDate(0, 0, -28), PeriodEnd: &end, DailyWindowStart: t0,
		Expiry: models.ExpiryFlags{Days7: true, Days3: true},
	})
	msgs := &fakeMessenger{}
	w := NewSubscription(store, msgs, logger.NewNop(), time.Hour)
	ctx := context.Background()

	// The user writes right after the period ends, before the next tick.
	_, err := store.UpdateUser(ctx, 1, func(u *models.User) error {
		ledger.Refresh(u, end.Add(time.Minute))
		return nil
	})
	require.NoError(t, err)
	u, _ := store.GetUser(ctx, 1)
	require.Equal(t, models.GradeFree, u.Grade)
	require.Equal(t, models.GradePaidPro, u.Expiry.Lapsed)

	require.NoError(t, w.Tick(ctx, end.Add(time.Hour)))
	require.Len(t, msgs.sent, 1)
	assert.Contains(t, msgs.sent[0].text, "Подписка закончилась")

	require.NoError(t, w.Tick(ctx, end.Add(2*time.Hour)))
	assert.Len(t, msgs.sent, 1)

	u, _ = store.GetUser(ctx, 1)
	assert.Equal(t, models.ExpiryFlags{Days7: true, Days3: true, Days1: true, Days0: true}, u.Expiry)
}

func TestCleanup_SweepsStaleSessionsAndMedia(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	disk, err := media.NewDiskStore(dir)
	require.NoError(t, err)
	shared, err := disk.Save(ctx, []byte("a"), "jpg")
	require.NoError(t, err)

	sessions := session.NewMemoryStore()
	sessions.Put(&models.PendingMeal{ID: "1_old", UserID: 1, ChatID: 100, MessageID: 5, MediaPath: shared, CreatedAt: t0})
	sessions.Put(&models.PendingMeal{ID: "1_new", UserID: 1, ChatID: 100, MediaPath: shared, CreatedAt: t0.Add(30 * time.Minute)})

	store := db.NewMemoryDB()
	require.NoError(t, store.CreateMeal(ctx, &models.Meal{UserID: 1, CreatedAt: t0.AddDate(-2, 0, 0)}))
	require.NoError(t, store.CreateMeal(ctx, &models.Meal{UserID: 1, CreatedAt: t0}))

	msgs := &fakeMessenger{}
	w := NewCleanup(sessions, disk, store, msgs, logger.NewNop(), time.Minute)

	require.NoError(t, w.Tick(ctx, t0.Add(StalenessWindow-time.Second)))
	_, ok := sessions.Get("1_old")
	assert.True(t, ok)

	require.NoError(t, w.Tick(ctx, t0.Add(StalenessWindow+time.Second)))
	_, ok = sessions.Get("1_old")
	assert.False(t, ok)
	_, err = disk.Load(ctx, shared)
	assert.NoError(t, err, "media still referenced by a sibling")
	require.Len(t, msgs.edits, 1)
	assert.Equal(t, textSessionExpired, msgs.edits[0].text)

	require.NoError(t, w.Tick(ctx, t0.Add(30*time.Minute+StalenessWindow+time.Second)))
	assert.Empty(t, sessions.Scan())
	_, err = disk.Load(ctx, shared)
	assert.Error(t, err)

	n, _ := store.CountMeals(ctx, 1)
	assert.Equal(t, 1, n, "meals past retention are purged")
}

func TestCleanup_RemindsAboutUnsavedMealOnce(t *testing.T) {
	ctx := context.Background()
	disk, err := media.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	sessions := session.NewMemoryStore()
	sessions.Put(&models.PendingMeal{ID: "1_a", UserID: 1, ChatID: 100, CreatedAt: t0})

	msgs := &fakeMessenger{}
	w := NewCleanup(sessions, disk, db.NewMemoryDB(), msgs, logger.NewNop(), time.Minute)

	require.NoError(t, w.Tick(ctx, t0.Add(10*time.Minute)))
	assert.Empty(t, msgs.sent)
	require.NoError(t, w.Tick(ctx, t0.Add(31*time.Minute)))
	require.NoError(t, w.Tick(ctx, t0.Add(40*time.Minute)))
	require.Len(t, msgs.sent, 1)
	assert.Equal(t, textUnsaved, msgs.sent[0].text)
}

func TestEngagement_MilestonesFireOnce(t *testing.T) {
	store := db.NewMemoryDB()
	store.PutUser(&models.User{
		ID: 1, ChatID: 100, Grade: models.GradeFree, RequestsUsed: 10,
		CreatedAt: t0.AddDate(0, 0, -40), LastActivity: t0.AddDate(0, 0, -15),
	})
	store.PutUser(&models.User{ID: 2, ChatID: 200, Blocked: true, CreatedAt: t0.AddDate(0, 0, -40)})
	msgs := &fakeMessenger{}
	w := NewEngagement(store, msgs, logger.NewNop(), time.Hour)
	ctx := context.Background()

	require.NoError(t, w.Tick(ctx, t0))
	// first request, 10th request, no meals after signup, 14 days inactive.
	require.Len(t, msgs.sent, 4)
	assert.Contains(t, msgs.sent[3].text, "14 дн.")

	require.NoError(t, w.Tick(ctx, t0.Add(time.Hour)))
	assert.Len(t, msgs.sent, 4)

	require.NoError(t, w.Tick(ctx, t0.AddDate(0, 0, 16)))
	require.Len(t, msgs.sent, 5)
	assert.Contains(t, msgs.sent[4].text, "30 дн.")
}

func TestUsage_ReportsAtDateChange(t *testing.T) {
	store := db.NewMemoryDB()
	ctx := context.Background()
	msgs := &fakeMessenger{}
	w := NewUsage(store, msgs, logger.NewNop(), []int64{999}, time.Minute)

	require.NoError(t, w.Tick(ctx, t0))
	_, err := store.AddCounter(ctx, gpt.TokensCounterKey, 1500)
	require.NoError(t, err)
	require.NoError(t, w.Tick(ctx, t0.Add(time.Hour)))
	assert.Empty(t, msgs.sent)

	require.NoError(t, w.Tick(ctx, time.Date(2025, 3, 11, 0, 0, 30, 0, time.UTC)))
	require.Len(t, msgs.sent, 1)
	assert.Equal(t, int64(999), msgs.sent[0].chatID)
	assert.Contains(t, msgs.sent[0].text, "2025-03-10")
	assert.Contains(t, msgs.sent[0].text, "Токенов: 1500")

	tokens, err := store.GetOption(ctx, gpt.TokensCounterKey)
	require.NoError(t, err)
	assert.Equal(t, "0", tokens)

	require.NoError(t, w.Tick(ctx, time.Date(2025, 3, 11, 0, 1, 0, 0, time.UTC)))
	assert.Len(t, msgs.sent, 1)
}

func TestUsage_CountsOnlyTheReportedDay(t *testing.T) {
	store := db.NewMemoryDB()
	ctx := context.Background()
	msgs := &fakeMessenger{}
	w := NewUsage(store, msgs, logger.NewNop(), []int64{999}, time.Minute)
	require.NoError(t, w.Tick(ctx, t0))

	// Two users and two meals on the reported day, one of each after midnight
	// before the first tick of the new day.
	after := time.Date(2025, 3, 11, 0, 0, 10, 0, time.UTC)
	for i, created := range []time.Time{t0, t0.Add(time.Hour), after} {
		store.PutUser(&models.User{ID: int64(i + 1), ChatID: int64(i + 1), CreatedAt: created})
		require.NoError(t, store.CreateMeal(ctx, &models.Meal{UserID: int64(i + 1), Name: "суп", CreatedAt: created}))
	}

	require.NoError(t, w.Tick(ctx, time.Date(2025, 3, 11, 0, 0, 30, 0, time.UTC)))
	require.Len(t, msgs.sent, 1)
	assert.Contains(t, msgs.sent[0].text, "Новых пользователей: 2")
	assert.Contains(t, msgs.sent[0].text, "Записей: 2")
}
