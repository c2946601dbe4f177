package capture

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
	"nutrition-bot/internal/ledger"
	"nutrition-bot/internal/media"
	"nutrition-bot/internal/models"
	"nutrition-bot/internal/session"
	"nutrition-bot/pkg/logger"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type call struct {
	in   gpt.Input
	hint string
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	results []gpt.Result
	calls   []call
	during  func()
}

func (f *fakeAnalyzer) Analyze(_ context.Context, in gpt.Input, hint string) gpt.Result {
	f.mu.Lock()
	f.calls = append(f.calls, call{in: in, hint: hint})
	i := len(f.calls) - 1
	during := f.during
	f.mu.Unlock()
	if during != nil {
		during()
	}
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]
}

type sent struct {
	chatID int64
	msgID  int
	text   string
	kb     delivery.Keyboard
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int
	sent   []sent
	edits  []sent
}

func (f *fakeMessenger) Send(_ context.Context, chatID int64, text string, kb delivery.Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sent{chatID: chatID, msgID: f.nextID, text: text, kb: kb})
	return f.nextID, nil
}

func (f *fakeMessenger) Edit(_ context.Context, chatID int64, msgID int, text string, kb delivery.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sent{chatID: chatID, msgID: msgID, text: text, kb: kb})
	return nil
}

func (f *fakeMessenger) Delete(context.Context, int64, int) error { return nil }

func (f *fakeMessenger) SendDocument(context.Context, int64, string, []byte, string) error {
	return nil
}

func (f *fakeMessenger) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) > 0 {
		return f.edits[len(f.edits)-1]
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

type fixture struct {
	machine  *Machine
	store    *db.MemoryDB
	sessions *session.MemoryStore
	analyzer *fakeAnalyzer
	msgs     *fakeMessenger
	media    *media.DiskStore
	ledger   *ledger.Service
}

func newFixture(t *testing.T, results ...gpt.Result) *fixture {
	t.Helper()
	store := db.NewMemoryDB()
	disk, err := media.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	clock := func() time.Time { return t0 }
	f := &fixture{
		store:    store,
		sessions: session.NewMemoryStore(),
		analyzer: &fakeAnalyzer{results: results},
		msgs:     &fakeMessenger{},
		media:    disk,
		ledger:   ledger.NewService(store).WithClock(clock),
	}
	f.machine = NewMachine(Deps{
		Ledger:    f.ledger,
		Analyzer:  f.analyzer,
		Sessions:  f.sessions,
		Meals:     store,
		Messenger: f.msgs,
		Media:     disk,
		Logger:    logger.NewNop(),
	}).WithClock(clock)
	return f
}

func (f *fixture) user(t *testing.T, grade models.Grade, used, limit int) {
	t.Helper()
	end := t0.AddDate(0, 0, 10)
	u := &models.User{
		ID: 1, ChatID: 100, Grade: grade, RequestsUsed: used, RequestLimit: limit,
		PeriodStart: t0.AddDate(0, 0, -1), DailyWindowStart: t0.Add(-time.Hour), CreatedAt: t0.AddDate(0, 0, -1),
	}
	if grade != models.GradeFree {
		u.PeriodEnd = &end
	}
	f.store.PutUser(u)
}

func (f *fixture) onlySession(t *testing.T) *models.PendingMeal {
	t.Helper()
	all := f.sessions.Scan()
	require.Len(t, all, 1)
	return all[0]
}

var src = Source{UserID: 1, ChatID: 100}

var apple = models.Dish{
	Name: "Apple", Type: models.DishMeal, Serving: 150,
	Macros: models.Macros{Calories: 78, Protein: 0.4, Fat: 0.3, Carbs: 21},
}

func TestFreeUserTextCaptureEndToEnd(t *testing.T) {
	f := newFixture(t, gpt.Recognized{Dish: apple, Confidence: 0.9})
	f.user(t, models.GradeFree, 19, 20)
	ctx := context.Background()

	require.NoError(t, f.machine.SubmitText(ctx, src, "an apple"))

	u, err := f.store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20, u.RequestsUsed)

	p := f.onlySession(t)
	assert.Equal(t, models.StateConfirming, p.State)
	assert.Equal(t, SaveData(p.ID, false), f.msgs.last().kb[0][0].Data)

	require.NoError(t, f.machine.Save(ctx, src, p.ID, false))

	meals, err := f.store.AllMeals(ctx, 1)
	require.NoError(t, err)
	require.Len(t, meals, 1)
	assert.Equal(t, "Apple", meals[0].Name)
	assert.Equal(t, 150.0, meals[0].Serving)
	assert.Equal(t, apple.Macros, meals[0].Macros)
	assert.Equal(t, t0, meals[0].CreatedAt)

	u, err = f.store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20, u.RequestsUsed, "saving consumes no quota")
	assert.Empty(t, f.sessions.Scan())
}

func TestSaveHalfPortion(t *testing.T) {
	dish := models.Dish{Name: "Pasta", Serving: 200, Macros: models.Macros{Calories: 400, Protein: 14, Fat: 8, Carbs: 70}}
	f := newFixture(t, gpt.Recognized{Dish: dish, Confidence: 0.95})
	f.user(t, models.GradeFree, 0, 20)
	ctx := context.Background()

	require.NoError(t, f.machine.SubmitText(ctx, src, "pasta"))
	p := f.onlySession(t)
	require.NoError(t, f.machine.Save(ctx, src, p.ID, true))

	meals, _ := f.store.AllMeals(ctx, 1)
	require.Len(t, meals, 1)
	assert.Equal(t, "1/2 Pasta", meals[0].Name)
	assert.Equal(t, 100.0, meals[0].Serving)
	assert.Equal(t, 200.0, meals[0].Calories)
	assert.Equal(t, 35.0, meals[0].Carbs)
}

func TestSaveTwiceReportsExpired(t *testing.T) {
	f := newFixture(t, gpt.Recognized{Dish: apple, Confidence: 0.9})
	f.user(t, models.GradeFree, 0, 20)
	ctx := context.Background()

	require.NoError(t, f.machine.SubmitText(ctx, src, "apple"))
	p := f.onlySession(t)
	require.NoError(t, f.machine.Save(ctx, src, p.ID, false))

	err := f.machine.Save(ctx, src, p.ID, false)
	assert.True(t, errors.Is(err, models.ErrSessionNotFound))
	assert.Contains(t, f.msgs.texts(), textExpired)

	n, _ := f.store.CountMeals(ctx, 1)
	assert.Equal(t, 1, n)
}

// clarifyingStore moves a session to clarifying right after the first read,
// as a concurrent clarification would.
type clarifyingStore struct {
	*session.MemoryStore
	once sync.Once
}

func (s *clarifyingStore) Get(id string) (*models.PendingMeal, bool) {
	p, ok := s.MemoryStore.Get(id)
	if ok {
		s.once.Do(func() {
			c := *p
			c.State = models.StateClarifying
			s.MemoryStore.Replace(&c)
		})
	}
	return p, ok
}

func TestSaveRechecksStateAfterPop(t *testing.T) {
	f := newFixture(t)
	f.user(t, models.GradeFree, 0, 20)
	f.sessions.Put(&models.PendingMeal{ID: "1_a", UserID: 1, ChatID: 100, Dish: apple, State: models.StateConfirming, CreatedAt: t0})
	m := NewMachine(Deps{
		Ledger:    f.ledger,
		Analyzer:  f.analyzer,
		Sessions:  &clarifyingStore{MemoryStore: f.sessions},
		Meals:     f.store,
		Messenger: f.msgs,
		Media:     f.media,
		Logger:    logger.NewNop(),
	}).WithClock(func() time.Time { return t0 })
	ctx := context.Background()

	err := m.Save(ctx, src, "1_a", false)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	n, _ := f.store.CountMeals(ctx, 1)
	assert.Zero(t, n)
	p, ok := f.sessions.Get("1_a")
	require.True(t, ok, "session is put back")
	assert.Equal(t, models.StateClarifying, p.State)
}

func TestAmbiguousFlowUsesChosenCandidate(t *testing.T) {
	a := models.Dish{Name: "Apple", Serving: 150, Macros: models.Macros{Calories: 78}}
	b := models.Dish{Name: "Apple pie", Serving: 120, Macros: models.Macros{Calories: 290, Fat: 14}}
	f := newFixture(t, gpt.Ambiguous{Candidates: []models.Dish{a, b}})
	f.user(t, models.GradeFree, 0, 20)
	ctx := context.Background()

	require.NoError(t, f.machine.SubmitText(ctx, src, "apple"))
	p := f.onlySession(t)
	assert.Equal(t, models.StateDisambiguating, p.State)
	assert.Len(t, p.Candidates, 2)
	assert.Empty(t, p.Dish.Name)

	require.NoError(t, f.machine.Choose(ctx, src, p.ID, 1))
	p = f.onlySession(t)
	assert.Equal(t, models.StateConfirming, p.State)
	assert.Equal(t, "Apple pie", p.Dish.Name)
	assert.Equal(t, 290.0, p.Dish.Calories)
	assert.Equal(t, 14.0, p.Dish.Fat)
}

func TestNotFoundConsumesQuotaAndCreatesNoSession(t *testing.T) {
	f := newFixture(t, gpt.NotFood{Confidence: 0.2})
	f.user(t, models.GradeFree, 0, 20)
	ctx := context.Background()

	require.NoError(t, f.machine.SubmitText(ctx, src, "a chair"))
	assert.Empty(t, f.sessions.Scan())
	assert.Equal(t, textNotFood, f.msgs.last().text)

	u, _ := f.store.GetUser(ctx, 1)
	assert.Equal(t, 1, u.RequestsUsed)
}

func TestTransientFailureIsReported(t *testing.T) {
	f := newFixture(t, gpt.TransientFailure{Failure: gpt.FailureRateLimited, Err: gpt.ErrRateLimited})
	f.user(t, models.GradeFree, 0, 20)

	require.NoError(t, f.machine.SubmitText(context.Background(), src, "soup"))
	assert.Empty(t, f.sessions.Scan())
	assert.Equal(t, textUnavailable, f.msgs.last().text)
}

func TestMonthlyLimitDenied(t *testing.T) {
	f := newFixture(t, gpt.Recognized{Dish: apple, Confidence: 0.9})
	f.user(t, models.GradeFree, 20, 20)

	err := f.machine.SubmitText(context.Background(), src, "apple")
	assert.True(t, errors.Is(err, models.ErrMonthlyLimit))
	assert.Empty(t, f.analyzer.calls)
	assert.Equal(t, SubscribeData, f.msgs.last().kb[0][0].Data)
}

func TestPhotoGatedForFreeUsers(t *testing.T) {
	f := newFixture(t, gpt.Recognized{Dish: apple, Confidence: 0.9})
	f.user(t, models.GradeFree, 0, 20)

	err := f.machine.SubmitPhoto(context.Background(), src, []byte{0xff, 0xd8}, "jpg")
	assert.True(t, errors.Is(err, models.ErrFeatureGated))
	assert.Empty(t, f.analyzer.calls)

	u, _ := f.store.GetUser(context.Background(), 1)
	assert.Equal(t, 0, u.RequestsUsed)
}

func TestBlockedUserDenied(t *testing.T) {
	f := newFixture(t, gpt.Recognized{Dish: apple, Confidence: 0.9})
	f.user(t, models.GradeFree, 0, 20)
	require.NoError(t, f.ledger.SetBlocked(context.Background(), 1, true))

	err := f.machine.SubmitText(context.Background(), src, "apple")
	assert.True(t, errors.Is(err, models.ErrBlocked))
	assert.Empty(t, f.analyzer.calls)
}

func TestPhotoClarifyThenSaveRemovesMedia(t *testing.T) {
	partial := models.Dish{Type: models.DishMeal, Serving: 300}
	soup := models.Dish{Name: "Borscht", Serving: 300, Macros: models.Macros{Calories: 180}}
	f := newFixture(t, gpt.NeedsClarification{Partial: partial}, gpt.Recognized{Dish: soup, Confidence: 0.8})
	f.user(t, models.GradePaidLight, 0, 300)
	ctx := context.Background()

	require.NoError(t, f.machine.SubmitPhoto(ctx, src, []byte("jpeg-bytes"), "jpg"))
	p := f.onlySession(t)
	assert.Equal(t, models.StateClarifying, p.State)
	require.NotEmpty(t, p.MediaPath)

	handled, err := f.machine.Clarify(ctx, src, "it is borscht")
	assert.True(t, handled)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
	assert.Len(t, f.analyzer.calls, 1, "hint without digits is rejected locally")

	handled, err = f.machine.Clarify(ctx, src, "borscht 300 g")
	require.NoError(t, err)
	assert.True(t, handled)
	require.Len(t, f.analyzer.calls, 2)
	assert.Equal(t, []byte("jpeg-bytes"), f.analyzer.calls[1].in.Image)
	assert.Equal(t, "borscht 300 g", f.analyzer.calls[1].hint)

	p = f.onlySession(t)
	assert.Equal(t, models.StateConfirming, p.State)
	assert.Equal(t, 1, p.Clarifications)

	u, _ := f.store.GetUser(ctx, 1)
	assert.Equal(t, 1, u.RequestsUsed, "clarification consumes no quota")

	require.NoError(t, f.machine.Save(ctx, src, p.ID, false))
	_, err = f.media.Load(ctx, p.MediaPath)
	assert.Error(t, err, "media is released after save")
}

func TestClarifyWithoutSessionIsNewInput(t *testing.T) {
	f := newFixture(t, gpt.Recognized{Dish: apple, Confidence: 0.9})
	handled, err := f.machine.Clarify(context.Background(), src, "200 g")
	assert.False(t, handled)
	assert.NoError(t, err)
}

func TestEditPassesPriorAndBoundsClarifications(t *testing.T) {
	bigger := apple
	bigger.Serving = 300
	f := newFixture(t, gpt.Recognized{Dish: apple, Confidence: 0.9}, gpt.Recognized{Dish: bigger, Confidence: 0.9})
	f.user(t, models.GradeFree, 0, 20)
	ctx := context.Background()

	require.NoError(t, f.machine.SubmitText(ctx, src, "apple"))
	p := f.onlySession(t)

	for i := 0; i < MaxClarifications; i++ {
		require.NoError(t, f.machine.Edit(ctx, src, p.ID))
		handled, err := f.machine.Clarify(ctx, src, "300 g")
		require.NoError(t, err)
		require.True(t, handled)
	}
	require.Len(t, f.analyzer.calls, 1+MaxClarifications)
	require.NotNil(t, f.analyzer.calls[1].in.Prior)
	assert.Equal(t, "Apple", f.analyzer.calls[1].in.Prior.Name)
	assert.Equal(t, "apple", f.analyzer.calls[1].in.Text)

	require.NoError(t, f.machine.Edit(ctx, src, p.ID))
	assert.Equal(t, textTooManyEdits, f.msgs.texts()[len(f.msgs.texts())-1])
	assert.Equal(t, models.StateConfirming, f.onlySession(t).State)
}

func TestDeletedDuringClarificationIsDiscarded(t *testing.T) {
	partial := models.Dish{Serving: 100}
	f := newFixture(t, gpt.NeedsClarification{Partial: partial}, gpt.Recognized{Dish: apple, Confidence: 0.9})
	f.user(t, models.GradeFree, 0, 20)
	ctx := context.Background()

	require.NoError(t, f.machine.SubmitText(ctx, src, "something"))
	p := f.onlySession(t)

	f.analyzer.during = func() {
		require.NoError(t, f.machine.Discard(ctx, src, p.ID))
	}
	handled, err := f.machine.Clarify(ctx, src, "150 g")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Empty(t, f.sessions.Scan())

	n, _ := f.store.CountMeals(ctx, 1)
	assert.Zero(t, n)
}

func TestDiscardKeepsMediaSharedWithSibling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path, err := f.media.Save(ctx, []byte("x"), "jpg")
	require.NoError(t, err)

	f.sessions.Put(&models.PendingMeal{ID: "1_a", UserID: 1, ChatID: 100, MediaPath: path, State: models.StateDisambiguating, CreatedAt: t0})
	f.sessions.Put(&models.PendingMeal{ID: "1_b", UserID: 1, ChatID: 100, MediaPath: path, State: models.StateDisambiguating, CreatedAt: t0})

	require.NoError(t, f.machine.Discard(ctx, src, "1_a"))
	_, err = f.media.Load(ctx, path)
	assert.NoError(t, err)

	require.NoError(t, f.machine.Discard(ctx, src, "1_b"))
	_, err = f.media.Load(ctx, path)
	assert.Error(t, err)
}

func TestForeignSessionLooksExpired(t *testing.T) {
	f := newFixture(t)
	f.sessions.Put(&models.PendingMeal{ID: "2_a", UserID: 2, State: models.StateConfirming, CreatedAt: t0})

	err := f.machine.Save(context.Background(), src, "2_a", false)
	assert.True(t, errors.Is(err, models.ErrSessionNotFound))
	_, ok := f.sessions.Get("2_a")
	assert.True(t, ok)
}

func TestIsUserFacing(t *testing.T) {
	assert.True(t, IsUserFacing(models.ErrDailyLimit))
	assert.True(t, IsUserFacing(models.ErrSessionNotFound))
	assert.False(t, IsUserFacing(errors.New("db down")))
}
