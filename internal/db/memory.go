package db

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"nutrition-bot/internal/models"
)

// MemoryDB keeps every table in process memory. It honors the same
// contract as PostgresDB and backs tests and local runs without a database.
type MemoryDB struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	meals    []models.Meal
	goals    map[int64]*models.Goal
	payments []models.Payment
	options  map[string]string
	nudges   map[string]bool
	products []models.Dish
	nextID   int64
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:   make(map[int64]*models.User),
		goals:   make(map[int64]*models.Goal),
		options: make(map[string]string),
		nudges:  make(map[string]bool),
	}
}

func cloneUser(u *models.User) *models.User {
	c := *u
	return &c
}

func (m *MemoryDB) EnsureUser(_ context.Context, id, chatID int64, username string, init func(*models.User)) (*models.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return cloneUser(u), false, nil
	}
	u := &models.User{ID: id, ChatID: chatID, Username: username}
	init(u)
	m.users[id] = u
	return cloneUser(u), true, nil
}

// PutUser stores u as is.
func (m *MemoryDB) PutUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = cloneUser(u)
}

func (m *MemoryDB) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryDB) UpdateUser(_ context.Context, id int64, fn func(*models.User) error) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	work := cloneUser(u)
	if err := fn(work); err != nil {
		return nil, err
	}
	m.users[id] = work
	return cloneUser(work), nil
}

func (m *MemoryDB) ListUsers(_ context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryDB) CountUsersBetween(_ context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if inRange(u.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryDB) MarkNudge(_ context.Context, userID int64, kind string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strconv.FormatInt(userID, 10) + "/" + kind
	if m.nudges[key] {
		return false, nil
	}
	m.nudges[key] = true
	return true, nil
}

func (m *MemoryDB) CreateMeal(_ context.Context, meal *models.Meal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	meal.ID = m.nextID
	c := *meal
	c.Ingredients = append([]string(nil), meal.Ingredients...)
	m.meals = append(m.meals, c)
	return nil
}

func (m *MemoryDB) ListMeals(_ context.Context, userID int64, from, to time.Time) ([]models.Meal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Meal
	for _, meal := range m.meals {
		if meal.UserID == userID && !meal.CreatedAt.Before(from) && meal.CreatedAt.Before(to) {
			out = append(out, meal)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryDB) AllMeals(_ context.Context, userID int64) ([]models.Meal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Meal
	for _, meal := range m.meals {
		if meal.UserID == userID {
			out = append(out, meal)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryDB) SumMeals(ctx context.Context, userID int64, from, to time.Time) (models.Macros, error) {
	meals, _ := m.ListMeals(ctx, userID, from, to)
	var total models.Macros
	for _, meal := range meals {
		total = total.Add(meal.Macros)
	}
	return total, nil
}

func (m *MemoryDB) LastMealAt(_ context.Context, userID int64) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, meal := range m.meals {
		if meal.UserID != userID {
			continue
		}
		if last == nil || meal.CreatedAt.After(*last) {
			t := meal.CreatedAt
			last = &t
		}
	}
	return last, nil
}

func (m *MemoryDB) CountMeals(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, meal := range m.meals {
		if meal.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryDB) CountMealsBetween(_ context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, meal := range m.meals {
		if inRange(meal.CreatedAt, from, to) {
			n++
		}
	}
	return n, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && (to.IsZero() || t.Before(to))
}

func (m *MemoryDB) HasMealsBefore(_ context.Context, userID int64, t time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, meal := range m.meals {
		if meal.UserID == userID && meal.CreatedAt.Before(t) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryDB) DeleteMealsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.meals[:0]
	var n int64
	for _, meal := range m.meals {
		if meal.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, meal)
	}
	m.meals = kept
	return n, nil
}

func (m *MemoryDB) GetGoal(_ context.Context, userID int64) (*models.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.goals[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *g
	return &c, nil
}

func (m *MemoryDB) SaveGoal(_ context.Context, g *models.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *g
	m.goals[g.UserID] = &c
	return nil
}

func (m *MemoryDB) DeleteGoal(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.goals, userID)
	return nil
}

func (m *MemoryDB) ListGoals(_ context.Context) ([]*models.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Goal, 0, len(m.goals))
	for _, g := range m.goals {
		c := *g
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryDB) RecordPayment(ctx context.Context, p *models.Payment, fn func(*models.User) error) (*models.User, error) {
	if p.StripeID != "" {
		dup, _ := m.PaymentExists(ctx, p.StripeID)
		if dup {
			return nil, fmt.Errorf("payment %s already recorded", p.StripeID)
		}
	}
	u, err := m.UpdateUser(ctx, p.UserID, fn)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.payments = append(m.payments, *p)
	return u, nil
}

func (m *MemoryDB) CountPayments(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryDB) PaymentExists(_ context.Context, stripeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.StripeID == stripeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryDB) GetOption(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.options[key]
	if !ok {
		return "", models.ErrNotFound
	}
	return v, nil
}

func (m *MemoryDB) SetOption(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[key] = value
	return nil
}

func (m *MemoryDB) AddCounter(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, _ := strconv.ParseInt(m.options[key], 10, 64)
	cur += delta
	m.options[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *MemoryDB) TakeCounter(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, _ := strconv.ParseInt(m.options[key], 10, 64)
	if _, ok := m.options[key]; ok {
		m.options[key] = "0"
	}
	return cur, nil
}

// AddProduct seeds the reference catalog.
func (m *MemoryDB) AddProduct(d models.Dish) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = append(m.products, d)
}

func (m *MemoryDB) SearchProducts(_ context.Context, name string, limit int) ([]models.Dish, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(name)
	var out []models.Dish
	for _, p := range m.products {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].Name) != len(out[j].Name) {
			return len(out[i].Name) < len(out[j].Name)
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
