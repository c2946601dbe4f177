// Package session keeps pending meal captures between conversational steps.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nutrition-bot/internal/models"
)

// Store is the pending-meal registry. Pop is the only primitive used to
// finalize a capture, so a session can be saved at most once.
type Store interface {
	Put(p *models.PendingMeal)
	Get(id string) (*models.PendingMeal, bool)
	Pop(id string) (*models.PendingMeal, bool)
	// Replace stores p only if its id is still present.
	Replace(p *models.PendingMeal) bool
	Scan() []*models.PendingMeal
}

// NewID derives a session id from the user id and a random suffix.
func NewID(userID int64) string {
	return fmt.Sprintf("%d_%s", userID, uuid.NewString()[:8])
}

// MemoryStore is a mutex-guarded map. Handlers run on separate goroutines,
// so every access takes the lock.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*models.PendingMeal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*models.PendingMeal)}
}

func clone(p *models.PendingMeal) *models.PendingMeal {
	c := *p
	c.Candidates = append([]models.Dish(nil), p.Candidates...)
	c.Dish.Ingredients = append([]string(nil), p.Dish.Ingredients...)
	return &c
}

func (s *MemoryStore) Put(p *models.PendingMeal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[p.ID] = clone(p)
}

func (s *MemoryStore) Get(id string) (*models.PendingMeal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return clone(p), true
}

func (s *MemoryStore) Pop(id string) (*models.PendingMeal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, false
	}
	delete(s.items, id)
	return p, true
}

func (s *MemoryStore) Replace(p *models.PendingMeal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[p.ID]; !ok {
		return false
	}
	s.items[p.ID] = clone(p)
	return true
}

// Scan returns a snapshot ordered by creation time.
func (s *MemoryStore) Scan() []*models.PendingMeal {
	s.mu.Lock()
	out := make([]*models.PendingMeal, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, clone(p))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Referenced reports whether any live session other than except still
// points at the media path.
func Referenced(s Store, path, except string) bool {
	if path == "" {
		return false
	}
	for _, p := range s.Scan() {
		if p.ID != except && p.MediaPath == path {
			return true
		}
	}
	return false
}

// FindByUser returns the newest session of the user in the given state.
func FindByUser(s Store, userID int64, state models.CaptureState) (*models.PendingMeal, bool) {
	var found *models.PendingMeal
	for _, p := range s.Scan() {
		if p.UserID == userID && p.State == state {
			found = p
		}
	}
	return found, found != nil
}

// Sweep pops every session created at or before now-window and returns the
// evicted entries together with the media paths no survivor references.
func Sweep(s Store, now time.Time, window time.Duration) (evicted []*models.PendingMeal, orphaned []string) {
	cutoff := now.Add(-window)
	for _, p := range s.Scan() {
		if p.CreatedAt.After(cutoff) {
			continue
		}
		if popped, ok := s.Pop(p.ID); ok {
			evicted = append(evicted, popped)
		}
	}
	seen := make(map[string]bool)
	for _, p := range evicted {
		if p.MediaPath == "" || seen[p.MediaPath] {
			continue
		}
		seen[p.MediaPath] = true
		if !Referenced(s, p.MediaPath, "") {
			orphaned = append(orphaned, p.MediaPath)
		}
	}
	return evicted, orphaned
}
