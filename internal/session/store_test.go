package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutrition-bot/internal/models"
)

var t0 = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func TestNewID(t *testing.T) {
	id := NewID(77)
	assert.True(t, strings.HasPrefix(id, "77_"))
	assert.NotEqual(t, id, NewID(77))
}

func TestPop_AtMostOnce(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&models.PendingMeal{ID: "a", UserID: 1, CreatedAt: t0})

	p, ok := s.Pop("a")
	require.True(t, ok)
	assert.Equal(t, "a", p.ID)

	_, ok = s.Pop("a")
	assert.False(t, ok)
	_, ok = s.Get("a")
	assert.False(t, ok)
}

func TestPop_ConcurrentCallersGetOneRecord(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&models.PendingMeal{ID: "a", CreatedAt: t0})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Pop("a"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestReplace_OnlyWhenPresent(t *testing.T) {
	s := NewMemoryStore()
	p := &models.PendingMeal{ID: "a", State: models.StateClarifying, CreatedAt: t0}
	s.Put(p)

	p.State = models.StateConfirming
	assert.True(t, s.Replace(p))
	got, _ := s.Get("a")
	assert.Equal(t, models.StateConfirming, got.State)

	s.Pop("a")
	assert.False(t, s.Replace(p))
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&models.PendingMeal{ID: "a", Candidates: []models.Dish{{Name: "A"}}})

	got, _ := s.Get("a")
	got.Candidates[0].Name = "changed"

	again, _ := s.Get("a")
	assert.Equal(t, "A", again.Candidates[0].Name)
}

func TestSweep_StalenessWindow(t *testing.T) {
	s := NewMemoryStore()
	window := time.Hour
	s.Put(&models.PendingMeal{ID: "old", CreatedAt: t0, MediaPath: "m1"})

	evicted, _ := Sweep(s, t0.Add(window-time.Second), window)
	assert.Empty(t, evicted)
	_, ok := s.Get("old")
	assert.True(t, ok)

	evicted, orphaned := Sweep(s, t0.Add(window+time.Second), window)
	require.Len(t, evicted, 1)
	assert.Equal(t, []string{"m1"}, orphaned)
	_, ok = s.Get("old")
	assert.False(t, ok)
}

func TestSweep_KeepsMediaReferencedBySibling(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&models.PendingMeal{ID: "old", CreatedAt: t0, MediaPath: "shared"})
	s.Put(&models.PendingMeal{ID: "fresh", CreatedAt: t0.Add(50 * time.Minute), MediaPath: "shared"})

	evicted, orphaned := Sweep(s, t0.Add(61*time.Minute), time.Hour)
	require.Len(t, evicted, 1)
	assert.Empty(t, orphaned)

	evicted, orphaned = Sweep(s, t0.Add(2*time.Hour), time.Hour)
	require.Len(t, evicted, 1)
	assert.Equal(t, []string{"shared"}, orphaned)
}

func TestFindByUser(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&models.PendingMeal{ID: "1", UserID: 1, State: models.StateConfirming, CreatedAt: t0})
	s.Put(&models.PendingMeal{ID: "2", UserID: 1, State: models.StateClarifying, CreatedAt: t0.Add(time.Minute)})
	s.Put(&models.PendingMeal{ID: "3", UserID: 2, State: models.StateClarifying, CreatedAt: t0})

	p, ok := FindByUser(s, 1, models.StateClarifying)
	require.True(t, ok)
	assert.Equal(t, "2", p.ID)

	_, ok = FindByUser(s, 3, models.StateClarifying)
	assert.False(t, ok)
}

func TestReferenced(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&models.PendingMeal{ID: "a", MediaPath: "p"})
	s.Put(&models.PendingMeal{ID: "b", MediaPath: "p"})

	assert.True(t, Referenced(s, "p", "a"))
	s.Pop("b")
	assert.False(t, Referenced(s, "p", "a"))
	assert.False(t, Referenced(s, "", ""))
}
