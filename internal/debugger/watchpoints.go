package debugger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/retrobasic/basic64k/internal/vars"
)

// Watchpoint monitors one variable's stored value for changes. Detection
// is by value comparison between cycles, not by hooking the store's
// write path, so a write of the same value does not trigger.
type Watchpoint struct {
	ID        int
	Name      string // storage key, e.g. "A", "A$", "X,4,2,X"
	Enabled   bool
	LastValue string // rendered last known value
	HitCount  int
}

// WatchpointManager manages all watchpoints
type WatchpointManager struct {
	mu          sync.RWMutex
	watchpoints map[int]*Watchpoint
	nextID      int
}

// NewWatchpointManager creates a new watchpoint manager
func NewWatchpointManager() *WatchpointManager {
	return &WatchpointManager{
		watchpoints: make(map[int]*Watchpoint),
		nextID:      1,
	}
}

// AddWatchpoint adds a new watchpoint on the named variable
func (wm *WatchpointManager) AddWatchpoint(name string) *Watchpoint {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wp := &Watchpoint{
		ID:      wm.nextID,
		Name:    name,
		Enabled: true,
	}

	wm.watchpoints[wp.ID] = wp
	wm.nextID++

	return wp
}

// DeleteWatchpoint removes a watchpoint by ID
func (wm *WatchpointManager) DeleteWatchpoint(id int) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if _, exists := wm.watchpoints[id]; !exists {
		return fmt.Errorf("watchpoint %d not found", id)
	}

	delete(wm.watchpoints, id)
	return nil
}

// CheckWatchpoints compares every enabled watchpoint against the store
// and returns those whose value changed since the last check.
func (wm *WatchpointManager) CheckWatchpoints(store *vars.Store) []*Watchpoint {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	var hits []*Watchpoint
	for _, wp := range wm.watchpoints {
		if !wp.Enabled {
			continue
		}
		current := ""
		if v, ok := store.Peek(wp.Name); ok {
			current = v.String()
		}
		if current != wp.LastValue {
			wp.LastValue = current
			wp.HitCount++
			hits = append(hits, wp)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	return hits
}

// ListWatchpoints returns all watchpoints sorted by ID
func (wm *WatchpointManager) ListWatchpoints() []*Watchpoint {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	list := make([]*Watchpoint, 0, len(wm.watchpoints))
	for _, wp := range wm.watchpoints {
		list = append(list, wp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Clear removes all watchpoints
func (wm *WatchpointManager) Clear() {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.watchpoints = make(map[int]*Watchpoint)
}
