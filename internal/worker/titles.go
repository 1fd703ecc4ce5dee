package worker

import "sync"

// Titles holds the database each in-process worker slot is polling. It
// stands in for a process title when workers share one process.
type Titles struct {
	mu sync.RWMutex
	m  map[int]string
}

// NewTitles creates an empty board.
func NewTitles() *Titles {
	return &Titles{m: make(map[int]string)}
}

// Set records db as the current database of slot.
func (t *Titles) Set(slot int, db string) {
	t.mu.Lock()
	t.m[slot] = db
	t.mu.Unlock()
}

// Get returns the current database of slot.
func (t *Titles) Get(slot int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[slot]
}

// Clear forgets slot.
func (t *Titles) Clear(slot int) {
	t.mu.Lock()
	delete(t.m, slot)
	t.mu.Unlock()
}
