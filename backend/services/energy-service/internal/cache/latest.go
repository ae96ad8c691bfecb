package cache

import (
	"sync"

	"energymon/backend/services/energy-service/internal/models"
)

// Latest holds the most recently ingested reading. The slot is replaced wholesale on every
// update and only ever copied in or out under the lock.
type Latest struct {
	mu      sync.RWMutex
	reading models.Reading
	set     bool
}

// NewLatest returns an empty cache.
func NewLatest() *Latest {
	return &Latest{}
}

// Update replaces the slot with a copy of reading.
func (l *Latest) Update(reading models.Reading) {
	c := reading.Clone()
	l.mu.Lock()
	l.reading = c
	l.set = true
	l.mu.Unlock()
}

// Snapshot returns a copy of the slot. The boolean is false until the first Update.
func (l *Latest) Snapshot() (models.Reading, bool) {
	l.mu.RLock()
	reading, set := l.reading, l.set
	l.mu.RUnlock()
	if !set {
		return models.Reading{}, false
	}
	return reading.Clone(), true
}
