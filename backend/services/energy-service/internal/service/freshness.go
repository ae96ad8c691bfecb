package service

import (
	"time"

	"energymon/backend/services/energy-service/internal/models"
)

// DefaultStaleAfter is how old the cached reading may get before it is reported as stale.
const DefaultStaleAfter = 8 * time.Second

// Freshness is the outcome of checking a cache snapshot against the clock.
type Freshness struct {
	Stale bool
	// Age is nil when there was no snapshot.
	Age *time.Duration
}

// EvaluateFreshness compares the snapshot's own timestamp with now. A missing snapshot is stale.
func EvaluateFreshness(snapshot models.Reading, ok bool, now time.Time, staleAfter time.Duration) Freshness {
	if !ok {
		return Freshness{Stale: true}
	}
	age := now.Sub(snapshot.Timestamp)
	return Freshness{Stale: age > staleAfter, Age: &age}
}
