package models

// ReadingView is the dashboard shape of a stored record with a display timestamp.
type ReadingView struct {
	TS string `json:"ts"`
	Measurements
}

// DayView is one monthly bucket as returned to the dashboard.
type DayView struct {
	Day string `json:"day"`
	TS  string `json:"ts"`
	Measurements
}

// RealtimeView is the cache-backed snapshot. It is always fully populated; when Stale is set
// every measurement is zero and AgeSeconds is nil if nothing was ever ingested.
type RealtimeView struct {
	TS string `json:"ts"`
	Measurements
	Stale      bool     `json:"stale"`
	AgeSeconds *float64 `json:"age_seconds"`
}
