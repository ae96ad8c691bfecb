package service

import (
	"context"
	"time"

	"energymon/backend/services/energy-service/internal/models"
)

const (
	DefaultHistorySize   = 100
	DefaultHistoryMax    = 5000
	DefaultDisplayOffset = 7 * time.Hour
)

// ReadingReader is the read side of durable storage.
type ReadingReader interface {
	Recent(ctx context.Context, limit int) ([]models.Record, error)
	Latest(ctx context.Context) (*models.Record, error)
	Monthly(ctx context.Context, year int, month time.Month) ([]models.DayBucket, error)
}

// LatestReader hands out copies of the cached reading.
type LatestReader interface {
	Snapshot() (models.Reading, bool)
}

// QueryOptions tunes QueryService. Non-positive history sizes and StaleAfter fall back to the
// package defaults; DisplayOffset is used as given, so zero renders UTC.
type QueryOptions struct {
	HistoryDefault int
	HistoryMax     int
	StaleAfter     time.Duration
	DisplayOffset  time.Duration
}

// QueryService serves the dashboard read views. It has no side effects.
type QueryService struct {
	store   ReadingReader
	cache   LatestReader
	opts    QueryOptions
	display DisplayClock
	now     func() time.Time
}

// DefaultQueryOptions returns the dashboard defaults.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		HistoryDefault: DefaultHistorySize,
		HistoryMax:     DefaultHistoryMax,
		StaleAfter:     DefaultStaleAfter,
		DisplayOffset:  DefaultDisplayOffset,
	}
}

// NewQueryService returns service instance.
func NewQueryService(store ReadingReader, cache LatestReader, opts QueryOptions) *QueryService {
	if opts.HistoryDefault <= 0 {
		opts.HistoryDefault = DefaultHistorySize
	}
	if opts.HistoryMax <= 0 {
		opts.HistoryMax = DefaultHistoryMax
	}
	if opts.HistoryDefault > opts.HistoryMax {
		opts.HistoryDefault = opts.HistoryMax
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	return &QueryService{
		store:   store,
		cache:   cache,
		opts:    opts,
		display: DisplayClock{Offset: opts.DisplayOffset},
		now:     time.Now,
	}
}

// SetClock overrides the evaluation clock.
func (s *QueryService) SetClock(now func() time.Time) {
	s.now = now
}

// History returns up to n of the most recent readings, oldest first. A nil n means the
// configured default size; n above the ceiling is clamped.
func (s *QueryService) History(ctx context.Context, n *int) ([]models.ReadingView, error) {
	limit := s.opts.HistoryDefault
	if n != nil {
		limit = *n
	}
	switch {
	case limit < 0:
		return nil, &ValidationError{Field: "n", Reason: "must not be negative"}
	case limit == 0:
		return []models.ReadingView{}, nil
	case limit > s.opts.HistoryMax:
		limit = s.opts.HistoryMax
	}

	records, err := s.store.Recent(ctx, limit)
	if err != nil {
		return nil, &StorageError{Op: "recent", Err: err}
	}

	out := make([]models.ReadingView, len(records))
	for i, rec := range records {
		out[len(records)-1-i] = s.view(rec)
	}
	return out, nil
}

// Latest returns the newest durable reading, or nil when nothing is stored.
func (s *QueryService) Latest(ctx context.Context) (*models.ReadingView, error) {
	rec, err := s.store.Latest(ctx)
	if err != nil {
		return nil, &StorageError{Op: "latest", Err: err}
	}
	if rec == nil {
		return nil, nil
	}
	v := s.view(*rec)
	return &v, nil
}

// Realtime evaluates the cached reading against the clock. Stale or missing data is reported
// with zeroed measurements and the last known (or current) timestamp.
func (s *QueryService) Realtime() models.RealtimeView {
	now := s.now().UTC()
	snap, ok := s.cache.Snapshot()
	fresh := EvaluateFreshness(snap, ok, now, s.opts.StaleAfter)

	view := models.RealtimeView{Stale: fresh.Stale}
	if fresh.Age != nil {
		age := fresh.Age.Seconds()
		view.AgeSeconds = &age
	}

	if !ok {
		view.TS = s.display.Format(now)
	} else {
		view.TS = s.display.Format(snap.Timestamp)
	}

	if fresh.Stale {
		view.Measurements = zeroMeasurements()
	} else {
		view.Measurements = snap.Measurements
	}
	return view
}

// Monthly returns one bucket per day of the month, ascending. Zero year or month default to the
// current UTC date.
func (s *QueryService) Monthly(ctx context.Context, year, month int) ([]models.DayView, error) {
	now := s.now().UTC()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = int(now.Month())
	}
	if year < 1 || year > 9999 {
		return nil, &ValidationError{Field: "year", Reason: "out of range"}
	}
	if month < 1 || month > 12 {
		return nil, &ValidationError{Field: "month", Reason: "must be between 1 and 12"}
	}

	buckets, err := s.store.Monthly(ctx, year, time.Month(month))
	if err != nil {
		return nil, &StorageError{Op: "monthly", Err: err}
	}

	out := make([]models.DayView, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, models.DayView{
			Day:          b.Day,
			TS:           s.display.Convert(b.TS),
			Measurements: b.Measurements,
		})
	}
	return out, nil
}

func (s *QueryService) view(rec models.Record) models.ReadingView {
	return models.ReadingView{
		TS:           s.display.Convert(rec.TS),
		Measurements: rec.Measurements,
	}
}

func zeroMeasurements() models.Measurements {
	return models.Measurements{
		Voltage:     models.Float(0),
		Current:     models.Float(0),
		Power:       models.Float(0),
		EnergyKWh:   models.Float(0),
		Frequency:   models.Float(0),
		PowerFactor: models.Float(0),
	}
}
