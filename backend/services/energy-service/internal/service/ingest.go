package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"energymon/backend/services/energy-service/internal/models"
)

// Source names the intake adapter that delivered a payload.
type Source string

const (
	SourceFeed Source = "mqtt"
	SourcePush Source = "http"
)

// ReadingWriter appends readings to durable storage.
type ReadingWriter interface {
	Insert(ctx context.Context, reading models.Reading) (int64, error)
}

// LatestUpdater receives every successfully decoded reading.
type LatestUpdater interface {
	Update(reading models.Reading)
}

// Mirror publishes readings outside the process. Failures never affect ingestion.
type Mirror interface {
	Publish(ctx context.Context, reading models.Reading) error
}

// Ingestor is the one normalize-and-persist path shared by every intake adapter.
type Ingestor struct {
	store  ReadingWriter
	cache  LatestUpdater
	mirror Mirror
	now    func() time.Time
	logger *zap.Logger
}

// IngestorOption customizes an Ingestor.
type IngestorOption func(*Ingestor)

// WithMirror attaches an out-of-process mirror.
func WithMirror(m Mirror) IngestorOption {
	return func(i *Ingestor) {
		i.mirror = m
	}
}

// WithIngestClock overrides the clock used to default missing timestamps.
func WithIngestClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) {
		i.now = now
	}
}

// NewIngestor returns ingestor.
func NewIngestor(store ReadingWriter, cache LatestUpdater, logger *zap.Logger, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		store:  store,
		cache:  cache,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest decodes payload, stores it and refreshes the latest-value cache. A DecodeError leaves
// both untouched. A StorageError is returned after the cache has still been updated, so the live
// view keeps moving while durability is degraded.
func (i *Ingestor) Ingest(ctx context.Context, source Source, payload []byte) (models.Reading, error) {
	log := i.logger.With(zap.String("source", string(source)))

	reading, err := DecodeReading(payload, i.now())
	if err != nil {
		log.Warn("discarding malformed reading", zap.Error(err), zap.ByteString("payload", truncate(payload, 256)))
		return models.Reading{}, err
	}

	id, insertErr := i.store.Insert(ctx, reading)
	if insertErr != nil {
		insertErr = &StorageError{Op: "insert", Err: insertErr}
		log.Error("failed to store reading", zap.Error(insertErr), zap.Time("reading_ts", reading.Timestamp))
	}

	i.cache.Update(reading)

	if i.mirror != nil {
		if err := i.mirror.Publish(ctx, reading); err != nil {
			log.Warn("failed to mirror latest reading", zap.Error(err))
		}
	}

	if insertErr != nil {
		return reading, insertErr
	}
	log.Debug("reading stored", zap.Int64("id", id), zap.Time("reading_ts", reading.Timestamp))
	return reading, nil
}

// IsDecodeError reports whether err came from a malformed payload.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

func truncate(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return b[:max]
}
