package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"energymon/backend/services/energy-service/internal/models"
)

// MirroredReading is the JSON document kept under the mirror key and published on the channel.
type MirroredReading struct {
	TS string `json:"ts"`
	models.Measurements
}

// LatestMirror copies each ingested reading to Redis for other processes. Nothing in this
// service reads it back.
type LatestMirror struct {
	client  *redis.Client
	key     string
	channel string
	ttl     time.Duration
}

// NewLatestMirror returns redis-backed mirror. An empty channel disables publishing.
func NewLatestMirror(client *redis.Client, key, channel string, ttl time.Duration) *LatestMirror {
	return &LatestMirror{client: client, key: key, channel: channel, ttl: ttl}
}

// Publish stores reading under the mirror key and announces it on the channel.
func (m *LatestMirror) Publish(ctx context.Context, reading models.Reading) error {
	data, err := json.Marshal(MirroredReading{
		TS:           reading.StoredTimestamp(),
		Measurements: reading.Measurements,
	})
	if err != nil {
		return err
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.key, data, m.ttl)
	if m.channel != "" {
		pipe.Publish(ctx, m.channel, data)
	}
	_, err = pipe.Exec(ctx)
	return err
}
