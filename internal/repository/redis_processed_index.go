package repository

import (
	"context"
	"fmt"
	"time"

	"fieldsync-server/internal/domain"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisProcessedEventIndex caches applied-event lookups in front of the
// durable index. Devices re-upload whole batches after flaky connections, so
// most lookups are repeats. Redis is an optimization only: a miss or a Redis
// failure falls through to the inner repository, and only the terminal
// "applied" outcome is cached (pending conflicts change state later).
type RedisProcessedEventIndex struct {
	inner  ProcessedEventRepository
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisProcessedEventIndex(inner ProcessedEventRepository, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisProcessedEventIndex {
	return &RedisProcessedEventIndex{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func processedKey(tenantID, eventID string) string {
	return fmt.Sprintf("processed:%s:%s", tenantID, eventID)
}

func (r *RedisProcessedEventIndex) Get(ctx context.Context, tenantID, eventID string) (*domain.ProcessedEvent, error) {
	if r.rdb != nil {
		val, err := r.rdb.Get(ctx, processedKey(tenantID, eventID)).Result()
		if err == nil && val == string(domain.OutcomeApplied) {
			return &domain.ProcessedEvent{
				TenantID: tenantID,
				EventID:  eventID,
				Outcome:  domain.OutcomeApplied,
			}, nil
		}
		if err != nil && err != redis.Nil {
			r.logger.Warn("processed-event cache read failed",
				zap.String("event_id", eventID), zap.Error(err))
		}
	}
	return r.inner.Get(ctx, tenantID, eventID)
}

func (r *RedisProcessedEventIndex) Mark(ctx context.Context, tenantID, eventID string, outcome domain.ProcessedOutcome) error {
	if err := r.inner.Mark(ctx, tenantID, eventID, outcome); err != nil {
		return err
	}
	if r.rdb != nil && outcome == domain.OutcomeApplied {
		if err := r.rdb.Set(ctx, processedKey(tenantID, eventID), string(outcome), r.ttl).Err(); err != nil {
			r.logger.Warn("processed-event cache write failed",
				zap.String("event_id", eventID), zap.Error(err))
		}
	}
	return nil
}
