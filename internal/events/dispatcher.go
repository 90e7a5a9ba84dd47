package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dimasfr/bimbel-admin-api/pkg/jobs"
)

// Dispatcher fans domain events out to subscribers on a background worker
// queue. Emit never blocks the caller on subscriber work and never returns
// an error to it.
type Dispatcher struct {
	pool    *jobs.Pool
	redis   *redis.Client
	channel string
	logger  *zap.Logger
}

// DispatcherConfig tunes the dispatcher's worker queue.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	Channel    string
}

// NewDispatcher builds a dispatcher. The redis client is optional; when
// present, events are additionally published on the configured channel for
// out-of-process consumers.
func NewDispatcher(client *redis.Client, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Channel == "" {
		cfg.Channel = "bimbel:events"
	}

	d := &Dispatcher{redis: client, channel: cfg.Channel, logger: logger}
	d.pool = jobs.NewPool("domain-events", d.handle, jobs.PoolOptions{
		Workers:     cfg.Workers,
		QueueDepth:  cfg.BufferSize,
		MaxAttempts: 2,
		Backoff:     time.Second,
		Logger:      logger,
	})
	return d
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
}

// Stop drains the worker pool.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

// Emit enqueues an event. Failures are logged and dropped; emitting is
// fire-and-forget by contract.
func (d *Dispatcher) Emit(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	err := d.pool.Submit(jobs.Task{
		ID:      uuid.NewString(),
		Kind:    event.Type,
		Payload: event,
	})
	if err != nil {
		d.logger.Warn("dropping domain event", zap.String("type", event.Type), zap.Error(err))
	}
}

func (d *Dispatcher) handle(ctx context.Context, task jobs.Task) error {
	event, ok := task.Payload.(Event)
	if !ok {
		return fmt.Errorf("unexpected event payload type %T", task.Payload)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}

	d.logger.Info("domain_event",
		zap.String("type", event.Type),
		zap.Time("occurred_at", event.OccurredAt),
		zap.ByteString("payload", raw),
	)

	if d.redis != nil {
		if err := d.redis.Publish(ctx, d.channel, raw).Err(); err != nil {
			return fmt.Errorf("publish event %s: %w", event.Type, err)
		}
	}
	return nil
}
