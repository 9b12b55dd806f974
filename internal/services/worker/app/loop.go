// Package app runs the worker's background loops: the reputation outbox
// dispatcher and the reconciliation sweep.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/missionforge/missionforge/internal/services/settlement/storage"
	"github.com/missionforge/missionforge/internal/services/worker/domain"
)

const (
	defaultConsumer      = "worker"
	defaultPollInterval  = 5 * time.Second
	defaultLeaseTTL      = time.Minute
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 30 * time.Second
	defaultRetryMaxDelay = 30 * time.Minute
	defaultBatchSize     = 20
)

// EventHandler processes one leased outbox event.
type EventHandler interface {
	Handle(ctx context.Context, event storage.ReputationOutboxEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event storage.ReputationOutboxEvent) error

// Handle implements EventHandler.
func (f EventHandlerFunc) Handle(ctx context.Context, event storage.ReputationOutboxEvent) error {
	return f(ctx, event)
}

// Config controls the outbox loop.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	BatchSize     int
}

func (c Config) normalized() Config {
	if c.Consumer == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// Loop leases due reputation outbox events and dispatches them to handlers,
// acking each event as succeeded, retried with backoff, or dead.
type Loop struct {
	store    storage.ReputationOutboxStore
	handlers map[string]EventHandler
	cfg      Config
	logger   *log.Logger
	clock    func() time.Time
}

// New creates an outbox loop over the given store and handler set.
func New(store storage.ReputationOutboxStore, handlers map[string]EventHandler, cfg Config, logger *log.Logger) *Loop {
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		store:    store,
		handlers: handlers,
		cfg:      cfg.normalized(),
		logger:   logger,
		clock:    time.Now,
	}
}

// Run polls for due events until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("outbox loop is not configured")
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := l.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Printf("worker: outbox pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce leases and dispatches one batch, returning how many events were
// processed.
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	if l == nil || l.store == nil {
		return 0, fmt.Errorf("outbox loop is not configured")
	}

	now := l.clock().UTC()
	leased, err := l.store.LeaseReputationEvents(ctx, l.cfg.Consumer, l.cfg.BatchSize, now, l.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("lease outbox events: %w", err)
	}

	for _, event := range leased {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		l.dispatch(ctx, event)
	}
	return len(leased), nil
}

func (l *Loop) dispatch(ctx context.Context, event storage.ReputationOutboxEvent) {
	handler, ok := l.handlers[event.EventType]
	if !ok {
		l.dead(ctx, event, fmt.Sprintf("no handler for event type %s", event.EventType))
		return
	}

	err := handler.Handle(ctx, event)
	if err == nil {
		if ackErr := l.store.MarkReputationSucceeded(ctx, event.ID, l.cfg.Consumer, l.clock().UTC()); ackErr != nil {
			l.logger.Printf("worker: ack succeeded for %s failed: %v", event.ID, ackErr)
		}
		return
	}

	// A payload that cannot be parsed will never succeed; park it for an
	// operator instead of burning retries.
	if errors.Is(err, domain.ErrInvalidPayload) {
		l.dead(ctx, event, err.Error())
		return
	}

	attempts := int(event.AttemptCount) + 1
	if attempts >= l.cfg.MaxAttempts {
		l.dead(ctx, event, err.Error())
		return
	}

	nextAttempt := l.clock().UTC().Add(l.backoff(event.AttemptCount))
	l.logger.Printf("worker: event %s attempt %d failed, retrying at %s: %v", event.ID, attempts, nextAttempt.Format(time.RFC3339), err)
	if ackErr := l.store.MarkReputationRetry(ctx, event.ID, l.cfg.Consumer, nextAttempt, err.Error()); ackErr != nil {
		l.logger.Printf("worker: ack retry for %s failed: %v", event.ID, ackErr)
	}
}

func (l *Loop) dead(ctx context.Context, event storage.ReputationOutboxEvent, reason string) {
	l.logger.Printf("worker: event %s dead-lettered: %s", event.ID, reason)
	if ackErr := l.store.MarkReputationDead(ctx, event.ID, l.cfg.Consumer, reason, l.clock().UTC()); ackErr != nil {
		l.logger.Printf("worker: ack dead for %s failed: %v", event.ID, ackErr)
	}
}

// backoff doubles the delay per attempt, capped at RetryMaxDelay.
func (l *Loop) backoff(attemptCount int32) time.Duration {
	delay := l.cfg.RetryBackoff
	for i := int32(0); i < attemptCount; i++ {
		delay *= 2
		if delay >= l.cfg.RetryMaxDelay {
			return l.cfg.RetryMaxDelay
		}
	}
	if delay > l.cfg.RetryMaxDelay {
		return l.cfg.RetryMaxDelay
	}
	return delay
}
