package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/missionforge/missionforge/internal/services/settlement/storage"
	"github.com/missionforge/missionforge/internal/services/worker/domain"
)

type fakeOutbox struct {
	mu     sync.Mutex
	events map[string]storage.ReputationOutboxEvent
}

func newFakeOutbox(events ...storage.ReputationOutboxEvent) *fakeOutbox {
	outbox := &fakeOutbox{events: make(map[string]storage.ReputationOutboxEvent)}
	for _, event := range events {
		if event.Status == "" {
			event.Status = storage.ReputationOutboxStatusPending
		}
		outbox.events[event.ID] = event
	}
	return outbox
}

func (s *fakeOutbox) EnqueueReputationEvent(ctx context.Context, event storage.ReputationOutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	return nil
}

func (s *fakeOutbox) GetReputationEvent(ctx context.Context, id string) (storage.ReputationOutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return storage.ReputationOutboxEvent{}, storage.ErrNotFound
	}
	return event, nil
}

func (s *fakeOutbox) LeaseReputationEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.ReputationOutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var leased []storage.ReputationOutboxEvent
	for id, event := range s.events {
		if len(leased) >= limit {
			break
		}
		if event.Status != storage.ReputationOutboxStatusPending || event.NextAttemptAt.After(now) {
			continue
		}
		event.Status = storage.ReputationOutboxStatusLeased
		event.LeaseOwner = consumer
		event.LeaseExpiresAt = now.Add(leaseTTL)
		s.events[id] = event
		leased = append(leased, event)
	}
	return leased, nil
}

func (s *fakeOutbox) MarkReputationSucceeded(ctx context.Context, id string, consumer string, processedAt time.Time) error {
	return s.ack(id, consumer, storage.ReputationOutboxStatusSucceeded, time.Time{}, "")
}

func (s *fakeOutbox) MarkReputationRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string) error {
	return s.ack(id, consumer, storage.ReputationOutboxStatusPending, nextAttemptAt, lastError)
}

func (s *fakeOutbox) MarkReputationDead(ctx context.Context, id string, consumer string, lastError string, processedAt time.Time) error {
	return s.ack(id, consumer, storage.ReputationOutboxStatusDead, time.Time{}, lastError)
}

func (s *fakeOutbox) ack(id, consumer, status string, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok || event.Status != storage.ReputationOutboxStatusLeased || event.LeaseOwner != consumer {
		return storage.ErrNotFound
	}
	event.Status = status
	event.LeaseOwner = ""
	event.LastError = lastError
	if status == storage.ReputationOutboxStatusPending {
		event.AttemptCount++
		event.NextAttemptAt = nextAttemptAt
	}
	s.events[id] = event
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func pendingEvent(id string) storage.ReputationOutboxEvent {
	return storage.ReputationOutboxEvent{
		ID:          id,
		EventType:   domain.EventSettlementCompleted,
		PayloadJSON: `{"proposal_id":"prop-1","contributor":"pioneer-1","amount":"100"}`,
	}
}

func TestRunOnceDispatchesAndAcks(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox(pendingEvent("evt-1"))
	var handled int
	loop := New(outbox, map[string]EventHandler{
		domain.EventSettlementCompleted: EventHandlerFunc(func(ctx context.Context, event storage.ReputationOutboxEvent) error {
			handled++
			return nil
		}),
	}, Config{}, quietLogger())

	n, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 || handled != 1 {
		t.Fatalf("processed = %d, handled = %d, want 1/1", n, handled)
	}

	event, err := outbox.GetReputationEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.Status != storage.ReputationOutboxStatusSucceeded {
		t.Fatalf("status = %q, want succeeded", event.Status)
	}
}

func TestRunOnceRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox(pendingEvent("evt-1"))
	loop := New(outbox, map[string]EventHandler{
		domain.EventSettlementCompleted: EventHandlerFunc(func(ctx context.Context, event storage.ReputationOutboxEvent) error {
			return fmt.Errorf("sink unavailable")
		}),
	}, Config{RetryBackoff: time.Minute, RetryMaxDelay: time.Hour}, quietLogger())
	now := time.Date(2026, time.August, 20, 9, 0, 0, 0, time.UTC)
	loop.clock = func() time.Time { return now }

	if _, err := loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	event, err := outbox.GetReputationEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if event.Status != storage.ReputationOutboxStatusPending {
		t.Fatalf("status = %q, want pending", event.Status)
	}
	if event.AttemptCount != 1 {
		t.Fatalf("attempt_count = %d, want 1", event.AttemptCount)
	}
	if !event.NextAttemptAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("next_attempt_at = %v, want %v", event.NextAttemptAt, now.Add(time.Minute))
	}
	if event.LastError != "sink unavailable" {
		t.Fatalf("last_error = %q", event.LastError)
	}
}

func TestRunOnceDeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	event := pendingEvent("evt-1")
	event.AttemptCount = 2
	outbox := newFakeOutbox(event)
	loop := New(outbox, map[string]EventHandler{
		domain.EventSettlementCompleted: EventHandlerFunc(func(ctx context.Context, event storage.ReputationOutboxEvent) error {
			return fmt.Errorf("sink unavailable")
		}),
	}, Config{MaxAttempts: 3}, quietLogger())

	if _, err := loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	got, err := outbox.GetReputationEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != storage.ReputationOutboxStatusDead {
		t.Fatalf("status = %q, want dead", got.Status)
	}
}

func TestRunOnceDeadLettersInvalidPayloadImmediately(t *testing.T) {
	t.Parallel()

	event := pendingEvent("evt-1")
	event.PayloadJSON = `{"contributor":""}`
	outbox := newFakeOutbox(event)
	loop := New(outbox, map[string]EventHandler{
		domain.EventSettlementCompleted: EventHandlerFunc(func(ctx context.Context, event storage.ReputationOutboxEvent) error {
			_, err := domain.ParseSettlementCompletedPayload(event.PayloadJSON)
			return err
		}),
	}, Config{MaxAttempts: 10}, quietLogger())

	if _, err := loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	got, err := outbox.GetReputationEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != storage.ReputationOutboxStatusDead {
		t.Fatalf("status = %q, want dead without retries", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Fatalf("attempt_count = %d, want 0", got.AttemptCount)
	}
}

func TestRunOnceDeadLettersUnknownEventType(t *testing.T) {
	t.Parallel()

	event := pendingEvent("evt-1")
	event.EventType = "settlement.unknown"
	outbox := newFakeOutbox(event)
	loop := New(outbox, map[string]EventHandler{}, Config{}, quietLogger())

	if _, err := loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	got, err := outbox.GetReputationEvent(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != storage.ReputationOutboxStatusDead {
		t.Fatalf("status = %q, want dead", got.Status)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	loop := New(newFakeOutbox(), nil, Config{RetryBackoff: time.Minute, RetryMaxDelay: 10 * time.Minute}, quietLogger())

	cases := []struct {
		attempts int32
		want     time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 10 * time.Minute},
		{30, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := loop.backoff(tc.attempts); got != tc.want {
			t.Fatalf("backoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestRunOnceWithoutStoreFails(t *testing.T) {
	t.Parallel()

	loop := New(nil, nil, Config{}, quietLogger())
	if _, err := loop.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	outbox := newFakeOutbox()
	loop := New(outbox, nil, Config{PollInterval: 10 * time.Millisecond}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}
