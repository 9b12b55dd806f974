package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/missionforge/missionforge/internal/services/settlement/storage"
)

// AppendSettlementEvent records one audit trail entry. Entries are append
// only and never updated.
func (s *Store) AppendSettlementEvent(ctx context.Context, event storage.SettlementEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(event.ProposalID) == "" {
		return fmt.Errorf("proposal id is required")
	}
	if strings.TrimSpace(event.EventType) == "" {
		return fmt.Errorf("event type is required")
	}
	timestamp := event.Timestamp.UTC()
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO settlement_events (
	proposal_id,
	event_type,
	actor,
	from_status,
	to_status,
	tx_ref,
	timestamp
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		event.ProposalID,
		event.EventType,
		event.Actor,
		event.FromStatus,
		event.ToStatus,
		event.TxRef,
		toMillis(timestamp),
	)
	if err != nil {
		return fmt.Errorf("append settlement event: %w", err)
	}
	return nil
}

// QuerySettlementEvents returns audit entries matching the translated filter
// condition, newest first. An empty condition returns the newest entries
// across all proposals.
func (s *Store) QuerySettlementEvents(ctx context.Context, condition storage.Condition, limit int) ([]storage.SettlementEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	query := `SELECT id, proposal_id, event_type, actor, from_status, to_status, tx_ref, timestamp
FROM settlement_events`
	args := make([]any, 0, len(condition.Params)+1)
	if strings.TrimSpace(condition.Clause) != "" {
		query += "\nWHERE " + condition.Clause
		args = append(args, condition.Params...)
	}
	query += "\nORDER BY timestamp DESC, id DESC\nLIMIT ?"
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query settlement events: %w", err)
	}
	defer rows.Close()

	events := make([]storage.SettlementEvent, 0, limit)
	for rows.Next() {
		var event storage.SettlementEvent
		var timestamp int64
		if scanErr := rows.Scan(
			&event.ID,
			&event.ProposalID,
			&event.EventType,
			&event.Actor,
			&event.FromStatus,
			&event.ToStatus,
			&event.TxRef,
			&timestamp,
		); scanErr != nil {
			return nil, fmt.Errorf("scan settlement event: %w", scanErr)
		}
		event.Timestamp = fromMillis(timestamp)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement events: %w", err)
	}
	return events, nil
}

// RecordDivergence stores one reconciliation alert for operator review.
func (s *Store) RecordDivergence(ctx context.Context, divergence storage.Divergence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(divergence.ProposalID) == "" {
		return fmt.Errorf("proposal id is required")
	}
	if strings.TrimSpace(divergence.Kind) == "" {
		return fmt.Errorf("divergence kind is required")
	}
	detectedAt := divergence.DetectedAt.UTC()
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO settlement_divergences (proposal_id, kind, detail, detected_at)
VALUES (?, ?, ?, ?)
`,
		divergence.ProposalID,
		divergence.Kind,
		divergence.Detail,
		toMillis(detectedAt),
	)
	if err != nil {
		return fmt.Errorf("record divergence: %w", err)
	}
	return nil
}

// ListDivergences returns the newest recorded divergences.
func (s *Store) ListDivergences(ctx context.Context, limit int) ([]storage.Divergence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, proposal_id, kind, detail, detected_at
FROM settlement_divergences
ORDER BY detected_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list divergences: %w", err)
	}
	defer rows.Close()

	divergences := make([]storage.Divergence, 0, limit)
	for rows.Next() {
		var divergence storage.Divergence
		var detectedAt int64
		if scanErr := rows.Scan(
			&divergence.ID,
			&divergence.ProposalID,
			&divergence.Kind,
			&divergence.Detail,
			&detectedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("scan divergence: %w", scanErr)
		}
		divergence.DetectedAt = fromMillis(detectedAt)
		divergences = append(divergences, divergence)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate divergences: %w", err)
	}
	return divergences, nil
}
