// Package telemetry records settlement audit events.
package telemetry

import (
	"context"
	"time"

	"github.com/missionforge/missionforge/internal/services/settlement/storage"
)

// Event types recorded on the audit trail.
const (
	EventProposalCreated   = "proposal.created"
	EventProposalReviewed  = "proposal.reviewed"
	EventProposalResponded = "proposal.responded"
	EventEscrowOpened      = "escrow.opened"
	EventWorkConfirmed     = "work.confirmed"
	EventTokensReleased    = "tokens.released"
	EventProposalCancelled = "proposal.cancelled"
	EventDivergenceFlagged = "divergence.flagged"
)

// Emitter records settlement audit events.
type Emitter struct {
	store storage.SettlementEventStore
	clock func() time.Time
}

// NewEmitter creates a new audit event emitter.
func NewEmitter(store storage.SettlementEventStore) *Emitter {
	return &Emitter{store: store, clock: time.Now}
}

// Emit records an audit event. It is a no-op when the store is nil.
func (e *Emitter) Emit(ctx context.Context, evt storage.SettlementEvent) error {
	if e == nil || e.store == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		if e.clock == nil {
			evt.Timestamp = time.Now().UTC()
		} else {
			evt.Timestamp = e.clock().UTC()
		}
	}
	return e.store.AppendSettlementEvent(ctx, evt)
}
