// Package storage defines persistence contracts for settlement service state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/missionforge/missionforge/internal/services/settlement/domain/proposal"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
var ErrAlreadyExists = errors.New("record already exists")

// ErrConflict indicates a conditional update lost a race: the stored status
// no longer matched the expected pre-state.
var ErrConflict = errors.New("record changed concurrently")

// Reputation outbox statuses.
const (
	ReputationOutboxStatusPending   = "pending"
	ReputationOutboxStatusLeased    = "leased"
	ReputationOutboxStatusSucceeded = "succeeded"
	ReputationOutboxStatusDead      = "dead"
)

// ReputationOutboxEvent is one durable notification owed to the reputation
// collaborator. Events outlive the transaction that created them and are
// delivered by the worker with retries.
type ReputationOutboxEvent struct {
	ID             string
	EventType      string
	PayloadJSON    string
	DedupeKey      string
	Status         string
	AttemptCount   int32
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt time.Time
	LastError      string
	ProcessedAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SettlementEvent is one append-only audit record of a negotiation or
// settlement transition.
type SettlementEvent struct {
	ID         int64
	ProposalID string
	EventType  string
	Actor      string
	FromStatus string
	ToStatus   string
	TxRef      string
	Timestamp  time.Time
}

// Divergence is one operator alert raised by the reconciliation sweep when
// the internal ledger disagrees with on-chain truth.
type Divergence struct {
	ID         int64
	ProposalID string
	Kind       string
	Detail     string
	DetectedAt time.Time
}

// Condition is a SQL WHERE fragment with positional parameters, produced by
// the audit filter translator.
type Condition struct {
	Clause string
	Params []any
}

// ProposalStore persists proposal records with compare-and-set status
// updates.
type ProposalStore interface {
	CreateProposal(ctx context.Context, p proposal.Proposal) error
	GetProposal(ctx context.Context, id string) (proposal.Proposal, error)
	ListProposalsByStatus(ctx context.Context, statuses []proposal.Status, limit int) ([]proposal.Proposal, error)
	// UpdateProposal writes the record only while the stored status equals
	// expected. A lost race returns ErrConflict and writes nothing.
	UpdateProposal(ctx context.Context, updated proposal.Proposal, expected proposal.Status) error
	// CompleteProposal applies a conditional update and enqueues the
	// reputation outbox event in the same transaction.
	CompleteProposal(ctx context.Context, updated proposal.Proposal, expected proposal.Status, event ReputationOutboxEvent) error
}

// ReputationOutboxStore persists and leases reputation notification events.
type ReputationOutboxStore interface {
	EnqueueReputationEvent(ctx context.Context, event ReputationOutboxEvent) error
	GetReputationEvent(ctx context.Context, id string) (ReputationOutboxEvent, error)
	LeaseReputationEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]ReputationOutboxEvent, error)
	MarkReputationSucceeded(ctx context.Context, id string, consumer string, processedAt time.Time) error
	MarkReputationRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string) error
	MarkReputationDead(ctx context.Context, id string, consumer string, lastError string, processedAt time.Time) error
}

// SettlementEventStore persists the append-only audit trail.
type SettlementEventStore interface {
	AppendSettlementEvent(ctx context.Context, event SettlementEvent) error
	QuerySettlementEvents(ctx context.Context, condition Condition, limit int) ([]SettlementEvent, error)
}

// DivergenceStore persists reconciliation divergence alerts.
type DivergenceStore interface {
	RecordDivergence(ctx context.Context, divergence Divergence) error
	ListDivergences(ctx context.Context, limit int) ([]Divergence, error)
}
