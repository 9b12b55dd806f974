// Package app hosts the escrow settlement coordinator: the orchestrator that
// translates negotiation transitions into escrow contract calls and keeps the
// internal ledger consistent with on-chain truth.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	apperrors "github.com/missionforge/missionforge/internal/platform/errors"
	"github.com/missionforge/missionforge/internal/platform/id"
	"github.com/missionforge/missionforge/internal/services/settlement/chain"
	"github.com/missionforge/missionforge/internal/services/settlement/core/filter"
	"github.com/missionforge/missionforge/internal/services/settlement/domain/proposal"
	"github.com/missionforge/missionforge/internal/services/settlement/storage"
	"github.com/missionforge/missionforge/internal/services/settlement/telemetry"
)

// ReputationEventCompleted is the outbox event type enqueued when a proposal
// settles.
const ReputationEventCompleted = "settlement.completed"

// ReviewDecision is the founder's verdict on a pending proposal.
type ReviewDecision string

const (
	ReviewAccept  ReviewDecision = "accept"
	ReviewCounter ReviewDecision = "counter"
	ReviewReject  ReviewDecision = "reject"
)

// RespondDecision is the contributor's answer to an approval or counter-offer.
type RespondDecision string

const (
	RespondAccept RespondDecision = "accept"
	RespondReject RespondDecision = "reject"
)

// ChainAdapter is the escrow contract surface the coordinator drives.
type ChainAdapter interface {
	Open(ctx context.Context, proposalID, contributor string, amount *big.Int) (string, error)
	Release(ctx context.Context, proposalID string) (string, error)
	Cancel(ctx context.Context, proposalID string) (string, error)
	GetAgreement(ctx context.Context, proposalID string) (chain.Agreement, error)
	TokenDecimals() int
}

// Store is the persistence surface the coordinator needs.
type Store interface {
	storage.ProposalStore
	storage.SettlementEventStore
	storage.DivergenceStore
}

// CompletedPayload is the JSON body of the reputation outbox event.
type CompletedPayload struct {
	ProposalID  string `json:"proposal_id"`
	Contributor string `json:"contributor"`
	Amount      string `json:"amount"`
	Network     string `json:"network,omitempty"`
	TxRef       string `json:"tx_ref,omitempty"`
}

// Service is the proposal negotiation and escrow settlement coordinator.
type Service struct {
	store   Store
	chain   ChainAdapter
	guard   *ReconciliationGuard
	emitter *telemetry.Emitter
	network string
	logger  *log.Logger
	clock   func() time.Time
	idGen   func() (string, error)
}

// NewService creates the coordinator. The chain adapter must already be
// validated; a nil store or adapter is a programming error surfaced at the
// first call. The network labels proposals that do not pick a ledger
// environment themselves.
func NewService(store Store, adapter ChainAdapter, network string, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:   store,
		chain:   adapter,
		guard:   NewReconciliationGuard(store, adapter, logger),
		emitter: telemetry.NewEmitter(store),
		network: strings.TrimSpace(network),
		logger:  logger,
		clock:   time.Now,
		idGen:   id.NewID,
	}
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

// Propose opens a negotiation in pending_review on behalf of a contributor.
func (s *Service) Propose(ctx context.Context, input proposal.CreateProposalInput) (proposal.Proposal, error) {
	if s == nil || s.store == nil {
		return proposal.Proposal{}, fmt.Errorf("service is not configured")
	}

	if strings.TrimSpace(input.Network) == "" {
		input.Network = s.network
	}
	created, err := proposal.CreateProposal(input, s.clock, s.idGen)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if err := s.store.CreateProposal(ctx, created); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeAlreadyExists, "proposal already exists", map[string]string{"proposal_id": created.ID})
		}
		return proposal.Proposal{}, fmt.Errorf("persist proposal: %w", err)
	}

	s.audit(ctx, storage.SettlementEvent{
		ProposalID: created.ID,
		EventType:  telemetry.EventProposalCreated,
		Actor:      created.Contributor,
		ToStatus:   string(created.Status),
	})
	return created, nil
}

// Review applies the founder's verdict: accept as-is, counter with a new
// amount, or reject with a reason.
func (s *Service) Review(ctx context.Context, proposalID, founder string, decision ReviewDecision, counterAmount, notes string) (proposal.Proposal, error) {
	if s == nil || s.store == nil {
		return proposal.Proposal{}, fmt.Errorf("service is not configured")
	}

	current, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return proposal.Proposal{}, err
	}

	var updated proposal.Proposal
	switch decision {
	case ReviewAccept:
		updated, err = current.ReviewAccept(founder, s.now())
	case ReviewCounter:
		updated, err = current.ReviewCounter(founder, counterAmount, notes, s.now())
	case ReviewReject:
		updated, err = current.ReviewReject(founder, notes, s.now())
	default:
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeProposalInvalidStatusTransition, "unknown review decision", map[string]string{"decision": string(decision)})
	}
	if err != nil {
		return proposal.Proposal{}, err
	}

	if err := s.persistTransition(ctx, updated, current.Status); err != nil {
		return proposal.Proposal{}, err
	}

	s.audit(ctx, storage.SettlementEvent{
		ProposalID: updated.ID,
		EventType:  telemetry.EventProposalReviewed,
		Actor:      founder,
		FromStatus: string(current.Status),
		ToStatus:   string(updated.Status),
	})
	return updated, nil
}

// Respond applies the contributor's answer to an approval or counter-offer.
// Accepting completes the double handshake and immediately attempts to open
// escrow: on chain failure the proposal stays accepted and the typed error is
// returned alongside it, so the caller sees the unchanged prior status.
// Accepting again while the proposal is still accepted resumes the open; the
// guard's read-first check keeps the retry idempotent even when the earlier
// submission landed on chain in the meantime.
func (s *Service) Respond(ctx context.Context, proposalID, contributor string, decision RespondDecision) (proposal.Proposal, error) {
	if s == nil || s.store == nil {
		return proposal.Proposal{}, fmt.Errorf("service is not configured")
	}

	current, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return proposal.Proposal{}, err
	}

	if decision == RespondAccept && current.Status == proposal.StatusAccepted {
		if strings.TrimSpace(contributor) == "" || contributor != current.Contributor {
			return proposal.Proposal{}, proposal.ErrActorNotAllowed
		}
		return s.openEscrow(ctx, current)
	}

	var updated proposal.Proposal
	switch decision {
	case RespondAccept:
		updated, err = current.RespondAccept(contributor, s.now())
	case RespondReject:
		updated, err = current.RespondReject(contributor, s.now())
	default:
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeProposalInvalidStatusTransition, "unknown respond decision", map[string]string{"decision": string(decision)})
	}
	if err != nil {
		return proposal.Proposal{}, err
	}

	if err := s.persistTransition(ctx, updated, current.Status); err != nil {
		return proposal.Proposal{}, err
	}

	s.audit(ctx, storage.SettlementEvent{
		ProposalID: updated.ID,
		EventType:  telemetry.EventProposalResponded,
		Actor:      contributor,
		FromStatus: string(current.Status),
		ToStatus:   string(updated.Status),
	})

	if updated.Status != proposal.StatusAccepted {
		return updated, nil
	}
	return s.openEscrow(ctx, updated)
}

// openEscrow converts the agreed amount to base units and drives the open
// call through the reconciliation guard. The accepted status is already
// persisted; a failure here leaves it untouched.
func (s *Service) openEscrow(ctx context.Context, accepted proposal.Proposal) (proposal.Proposal, error) {
	if s.chain == nil {
		return accepted, apperrors.New(apperrors.CodeChainUnavailable, "chain adapter is not configured")
	}

	amount, err := chain.ToBaseUnits(accepted.AgreedAmount(), s.chain.TokenDecimals())
	if err != nil {
		return accepted, err
	}

	openRef, err := s.guard.EnsureOpen(ctx, accepted, amount)
	if err != nil {
		return accepted, err
	}

	updated, err := accepted.MarkEscrowOpened(openRef, s.now())
	if err != nil {
		return accepted, err
	}
	if err := s.persistTransition(ctx, updated, accepted.Status); err != nil {
		return accepted, err
	}

	s.audit(ctx, storage.SettlementEvent{
		ProposalID: updated.ID,
		EventType:  telemetry.EventEscrowOpened,
		Actor:      string(proposal.ActorCoordinator),
		FromStatus: string(accepted.Status),
		ToStatus:   string(updated.Status),
		TxRef:      openRef,
	})
	return updated, nil
}

// ConfirmWork records the contributor's work-done signal. This is an
// internal-ledger event only; the external ledger is untouched.
func (s *Service) ConfirmWork(ctx context.Context, proposalID, contributor string) (proposal.Proposal, error) {
	if s == nil || s.store == nil {
		return proposal.Proposal{}, fmt.Errorf("service is not configured")
	}

	current, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return proposal.Proposal{}, err
	}

	updated, err := current.ConfirmWork(contributor, s.now())
	if err != nil {
		return proposal.Proposal{}, err
	}
	if err := s.persistTransition(ctx, updated, current.Status); err != nil {
		return proposal.Proposal{}, err
	}

	s.audit(ctx, storage.SettlementEvent{
		ProposalID: updated.ID,
		EventType:  telemetry.EventWorkConfirmed,
		Actor:      contributor,
		FromStatus: string(current.Status),
		ToStatus:   string(updated.Status),
	})
	return updated, nil
}

// ReleaseTokens is the founder-triggered release. The internal confirmation
// gate is checked before any chain call, then on-chain truth is read to block
// unconfirmed or double releases, then the release transaction is submitted
// and the terminal transition plus the reputation outbox event are committed
// in one transaction.
func (s *Service) ReleaseTokens(ctx context.Context, proposalID, founder string) (proposal.Proposal, error) {
	if s == nil || s.store == nil {
		return proposal.Proposal{}, fmt.Errorf("service is not configured")
	}
	if s.chain == nil {
		return proposal.Proposal{}, apperrors.New(apperrors.CodeChainUnavailable, "chain adapter is not configured")
	}

	current, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if strings.TrimSpace(founder) == "" || founder != current.Founder {
		return proposal.Proposal{}, proposal.ErrActorNotAllowed
	}
	if current.Status == proposal.StatusCompleted {
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeAgreementAlreadyReleased, "tokens already released", map[string]string{"proposal_id": current.ID})
	}
	if current.Status != proposal.StatusWorkInProgress {
		return proposal.Proposal{}, proposal.ErrInvalidTransition
	}
	if current.ContributorConfirmedAt.IsZero() {
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeSettlementWorkNotConfirmed, "contributor has not confirmed work completion", map[string]string{"proposal_id": current.ID})
	}

	agreement, err := s.chain.GetAgreement(ctx, current.ID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if !agreement.Exists {
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeAgreementNotFound, "no on-chain agreement for proposal", map[string]string{"proposal_id": current.ID})
	}
	if agreement.CounterpartyConfirmed {
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeAgreementAlreadyReleased, "on-chain agreement already released", map[string]string{"proposal_id": current.ID})
	}
	if !agreement.ContributorConfirmed {
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeAgreementNotConfirmed, "on-chain agreement lacks contributor confirmation", map[string]string{"proposal_id": current.ID})
	}

	releaseRef, err := s.chain.Release(ctx, current.ID)
	if err != nil {
		return proposal.Proposal{}, err
	}

	updated, err := current.MarkReleased(releaseRef, s.now())
	if err != nil {
		return proposal.Proposal{}, err
	}

	event, err := s.completedOutboxEvent(updated)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if err := s.store.CompleteProposal(ctx, updated, current.Status, event); err != nil {
		return proposal.Proposal{}, mapStorageError(err, updated.ID)
	}

	s.audit(ctx, storage.SettlementEvent{
		ProposalID: updated.ID,
		EventType:  telemetry.EventTokensReleased,
		Actor:      founder,
		FromStatus: string(current.Status),
		ToStatus:   string(updated.Status),
		TxRef:      releaseRef,
	})
	return updated, nil
}

// Cancel rejects a proposal whose escrow was already opened. The compensating
// cancel call is issued only when an unreleased agreement exists on chain; a
// missing agreement makes cancellation a pure internal transition.
func (s *Service) Cancel(ctx context.Context, proposalID, founder, notes string) (proposal.Proposal, error) {
	if s == nil || s.store == nil {
		return proposal.Proposal{}, fmt.Errorf("service is not configured")
	}
	if s.chain == nil {
		return proposal.Proposal{}, apperrors.New(apperrors.CodeChainUnavailable, "chain adapter is not configured")
	}

	current, err := s.loadProposal(ctx, proposalID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if strings.TrimSpace(founder) == "" || founder != current.Founder {
		return proposal.Proposal{}, proposal.ErrActorNotAllowed
	}
	if current.Status != proposal.StatusWorkInProgress {
		return proposal.Proposal{}, proposal.ErrInvalidTransition
	}

	agreement, err := s.chain.GetAgreement(ctx, current.ID)
	if err != nil {
		return proposal.Proposal{}, err
	}
	if agreement.Exists && agreement.CounterpartyConfirmed {
		return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeAgreementAlreadyReleased, "on-chain agreement already released", map[string]string{"proposal_id": current.ID})
	}

	var cancelRef string
	if agreement.Exists {
		cancelRef, err = s.chain.Cancel(ctx, current.ID)
		if err != nil {
			return proposal.Proposal{}, err
		}
	} else {
		s.logger.Printf("settlement: cancel of %s found no on-chain agreement, internal transition only", current.ID)
	}

	updated, err := current.MarkCancelled(notes, s.now())
	if err != nil {
		return proposal.Proposal{}, err
	}
	if err := s.persistTransition(ctx, updated, current.Status); err != nil {
		return proposal.Proposal{}, err
	}

	s.audit(ctx, storage.SettlementEvent{
		ProposalID: updated.ID,
		EventType:  telemetry.EventProposalCancelled,
		Actor:      founder,
		FromStatus: string(current.Status),
		ToStatus:   string(updated.Status),
		TxRef:      cancelRef,
	})
	return updated, nil
}

// GetProposal returns one proposal by ID.
func (s *Service) GetProposal(ctx context.Context, proposalID string) (proposal.Proposal, error) {
	if s == nil || s.store == nil {
		return proposal.Proposal{}, fmt.Errorf("service is not configured")
	}
	return s.loadProposal(ctx, proposalID)
}

// ListProposals returns proposals in any of the given statuses.
func (s *Service) ListProposals(ctx context.Context, statuses []proposal.Status, limit int) ([]proposal.Proposal, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("service is not configured")
	}
	return s.store.ListProposalsByStatus(ctx, statuses, limit)
}

// ListEvents returns audit trail entries matching an AIP-160 filter
// expression, newest first.
func (s *Service) ListEvents(ctx context.Context, filterStr string, limit int) ([]storage.SettlementEvent, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("service is not configured")
	}
	cond, err := filter.ParseEventFilter(filterStr)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidFilter, "invalid event filter", err)
	}
	return s.store.QuerySettlementEvents(ctx, storage.Condition{Clause: cond.Clause, Params: cond.Params}, limit)
}

// Sweep runs one reconciliation pass. Exposed so the worker process can
// schedule it.
func (s *Service) Sweep(ctx context.Context, limit int) error {
	if s == nil || s.guard == nil {
		return fmt.Errorf("service is not configured")
	}
	return s.guard.Sweep(ctx, limit)
}

func (s *Service) loadProposal(ctx context.Context, proposalID string) (proposal.Proposal, error) {
	proposalID = strings.TrimSpace(proposalID)
	if proposalID == "" {
		return proposal.Proposal{}, proposal.ErrEmptyID
	}
	current, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return proposal.Proposal{}, apperrors.WithMetadata(apperrors.CodeProposalNotFound, "proposal not found", map[string]string{"proposal_id": proposalID})
		}
		return proposal.Proposal{}, fmt.Errorf("load proposal: %w", err)
	}
	return current, nil
}

// persistTransition writes the updated proposal only if the stored status is
// still the expected pre-state. The loser of a concurrent race sees a
// conflict and no write happens.
func (s *Service) persistTransition(ctx context.Context, updated proposal.Proposal, expected proposal.Status) error {
	if err := s.store.UpdateProposal(ctx, updated, expected); err != nil {
		return mapStorageError(err, updated.ID)
	}
	return nil
}

func (s *Service) completedOutboxEvent(settled proposal.Proposal) (storage.ReputationOutboxEvent, error) {
	payload, err := json.Marshal(CompletedPayload{
		ProposalID:  settled.ID,
		Contributor: settled.Contributor,
		Amount:      settled.AgreedAmount(),
		Network:     settled.Network,
		TxRef:       settled.EscrowReleaseRef,
	})
	if err != nil {
		return storage.ReputationOutboxEvent{}, fmt.Errorf("marshal reputation payload: %w", err)
	}
	eventID, err := s.idGen()
	if err != nil {
		return storage.ReputationOutboxEvent{}, fmt.Errorf("generate event id: %w", err)
	}
	return storage.ReputationOutboxEvent{
		ID:          eventID,
		EventType:   ReputationEventCompleted,
		PayloadJSON: string(payload),
		DedupeKey:   settled.ID + ":completed",
	}, nil
}

// audit records the event and logs on failure. Audit writes never fail the
// settlement operation that produced them.
func (s *Service) audit(ctx context.Context, event storage.SettlementEvent) {
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Printf("settlement: audit event %s for %s not recorded: %v", event.EventType, event.ProposalID, err)
	}
}

func mapStorageError(err error, proposalID string) error {
	switch {
	case errors.Is(err, storage.ErrConflict):
		return apperrors.WithMetadata(apperrors.CodeProposalUpdateConflict, "proposal changed concurrently", map[string]string{"proposal_id": proposalID})
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.WithMetadata(apperrors.CodeProposalNotFound, "proposal not found", map[string]string{"proposal_id": proposalID})
	default:
		return fmt.Errorf("persist proposal transition: %w", err)
	}
}
