package app

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/missionforge/missionforge/internal/services/settlement/domain/proposal"
	"github.com/missionforge/missionforge/internal/services/settlement/storage"
	"github.com/missionforge/missionforge/internal/services/settlement/telemetry"
)

// Divergence kinds recorded by the sweep.
const (
	DivergenceMissingAgreement    = "missing_agreement"
	DivergenceUnreleasedAgreement = "unreleased_agreement"
	DivergenceUnrecordedRelease   = "unrecorded_release"
	DivergenceMissingOpenRef      = "missing_open_ref"
)

// recoveredTxRef marks an escrow reference recovered from on-chain state
// after a crash between submission and persistence. The original transaction
// hash is unrecoverable; the agreement itself is re-derivable from the
// proposal id.
const recoveredTxRef = "recovered-on-chain"

// ReconciliationGuard enforces idempotency on escrow opens and detects
// divergence between the internal ledger and on-chain truth.
type ReconciliationGuard struct {
	store   Store
	chain   ChainAdapter
	emitter *telemetry.Emitter
	logger  *log.Logger
	clock   func() time.Time
}

// NewReconciliationGuard creates a guard over the given store and adapter.
func NewReconciliationGuard(store Store, adapter ChainAdapter, logger *log.Logger) *ReconciliationGuard {
	if logger == nil {
		logger = log.Default()
	}
	return &ReconciliationGuard{
		store:   store,
		chain:   adapter,
		emitter: telemetry.NewEmitter(store),
		logger:  logger,
		clock:   time.Now,
	}
}

// EnsureOpen performs the read-first open. If an agreement already exists on
// chain the stored reference is reused and no transaction is submitted,
// making the open operation idempotent across crashes and retries.
func (g *ReconciliationGuard) EnsureOpen(ctx context.Context, p proposal.Proposal, amount *big.Int) (string, error) {
	if g == nil || g.chain == nil {
		return "", fmt.Errorf("reconciliation guard is not configured")
	}

	agreement, err := g.chain.GetAgreement(ctx, p.ID)
	if err != nil {
		return "", err
	}
	if agreement.Exists {
		if p.EscrowOpenRef != "" {
			return p.EscrowOpenRef, nil
		}
		g.logger.Printf("settlement: agreement for %s already on chain with no stored reference, recovering", p.ID)
		return recoveredTxRef, nil
	}

	return g.chain.Open(ctx, p.ID, p.Contributor, amount)
}

// Sweep compares every accepted, work_in_progress and completed proposal
// against the on-chain agreement. An accepted proposal whose open transaction
// landed without the reference being persisted is advanced to
// work_in_progress; everything else that disagrees is persisted and logged as
// a divergence for an operator, never auto-corrected: silent correction could
// mask a double-spend attempt.
func (g *ReconciliationGuard) Sweep(ctx context.Context, limit int) error {
	if g == nil || g.store == nil || g.chain == nil {
		return fmt.Errorf("reconciliation guard is not configured")
	}
	if limit <= 0 {
		limit = 100
	}

	proposals, err := g.store.ListProposalsByStatus(ctx, []proposal.Status{
		proposal.StatusAccepted,
		proposal.StatusWorkInProgress,
		proposal.StatusCompleted,
	}, limit)
	if err != nil {
		return fmt.Errorf("list settled proposals: %w", err)
	}

	for _, p := range proposals {
		if err := ctx.Err(); err != nil {
			return err
		}
		agreement, err := g.chain.GetAgreement(ctx, p.ID)
		if err != nil {
			g.logger.Printf("settlement: sweep read for %s failed: %v", p.ID, err)
			continue
		}
		if p.Status == proposal.StatusAccepted {
			if agreement.Exists {
				g.recoverOpen(ctx, p)
			}
			continue
		}
		for _, kind := range diverges(p, agreement.Exists, agreement.CounterpartyConfirmed) {
			g.flag(ctx, p, kind)
		}
	}
	return nil
}

// recoverOpen advances an accepted proposal whose open transaction landed on
// chain without the reference being persisted, typically after a crash or a
// confirmation timeout between submission and the status write.
func (g *ReconciliationGuard) recoverOpen(ctx context.Context, p proposal.Proposal) {
	updated, err := p.MarkEscrowOpened(recoveredTxRef, g.clock().UTC())
	if err != nil {
		g.logger.Printf("settlement: recovery of %s failed: %v", p.ID, err)
		return
	}
	if err := g.store.UpdateProposal(ctx, updated, p.Status); err != nil {
		g.logger.Printf("settlement: recovery of %s not persisted: %v", p.ID, err)
		return
	}
	g.logger.Printf("settlement: agreement for %s found on chain, advanced to %s", p.ID, updated.Status)
	if err := g.emitter.Emit(ctx, storage.SettlementEvent{
		ProposalID: p.ID,
		EventType:  telemetry.EventEscrowOpened,
		Actor:      string(proposal.ActorCoordinator),
		FromStatus: string(p.Status),
		ToStatus:   string(updated.Status),
		TxRef:      recoveredTxRef,
	}); err != nil {
		g.logger.Printf("settlement: recovery audit event for %s not recorded: %v", p.ID, err)
	}
}

// diverges returns the divergence kinds between one proposal and the on-chain
// agreement flags.
func diverges(p proposal.Proposal, exists, released bool) []string {
	var kinds []string
	switch p.Status {
	case proposal.StatusCompleted:
		if !exists {
			kinds = append(kinds, DivergenceMissingAgreement)
		} else if !released {
			kinds = append(kinds, DivergenceUnreleasedAgreement)
		}
	case proposal.StatusWorkInProgress:
		if !exists {
			kinds = append(kinds, DivergenceMissingAgreement)
		} else if released {
			kinds = append(kinds, DivergenceUnrecordedRelease)
		}
		if p.EscrowOpenRef == "" {
			kinds = append(kinds, DivergenceMissingOpenRef)
		}
	}
	return kinds
}

func (g *ReconciliationGuard) flag(ctx context.Context, p proposal.Proposal, kind string) {
	detail := fmt.Sprintf("status %s disagrees with on-chain agreement: %s", p.Status, kind)
	g.logger.Printf("settlement: divergence on %s: %s", p.ID, detail)

	now := g.clock().UTC()
	if err := g.store.RecordDivergence(ctx, storage.Divergence{
		ProposalID: p.ID,
		Kind:       kind,
		Detail:     detail,
		DetectedAt: now,
	}); err != nil {
		g.logger.Printf("settlement: divergence on %s not recorded: %v", p.ID, err)
		return
	}
	if err := g.emitter.Emit(ctx, storage.SettlementEvent{
		ProposalID: p.ID,
		EventType:  telemetry.EventDivergenceFlagged,
		Actor:      string(proposal.ActorCoordinator),
		FromStatus: string(p.Status),
		ToStatus:   string(p.Status),
		Timestamp:  now,
	}); err != nil {
		g.logger.Printf("settlement: divergence audit event for %s not recorded: %v", p.ID, err)
	}
}

// ListDivergences returns the newest recorded divergences for operators.
func (g *ReconciliationGuard) ListDivergences(ctx context.Context, limit int) ([]storage.Divergence, error) {
	if g == nil || g.store == nil {
		return nil, fmt.Errorf("reconciliation guard is not configured")
	}
	return g.store.ListDivergences(ctx, limit)
}
