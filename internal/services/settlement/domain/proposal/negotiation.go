package proposal

import (
	"fmt"
	"strings"
	"time"

	"github.com/missionforge/missionforge/internal/platform/id"
)

// CreateProposalInput describes the metadata needed to open a negotiation.
type CreateProposalInput struct {
	ProjectID       string
	MissionID       string
	Contributor     string
	Founder         string
	RequestedAmount string
	Notes           string
	Network         string
}

// CreateProposal creates a new proposal in pending_review with a generated ID
// and timestamps.
func CreateProposal(input CreateProposalInput, now func() time.Time, idGenerator func() (string, error)) (Proposal, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := normalizeCreateProposalInput(input)
	if err != nil {
		return Proposal{}, err
	}

	proposalID, err := idGenerator()
	if err != nil {
		return Proposal{}, fmt.Errorf("generate proposal id: %w", err)
	}

	createdAt := now().UTC()
	return Proposal{
		ID:              proposalID,
		ProjectID:       normalized.ProjectID,
		MissionID:       normalized.MissionID,
		Contributor:     normalized.Contributor,
		Founder:         normalized.Founder,
		RequestedAmount: normalized.RequestedAmount,
		Notes:           normalized.Notes,
		Status:          StatusPendingReview,
		Network:         normalized.Network,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

func normalizeCreateProposalInput(input CreateProposalInput) (CreateProposalInput, error) {
	input.ProjectID = strings.TrimSpace(input.ProjectID)
	if input.ProjectID == "" {
		return CreateProposalInput{}, ErrEmptyProjectID
	}
	input.MissionID = strings.TrimSpace(input.MissionID)
	if input.MissionID == "" {
		return CreateProposalInput{}, ErrEmptyMissionID
	}
	input.Contributor = strings.TrimSpace(input.Contributor)
	if input.Contributor == "" {
		return CreateProposalInput{}, ErrEmptyContributor
	}
	input.Founder = strings.TrimSpace(input.Founder)
	if input.Founder == "" {
		return CreateProposalInput{}, ErrEmptyFounder
	}
	input.RequestedAmount = strings.TrimSpace(input.RequestedAmount)
	if err := ValidateAmount(input.RequestedAmount); err != nil {
		return CreateProposalInput{}, err
	}
	input.Notes = strings.TrimSpace(input.Notes)
	input.Network = strings.TrimSpace(input.Network)
	return input, nil
}

// apply performs one checked transition and stamps the update time. The
// proposal value is returned unchanged on error.
func (p Proposal) apply(to Status, actor Actor, at time.Time) (Proposal, error) {
	if !TransitionExists(p.Status, to) {
		return p, ErrInvalidTransition
	}
	if !IsTransitionAllowed(p.Status, to, actor) {
		return p, ErrActorNotAllowed
	}
	p.Status = to
	p.UpdatedAt = at.UTC()
	return p, nil
}

func (p Proposal) requireFounder(identity string) error {
	if strings.TrimSpace(identity) == "" || identity != p.Founder {
		return ErrActorNotAllowed
	}
	return nil
}

func (p Proposal) requireContributor(identity string) error {
	if strings.TrimSpace(identity) == "" || identity != p.Contributor {
		return ErrActorNotAllowed
	}
	return nil
}

// ReviewAccept is the founder accepting the requested amount as-is.
func (p Proposal) ReviewAccept(founder string, at time.Time) (Proposal, error) {
	if err := p.requireFounder(founder); err != nil {
		return p, err
	}
	return p.apply(StatusApproved, ActorFounder, at)
}

// ReviewCounter is the founder proposing a different amount. Notes are
// required so the contributor sees the reasoning.
func (p Proposal) ReviewCounter(founder, counterAmount, notes string, at time.Time) (Proposal, error) {
	if err := p.requireFounder(founder); err != nil {
		return p, err
	}
	counterAmount = strings.TrimSpace(counterAmount)
	if err := ValidateAmount(counterAmount); err != nil {
		return p, err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return p, ErrNotesRequired
	}
	updated, err := p.apply(StatusCounterOfferPending, ActorFounder, at)
	if err != nil {
		return p, err
	}
	updated.CounterAmount = counterAmount
	updated.Notes = notes
	return updated, nil
}

// ReviewReject is the founder declining the proposal. Notes are required and
// surfaced to the contributor as the rejection reason.
func (p Proposal) ReviewReject(founder, notes string, at time.Time) (Proposal, error) {
	if err := p.requireFounder(founder); err != nil {
		return p, err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return p, ErrNotesRequired
	}
	updated, err := p.apply(StatusRejected, ActorFounder, at)
	if err != nil {
		return p, err
	}
	updated.Notes = notes
	return updated, nil
}

// RespondAccept is the contributor affirming the founder's approval or
// counter-offer. This completes the double handshake; only from here may the
// coordinator open escrow.
func (p Proposal) RespondAccept(contributor string, at time.Time) (Proposal, error) {
	if err := p.requireContributor(contributor); err != nil {
		return p, err
	}
	return p.apply(StatusAccepted, ActorContributor, at)
}

// RespondReject is the contributor declining the founder's approval or
// counter-offer.
func (p Proposal) RespondReject(contributor string, at time.Time) (Proposal, error) {
	if err := p.requireContributor(contributor); err != nil {
		return p, err
	}
	return p.apply(StatusRejected, ActorContributor, at)
}

// ConfirmWork records the contributor's work-done signal. The status stays
// work_in_progress; only the confirmation timestamp changes.
func (p Proposal) ConfirmWork(contributor string, at time.Time) (Proposal, error) {
	if err := p.requireContributor(contributor); err != nil {
		return p, err
	}
	if p.Status != StatusWorkInProgress {
		return p, ErrInvalidTransition
	}
	p.ContributorConfirmedAt = at.UTC()
	p.UpdatedAt = at.UTC()
	return p, nil
}

// MarkEscrowOpened is the coordinator advancing accepted to work_in_progress
// after the open call was confirmed on chain. The transaction reference is
// persisted in the same step so the escrow invariants hold.
func (p Proposal) MarkEscrowOpened(openRef string, at time.Time) (Proposal, error) {
	openRef = strings.TrimSpace(openRef)
	if openRef == "" {
		return p, ErrInvalidTransition
	}
	updated, err := p.apply(StatusWorkInProgress, ActorCoordinator, at)
	if err != nil {
		return p, err
	}
	updated.EscrowOpenRef = openRef
	return updated, nil
}

// MarkReleased is the coordinator advancing work_in_progress to completed
// after the release call was confirmed on chain.
func (p Proposal) MarkReleased(releaseRef string, at time.Time) (Proposal, error) {
	releaseRef = strings.TrimSpace(releaseRef)
	if releaseRef == "" {
		return p, ErrInvalidTransition
	}
	updated, err := p.apply(StatusCompleted, ActorCoordinator, at)
	if err != nil {
		return p, err
	}
	updated.EscrowReleaseRef = releaseRef
	return updated, nil
}

// MarkCancelled is the coordinator rejecting a proposal whose escrow was
// already opened, after the compensating cancel call succeeded.
func (p Proposal) MarkCancelled(notes string, at time.Time) (Proposal, error) {
	updated, err := p.apply(StatusRejected, ActorCoordinator, at)
	if err != nil {
		return p, err
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		updated.Notes = notes
	}
	return updated, nil
}
