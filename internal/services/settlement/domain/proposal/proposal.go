// Package proposal implements the negotiation state machine for compensation
// proposals between a founder and a contributor.
package proposal

import (
	"strings"
	"time"
)

// Status describes the proposal lifecycle label used by domain decisions.
type Status string

const (
	StatusUnspecified         Status = ""
	StatusPendingReview       Status = "pending_review"
	StatusCounterOfferPending Status = "counter_offer_pending"
	StatusApproved            Status = "approved"
	StatusAccepted            Status = "accepted"
	StatusWorkInProgress      Status = "work_in_progress"
	StatusCompleted           Status = "completed"
	StatusRejected            Status = "rejected"
)

// Actor identifies which party may drive a transition.
type Actor string

const (
	ActorFounder     Actor = "founder"
	ActorContributor Actor = "contributor"
	// ActorCoordinator marks transitions only the settlement coordinator may
	// apply, after the corresponding external ledger call succeeded.
	ActorCoordinator Actor = "coordinator"
)

// Proposal is the internal ledger record for one negotiation.
type Proposal struct {
	ID        string
	ProjectID string
	MissionID string

	// Contributor is the wallet identity of the pioneer who proposed.
	Contributor string
	// Founder is the wallet identity of the mission owner, captured at
	// propose time so review authorization is checkable locally.
	Founder string

	// RequestedAmount is the contributor's asked amount. Set once, immutable.
	RequestedAmount string
	// CounterAmount is the founder's counter-offer amount. Empty until the
	// proposal passes through counter_offer_pending.
	CounterAmount string
	// Notes carries the founder's reasoning; required on counter and reject.
	Notes string

	Status Status

	// Network labels the ledger environment the escrow lives on.
	Network string
	// EscrowOpenRef is the open transaction reference. Non-empty exactly when
	// the status is work_in_progress or completed.
	EscrowOpenRef string
	// EscrowReleaseRef is the release transaction reference. Non-empty exactly
	// when the status is completed.
	EscrowReleaseRef string
	// ContributorConfirmedAt records the contributor's work-done signal. This
	// gate is internal only; the on-chain confirmation flag is checked
	// independently before release.
	ContributorConfirmedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgreedAmount returns the amount both parties settled on: the founder's
// counter when one was made, otherwise the contributor's original ask.
func (p Proposal) AgreedAmount() string {
	if strings.TrimSpace(p.CounterAmount) != "" {
		return p.CounterAmount
	}
	return p.RequestedAmount
}

// IsTerminal reports whether no transition may leave the status.
func (p Proposal) IsTerminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusRejected
}

// allowedTransitions encodes the full negotiation and settlement graph as a
// single table: target statuses per source status, with the actor permitted
// to drive each edge.
var allowedTransitions = map[Status]map[Status]Actor{
	StatusPendingReview: {
		StatusCounterOfferPending: ActorFounder,
		StatusApproved:            ActorFounder,
		StatusRejected:            ActorFounder,
	},
	StatusCounterOfferPending: {
		StatusAccepted: ActorContributor,
		StatusRejected: ActorContributor,
	},
	StatusApproved: {
		StatusAccepted: ActorContributor,
		StatusRejected: ActorContributor,
	},
	StatusAccepted: {
		StatusWorkInProgress: ActorCoordinator,
	},
	StatusWorkInProgress: {
		StatusCompleted: ActorCoordinator,
		// Compensating cancel after escrow opened but before release.
		StatusRejected: ActorCoordinator,
	},
}

// IsTransitionAllowed reports whether the edge exists in the graph for the
// given actor. Terminal statuses have no outgoing edges.
func IsTransitionAllowed(from, to Status, actor Actor) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	required, ok := targets[to]
	if !ok {
		return false
	}
	return required == actor
}

// TransitionExists reports whether the edge exists for any actor.
func TransitionExists(from, to Status) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// ValidStatus reports whether the label is one of the closed status set.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPendingReview, StatusCounterOfferPending, StatusApproved,
		StatusAccepted, StatusWorkInProgress, StatusCompleted, StatusRejected:
		return true
	default:
		return false
	}
}
