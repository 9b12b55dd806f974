package proposal

import apperrors "github.com/missionforge/missionforge/internal/platform/errors"

var (
	// ErrEmptyID indicates a missing proposal ID.
	ErrEmptyID = apperrors.New(apperrors.CodeProposalEmptyID, "proposal id is required")
	// ErrEmptyMissionID indicates a missing mission ID.
	ErrEmptyMissionID = apperrors.New(apperrors.CodeProposalEmptyMissionID, "mission id is required")
	// ErrEmptyProjectID indicates a missing project ID.
	ErrEmptyProjectID = apperrors.New(apperrors.CodeProposalEmptyProjectID, "project id is required")
	// ErrEmptyContributor indicates a missing contributor identity.
	ErrEmptyContributor = apperrors.New(apperrors.CodeProposalEmptyContributor, "contributor identity is required")
	// ErrEmptyFounder indicates a missing founder identity.
	ErrEmptyFounder = apperrors.New(apperrors.CodeProposalEmptyFounder, "founder identity is required")
	// ErrInvalidAmount indicates a malformed or non-positive token amount.
	ErrInvalidAmount = apperrors.New(apperrors.CodeProposalInvalidAmount, "token amount must be a positive decimal")
	// ErrNotesRequired indicates a counter or rejection without a reason.
	ErrNotesRequired = apperrors.New(apperrors.CodeProposalNotesRequired, "notes are required for this review action")
	// ErrInvalidTransition indicates a status change outside the graph.
	ErrInvalidTransition = apperrors.New(apperrors.CodeProposalInvalidStatusTransition, "proposal status transition is not allowed")
	// ErrActorNotAllowed indicates the acting identity may not drive this transition.
	ErrActorNotAllowed = apperrors.New(apperrors.CodeProposalActorNotAllowed, "actor is not allowed to perform this action")
)
