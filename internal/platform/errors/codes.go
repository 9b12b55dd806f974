// Package errors provides structured error handling with machine-readable codes.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Proposal errors
	CodeProposalEmptyID                 Code = "PROPOSAL_EMPTY_ID"
	CodeProposalEmptyMissionID          Code = "PROPOSAL_EMPTY_MISSION_ID"
	CodeProposalEmptyProjectID          Code = "PROPOSAL_EMPTY_PROJECT_ID"
	CodeProposalEmptyContributor        Code = "PROPOSAL_EMPTY_CONTRIBUTOR"
	CodeProposalEmptyFounder            Code = "PROPOSAL_EMPTY_FOUNDER"
	CodeProposalInvalidAmount           Code = "PROPOSAL_INVALID_AMOUNT"
	CodeProposalNotesRequired           Code = "PROPOSAL_NOTES_REQUIRED"
	CodeProposalInvalidStatusTransition Code = "PROPOSAL_INVALID_STATUS_TRANSITION"
	CodeProposalActorNotAllowed         Code = "PROPOSAL_ACTOR_NOT_ALLOWED"
	CodeProposalNotFound                Code = "PROPOSAL_NOT_FOUND"
	CodeProposalUpdateConflict          Code = "PROPOSAL_UPDATE_CONFLICT"

	// Settlement errors
	CodeSettlementWorkNotConfirmed Code = "SETTLEMENT_WORK_NOT_CONFIRMED"
	CodeSettlementInvalidNetwork   Code = "SETTLEMENT_INVALID_NETWORK"

	// Agreement (external ledger) errors
	CodeAgreementAlreadyExists   Code = "AGREEMENT_ALREADY_EXISTS"
	CodeAgreementNotFound        Code = "AGREEMENT_NOT_FOUND"
	CodeAgreementNotConfirmed    Code = "AGREEMENT_NOT_CONFIRMED"
	CodeAgreementAlreadyReleased Code = "AGREEMENT_ALREADY_RELEASED"

	// Chain adapter errors
	CodeChainInsufficientAllowance Code = "CHAIN_INSUFFICIENT_ALLOWANCE"
	CodeChainInsufficientFunds     Code = "CHAIN_INSUFFICIENT_FUNDS"
	CodeChainReverted              Code = "CHAIN_REVERTED"
	CodeChainUnavailable           Code = "CHAIN_UNAVAILABLE"
	CodeChainTxPending             Code = "CHAIN_TX_PENDING"
	CodeChainInvalidAmount         Code = "CHAIN_INVALID_AMOUNT"
	CodeChainInvalidAddress        Code = "CHAIN_INVALID_ADDRESS"
	CodeChainError                 Code = "CHAIN_ERROR"

	// Query errors
	CodeInvalidFilter Code = "INVALID_FILTER"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeProposalEmptyID,
		CodeProposalEmptyMissionID,
		CodeProposalEmptyProjectID,
		CodeProposalEmptyContributor,
		CodeProposalEmptyFounder,
		CodeProposalInvalidAmount,
		CodeProposalNotesRequired,
		CodeSettlementInvalidNetwork,
		CodeChainInvalidAmount,
		CodeChainInvalidAddress,
		CodeInvalidFilter:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow the operation yet
	case CodeProposalInvalidStatusTransition,
		CodeSettlementWorkNotConfirmed,
		CodeAgreementNotConfirmed,
		CodeChainTxPending:
		return codes.FailedPrecondition

	// PermissionDenied - actor not permitted to trigger this transition
	case CodeProposalActorNotAllowed:
		return codes.PermissionDenied

	// NotFound
	case CodeProposalNotFound,
		CodeAgreementNotFound,
		CodeNotFound:
		return codes.NotFound

	// AlreadyExists
	case CodeAgreementAlreadyExists,
		CodeAlreadyExists:
		return codes.AlreadyExists

	// Aborted - concurrent-update lost race, double release
	case CodeProposalUpdateConflict,
		CodeAgreementAlreadyReleased:
		return codes.Aborted

	// Unavailable - RPC unreachable, safe to retry
	case CodeChainUnavailable:
		return codes.Unavailable

	// Internal - reverted execution, signer account problems
	case CodeChainReverted,
		CodeChainInsufficientFunds,
		CodeChainInsufficientAllowance,
		CodeChainError:
		return codes.Internal

	default:
		return codes.Internal
	}
}
