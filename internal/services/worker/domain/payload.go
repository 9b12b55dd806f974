// Package domain defines the outbox event payloads the worker dispatches.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventSettlementCompleted is the outbox event type emitted when a proposal
// settles and tokens are released.
const EventSettlementCompleted = "settlement.completed"

// ErrInvalidPayload indicates an outbox payload that cannot be dispatched.
// Events carrying one are dead-lettered, not retried.
var ErrInvalidPayload = errors.New("invalid outbox payload")

// SettlementCompletedPayload is the body of a settlement.completed event: the
// contributor identity and settled amount owed to the reputation collaborator.
type SettlementCompletedPayload struct {
	ProposalID  string `json:"proposal_id"`
	Contributor string `json:"contributor"`
	Amount      string `json:"amount"`
	Network     string `json:"network,omitempty"`
	TxRef       string `json:"tx_ref,omitempty"`
}

// ParseSettlementCompletedPayload decodes and validates one payload.
func ParseSettlementCompletedPayload(raw string) (SettlementCompletedPayload, error) {
	var payload SettlementCompletedPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return SettlementCompletedPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(payload.ProposalID) == "" {
		return SettlementCompletedPayload{}, fmt.Errorf("%w: proposal_id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(payload.Contributor) == "" {
		return SettlementCompletedPayload{}, fmt.Errorf("%w: contributor is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(payload.Amount) == "" {
		return SettlementCompletedPayload{}, fmt.Errorf("%w: amount is required", ErrInvalidPayload)
	}
	return payload, nil
}
