package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/missionforge/missionforge/internal/platform/errors"
)

// Classify maps a low-level chain failure to one of the fixed domain error
// codes by inspecting revert reasons and error substrings. Unrecognized
// failures become a generic chain error carrying the raw message so an
// operator can diagnose the transaction.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "already exists"):
		return apperrors.Wrap(apperrors.CodeAgreementAlreadyExists, op+": agreement already exists", err)
	case strings.Contains(msg, "already released"):
		return apperrors.Wrap(apperrors.CodeAgreementAlreadyReleased, op+": agreement already released", err)
	case strings.Contains(msg, "not confirmed"):
		return apperrors.Wrap(apperrors.CodeAgreementNotConfirmed, op+": agreement not confirmed", err)
	case strings.Contains(msg, "no agreement"), strings.Contains(msg, "unknown agreement"), strings.Contains(msg, "not found"):
		return apperrors.Wrap(apperrors.CodeAgreementNotFound, op+": agreement not found", err)
	case strings.Contains(msg, "insufficient allowance"), strings.Contains(msg, "transfer amount exceeds allowance"):
		return apperrors.Wrap(apperrors.CodeChainInsufficientAllowance, op+": insufficient token allowance", err)
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"), strings.Contains(msg, "transfer amount exceeds balance"):
		return apperrors.Wrap(apperrors.CodeChainInsufficientFunds, op+": insufficient funds", err)
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "revert"):
		return apperrors.WrapWithMetadata(apperrors.CodeChainReverted, op+": execution reverted",
			map[string]string{"reason": err.Error()}, err)
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "eof"):
		return apperrors.Wrap(apperrors.CodeChainUnavailable, op+": chain rpc unavailable", err)
	default:
		return apperrors.WrapWithMetadata(apperrors.CodeChainError, fmt.Sprintf("%s: chain call failed", op),
			map[string]string{"raw": err.Error()}, err)
	}
}

// PendingError reports a submitted transaction whose confirmation wait timed
// out. The transaction may still land; the reference is preserved so the
// reconciliation sweep can resolve it later.
func PendingError(op, txRef string) error {
	return apperrors.WithMetadata(apperrors.CodeChainTxPending,
		op+": transaction submitted but not yet confirmed",
		map[string]string{"tx_ref": txRef})
}
