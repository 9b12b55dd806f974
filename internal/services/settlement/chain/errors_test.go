package chain

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/missionforge/missionforge/internal/platform/errors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want apperrors.Code
	}{
		{"execution reverted: agreement already exists", apperrors.CodeAgreementAlreadyExists},
		{"execution reverted: agreement already released", apperrors.CodeAgreementAlreadyReleased},
		{"execution reverted: contributor not confirmed", apperrors.CodeAgreementNotConfirmed},
		{"execution reverted: no agreement", apperrors.CodeAgreementNotFound},
		{"execution reverted: ERC20: insufficient allowance", apperrors.CodeChainInsufficientAllowance},
		{"insufficient funds for gas * price + value", apperrors.CodeChainInsufficientFunds},
		{"execution reverted", apperrors.CodeChainReverted},
		{"dial tcp 127.0.0.1:8545: connect: connection refused", apperrors.CodeChainUnavailable},
		{"read tcp: i/o timeout", apperrors.CodeChainUnavailable},
		{"some novel failure mode", apperrors.CodeChainError},
	}
	for _, tc := range cases {
		err := Classify("open escrow", errors.New(tc.raw))
		if got := apperrors.GetCode(err); got != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.raw, tc.want, got)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if err := Classify("open escrow", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestClassifyDeadline(t *testing.T) {
	err := Classify("release escrow", context.DeadlineExceeded)
	if got := apperrors.GetCode(err); got != apperrors.CodeChainUnavailable {
		t.Fatalf("expected CHAIN_UNAVAILABLE, got %s", got)
	}
}

func TestClassifyPassesThroughDomainErrors(t *testing.T) {
	orig := apperrors.New(apperrors.CodeAgreementNotFound, "agreement not found")
	if got := Classify("get agreement", orig); got != orig {
		t.Fatalf("expected domain error passed through, got %v", got)
	}
}

func TestClassifyKeepsRawMessage(t *testing.T) {
	err := Classify("open escrow", errors.New("some novel failure mode"))
	meta := apperrors.GetMetadata(err)
	if meta["raw"] != "some novel failure mode" {
		t.Fatalf("expected raw message preserved, got %v", meta)
	}
}

func TestPendingErrorCarriesTxRef(t *testing.T) {
	err := PendingError("open escrow", "0xabc")
	if got := apperrors.GetCode(err); got != apperrors.CodeChainTxPending {
		t.Fatalf("expected CHAIN_TX_PENDING, got %s", got)
	}
	if meta := apperrors.GetMetadata(err); meta["tx_ref"] != "0xabc" {
		t.Fatalf("expected tx ref metadata, got %v", meta)
	}
}
