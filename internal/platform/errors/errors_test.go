package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeAgreementAlreadyExists, "agreement already exists")
	wrapped := fmt.Errorf("open escrow: %w", base)

	if !stderrors.Is(wrapped, New(CodeAgreementAlreadyExists, "other message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(wrapped, New(CodeAgreementNotFound, "agreement not found")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestGetCode(t *testing.T) {
	err := Wrap(CodeChainUnavailable, "rpc unreachable", stderrors.New("dial tcp: refused"))
	if got := GetCode(fmt.Errorf("submit: %w", err)); got != CodeChainUnavailable {
		t.Fatalf("expected CHAIN_UNAVAILABLE, got %s", got)
	}
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected UNKNOWN for plain error, got %s", got)
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := stderrors.New("execution reverted: agreement exists")
	err := Wrap(CodeChainReverted, "open agreement reverted", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	cases := []struct {
		code Code
		want codes.Code
	}{
		{CodeProposalInvalidAmount, codes.InvalidArgument},
		{CodeProposalNotesRequired, codes.InvalidArgument},
		{CodeProposalInvalidStatusTransition, codes.FailedPrecondition},
		{CodeProposalActorNotAllowed, codes.PermissionDenied},
		{CodeProposalNotFound, codes.NotFound},
		{CodeProposalUpdateConflict, codes.Aborted},
		{CodeAgreementAlreadyExists, codes.AlreadyExists},
		{CodeAgreementAlreadyReleased, codes.Aborted},
		{CodeAgreementNotConfirmed, codes.FailedPrecondition},
		{CodeChainTxPending, codes.FailedPrecondition},
		{CodeChainUnavailable, codes.Unavailable},
		{CodeChainReverted, codes.Internal},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range cases {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, got)
		}
	}
}

func TestHandleErrorAttachesErrorInfo(t *testing.T) {
	err := WithMetadata(CodeChainReverted, "open agreement reverted", map[string]string{
		"proposal_id": "abc",
	})

	st, ok := status.FromError(HandleError(err))
	if !ok {
		t.Fatal("expected a gRPC status")
	}
	if st.Code() != codes.Internal {
		t.Fatalf("expected Internal, got %v", st.Code())
	}
	if len(st.Details()) == 0 {
		t.Fatal("expected error details")
	}
}

func TestHandleErrorUnknown(t *testing.T) {
	st, ok := status.FromError(HandleError(stderrors.New("boom")))
	if !ok {
		t.Fatal("expected a gRPC status")
	}
	if st.Code() != codes.Internal {
		t.Fatalf("expected Internal, got %v", st.Code())
	}
	if st.Message() == "boom" {
		t.Fatal("expected internal message to be masked")
	}
}
