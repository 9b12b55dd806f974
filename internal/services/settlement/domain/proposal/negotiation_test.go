package proposal

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/missionforge/missionforge/internal/platform/errors"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestProposal(t *testing.T) Proposal {
	t.Helper()
	p, err := CreateProposal(CreateProposalInput{
		ProjectID:       "proj",
		MissionID:       "mission",
		Contributor:     "0xpioneer",
		Founder:         "0xfounder",
		RequestedAmount: "1500000",
		Network:         "testnet",
	}, func() time.Time { return testNow }, nil)
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	return p
}

func TestCreateProposalValidation(t *testing.T) {
	cases := []struct {
		name  string
		input CreateProposalInput
		want  error
	}{
		{"missing project", CreateProposalInput{MissionID: "m", Contributor: "c", Founder: "f", RequestedAmount: "1"}, ErrEmptyProjectID},
		{"missing mission", CreateProposalInput{ProjectID: "p", Contributor: "c", Founder: "f", RequestedAmount: "1"}, ErrEmptyMissionID},
		{"missing contributor", CreateProposalInput{ProjectID: "p", MissionID: "m", Founder: "f", RequestedAmount: "1"}, ErrEmptyContributor},
		{"missing founder", CreateProposalInput{ProjectID: "p", MissionID: "m", Contributor: "c", RequestedAmount: "1"}, ErrEmptyFounder},
		{"zero amount", CreateProposalInput{ProjectID: "p", MissionID: "m", Contributor: "c", Founder: "f", RequestedAmount: "0"}, ErrInvalidAmount},
		{"negative amount", CreateProposalInput{ProjectID: "p", MissionID: "m", Contributor: "c", Founder: "f", RequestedAmount: "-5"}, ErrInvalidAmount},
		{"malformed amount", CreateProposalInput{ProjectID: "p", MissionID: "m", Contributor: "c", Founder: "f", RequestedAmount: "12a"}, ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := CreateProposal(tc.input, nil, nil); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateProposalStartsPendingReview(t *testing.T) {
	p := newTestProposal(t)
	if p.Status != StatusPendingReview {
		t.Fatalf("expected pending_review, got %s", p.Status)
	}
	if p.ID == "" {
		t.Fatal("expected generated id")
	}
	if !p.ContributorConfirmedAt.IsZero() {
		t.Fatal("expected zero confirmation timestamp")
	}
}

func TestDoubleHandshakeViaCounter(t *testing.T) {
	p := newTestProposal(t)

	countered, err := p.ReviewCounter("0xfounder", "1200000", "budget is tighter", testNow)
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if countered.Status != StatusCounterOfferPending {
		t.Fatalf("expected counter_offer_pending, got %s", countered.Status)
	}
	if countered.CounterAmount != "1200000" {
		t.Fatalf("expected counter amount persisted, got %q", countered.CounterAmount)
	}

	accepted, err := countered.RespondAccept("0xpioneer", testNow)
	if err != nil {
		t.Fatalf("respond accept: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}
	if got := accepted.AgreedAmount(); got != "1200000" {
		t.Fatalf("expected agreed amount 1200000, got %s", got)
	}
}

func TestDoubleHandshakeViaApproval(t *testing.T) {
	p := newTestProposal(t)

	approved, err := p.ReviewAccept("0xfounder", testNow)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	accepted, err := approved.RespondAccept("0xpioneer", testNow)
	if err != nil {
		t.Fatalf("respond accept: %v", err)
	}
	if got := accepted.AgreedAmount(); got != "1500000" {
		t.Fatalf("expected agreed amount 1500000, got %s", got)
	}
}

func TestCounterRequiresNotes(t *testing.T) {
	p := newTestProposal(t)
	if _, err := p.ReviewCounter("0xfounder", "1200000", "  ", testNow); !errors.Is(err, ErrNotesRequired) {
		t.Fatalf("expected notes required, got %v", err)
	}
}

func TestRejectRequiresNotes(t *testing.T) {
	p := newTestProposal(t)
	if _, err := p.ReviewReject("0xfounder", "", testNow); !errors.Is(err, ErrNotesRequired) {
		t.Fatalf("expected notes required, got %v", err)
	}
}

func TestRejectSurfacesReason(t *testing.T) {
	p := newTestProposal(t)
	rejected, err := p.ReviewReject("0xfounder", "scope mismatch", testNow)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if rejected.Notes != "scope mismatch" {
		t.Fatalf("expected rejection reason persisted, got %q", rejected.Notes)
	}
}

func TestWrongActorIsAuthorizationError(t *testing.T) {
	p := newTestProposal(t)

	if _, err := p.ReviewAccept("0xpioneer", testNow); !errors.Is(err, ErrActorNotAllowed) {
		t.Fatalf("expected actor not allowed, got %v", err)
	}
	if got := apperrors.GetCode(ErrActorNotAllowed); got != apperrors.CodeProposalActorNotAllowed {
		t.Fatalf("expected authorization code, got %s", got)
	}

	approved, err := p.ReviewAccept("0xfounder", testNow)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := approved.RespondAccept("0xsomeoneelse", testNow); !errors.Is(err, ErrActorNotAllowed) {
		t.Fatalf("expected actor not allowed, got %v", err)
	}
}

func TestRespondBeforeReviewIsInvalid(t *testing.T) {
	p := newTestProposal(t)
	if _, err := p.RespondAccept("0xpioneer", testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestConfirmWorkOnlyInProgress(t *testing.T) {
	p := newTestProposal(t)
	if _, err := p.ConfirmWork("0xpioneer", testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestConfirmWorkKeepsStatus(t *testing.T) {
	p := newTestProposal(t)
	p.Status = StatusWorkInProgress
	p.EscrowOpenRef = "0xopen"

	confirmedAt := testNow.Add(48 * time.Hour)
	confirmed, err := p.ConfirmWork("0xpioneer", confirmedAt)
	if err != nil {
		t.Fatalf("confirm work: %v", err)
	}
	if confirmed.Status != StatusWorkInProgress {
		t.Fatalf("expected status unchanged, got %s", confirmed.Status)
	}
	if !confirmed.ContributorConfirmedAt.Equal(confirmedAt) {
		t.Fatalf("expected confirmation timestamp %v, got %v", confirmedAt, confirmed.ContributorConfirmedAt)
	}
}

func TestMarkEscrowOpenedRequiresRef(t *testing.T) {
	p := newTestProposal(t)
	p.Status = StatusAccepted
	if _, err := p.MarkEscrowOpened(" ", testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for empty ref, got %v", err)
	}

	opened, err := p.MarkEscrowOpened("0xopen", testNow)
	if err != nil {
		t.Fatalf("mark opened: %v", err)
	}
	if opened.Status != StatusWorkInProgress || opened.EscrowOpenRef != "0xopen" {
		t.Fatalf("expected work_in_progress with ref, got %s %q", opened.Status, opened.EscrowOpenRef)
	}
}

func TestMarkReleasedFromWorkInProgress(t *testing.T) {
	p := newTestProposal(t)
	p.Status = StatusWorkInProgress
	p.EscrowOpenRef = "0xopen"

	released, err := p.MarkReleased("0xrelease", testNow)
	if err != nil {
		t.Fatalf("mark released: %v", err)
	}
	if released.Status != StatusCompleted || released.EscrowReleaseRef != "0xrelease" {
		t.Fatalf("expected completed with ref, got %s %q", released.Status, released.EscrowReleaseRef)
	}

	// completed is terminal
	if _, err := released.MarkReleased("0xagain", testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition out of completed, got %v", err)
	}
}

func TestValidateAmount(t *testing.T) {
	valid := []string{"1", "1500000", "0.5", "12.000001", "999999999999999999999999"}
	for _, v := range valid {
		if err := ValidateAmount(v); err != nil {
			t.Fatalf("expected %q valid: %v", v, err)
		}
	}
	invalid := []string{"", "0", "0.0", ".", "1.", ".5.", "1e6", "-1", "1,5", "NaN"}
	for _, v := range invalid {
		if err := ValidateAmount(v); err == nil {
			t.Fatalf("expected %q invalid", v)
		}
	}
}
