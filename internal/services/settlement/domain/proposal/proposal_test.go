package proposal

import (
	"math/rand"
	"testing"
	"time"
)

func TestIsTransitionAllowed(t *testing.T) {
	cases := []struct {
		from  Status
		to    Status
		actor Actor
		want  bool
	}{
		{StatusPendingReview, StatusApproved, ActorFounder, true},
		{StatusPendingReview, StatusCounterOfferPending, ActorFounder, true},
		{StatusPendingReview, StatusRejected, ActorFounder, true},
		{StatusPendingReview, StatusApproved, ActorContributor, false},
		{StatusPendingReview, StatusAccepted, ActorFounder, false},
		{StatusCounterOfferPending, StatusAccepted, ActorContributor, true},
		{StatusCounterOfferPending, StatusRejected, ActorContributor, true},
		{StatusCounterOfferPending, StatusAccepted, ActorFounder, false},
		{StatusApproved, StatusAccepted, ActorContributor, true},
		{StatusApproved, StatusRejected, ActorContributor, true},
		{StatusAccepted, StatusWorkInProgress, ActorCoordinator, true},
		{StatusAccepted, StatusWorkInProgress, ActorFounder, false},
		{StatusWorkInProgress, StatusCompleted, ActorCoordinator, true},
		{StatusWorkInProgress, StatusRejected, ActorCoordinator, true},
		{StatusCompleted, StatusRejected, ActorCoordinator, false},
		{StatusRejected, StatusPendingReview, ActorFounder, false},
	}
	for _, tc := range cases {
		if got := IsTransitionAllowed(tc.from, tc.to, tc.actor); got != tc.want {
			t.Fatalf("%s -> %s (%s): expected %v, got %v", tc.from, tc.to, tc.actor, tc.want, got)
		}
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	all := []Status{
		StatusPendingReview, StatusCounterOfferPending, StatusApproved,
		StatusAccepted, StatusWorkInProgress, StatusCompleted, StatusRejected,
	}
	for _, terminal := range []Status{StatusCompleted, StatusRejected} {
		for _, to := range all {
			if TransitionExists(terminal, to) {
				t.Fatalf("expected no edge out of %s, found %s", terminal, to)
			}
		}
	}
}

func TestAgreedAmountPrefersCounter(t *testing.T) {
	p := Proposal{RequestedAmount: "1500000"}
	if got := p.AgreedAmount(); got != "1500000" {
		t.Fatalf("expected requested amount, got %s", got)
	}
	p.CounterAmount = "1200000"
	if got := p.AgreedAmount(); got != "1200000" {
		t.Fatalf("expected counter amount, got %s", got)
	}
}

// TestRandomActionSequencesStayOnGraph drives random actor/action sequences
// through the decision functions and checks every observed status change is
// an edge of the transition table.
func TestRandomActionSequencesStayOnGraph(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	type action func(Proposal) (Proposal, error)
	actions := []action{
		func(p Proposal) (Proposal, error) { return p.ReviewAccept("founder", now) },
		func(p Proposal) (Proposal, error) { return p.ReviewCounter("founder", "42", "too high", now) },
		func(p Proposal) (Proposal, error) { return p.ReviewReject("founder", "not a fit", now) },
		func(p Proposal) (Proposal, error) { return p.RespondAccept("pioneer", now) },
		func(p Proposal) (Proposal, error) { return p.RespondReject("pioneer", now) },
		func(p Proposal) (Proposal, error) { return p.ConfirmWork("pioneer", now) },
		func(p Proposal) (Proposal, error) { return p.MarkEscrowOpened("0xopen", now) },
		func(p Proposal) (Proposal, error) { return p.MarkReleased("0xrelease", now) },
		func(p Proposal) (Proposal, error) { return p.MarkCancelled("compensated", now) },
		// Wrong-actor attempts must never move the status.
		func(p Proposal) (Proposal, error) { return p.ReviewAccept("pioneer", now) },
		func(p Proposal) (Proposal, error) { return p.RespondAccept("founder", now) },
		func(p Proposal) (Proposal, error) { return p.ConfirmWork("founder", now) },
	}

	for run := 0; run < 300; run++ {
		p, err := CreateProposal(CreateProposalInput{
			ProjectID:       "proj",
			MissionID:       "mission",
			Contributor:     "pioneer",
			Founder:         "founder",
			RequestedAmount: "1500000",
		}, func() time.Time { return now }, nil)
		if err != nil {
			t.Fatalf("create proposal: %v", err)
		}

		for step := 0; step < 12; step++ {
			before := p.Status
			next, err := actions[rng.Intn(len(actions))](p)
			if err != nil {
				if next.Status != before {
					t.Fatalf("run %d: failed action moved status %s -> %s", run, before, next.Status)
				}
				continue
			}
			if next.Status != before && !TransitionExists(before, next.Status) {
				t.Fatalf("run %d: transition %s -> %s is outside the graph", run, before, next.Status)
			}
			if before == StatusCompleted || before == StatusRejected {
				if next.Status != before {
					t.Fatalf("run %d: transition out of terminal status %s", run, before)
				}
			}
			p = next
		}
	}
}
