package domain

import (
	"errors"
	"testing"
)

func TestParseSettlementCompletedPayload(t *testing.T) {
	t.Parallel()

	payload, err := ParseSettlementCompletedPayload(`{"proposal_id":"prop-1","contributor":"pioneer-1","amount":"1200000","network":"testnet","tx_ref":"0xabc"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.Contributor != "pioneer-1" {
		t.Fatalf("contributor = %q", payload.Contributor)
	}
	if payload.Amount != "1200000" {
		t.Fatalf("amount = %q", payload.Amount)
	}
}

func TestParseSettlementCompletedPayloadRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":            `{`,
		"missing proposal":    `{"contributor":"pioneer-1","amount":"1"}`,
		"missing contributor": `{"proposal_id":"prop-1","amount":"1"}`,
		"missing amount":      `{"proposal_id":"prop-1","contributor":"pioneer-1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseSettlementCompletedPayload(raw); !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("err = %v, want ErrInvalidPayload", err)
			}
		})
	}
}
