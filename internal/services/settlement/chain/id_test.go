package chain

import "testing"

func TestAgreementIDDeterministic(t *testing.T) {
	first := AgreementID("hnjcwlq3orskg5pvuzakvqtnle")
	second := AgreementID("hnjcwlq3orskg5pvuzakvqtnle")
	if first.Cmp(second) != 0 {
		t.Fatal("expected identical ids for identical input")
	}
}

func TestAgreementIDPinnedEncoding(t *testing.T) {
	// keccak-256("") interpreted as a big-endian unsigned integer. If this
	// changes, every deployed agreement becomes unreachable.
	got := AgreementID("")
	want := "89477152217924674838424037953991966239322087453347756267410168184682657981552"
	if got.String() != want {
		t.Fatalf("expected pinned empty-string digest %s, got %s", want, got)
	}
}

func TestAgreementIDDistinctInputs(t *testing.T) {
	seen := make(map[string]string)
	ids := []string{"a", "b", "ab", "ba", "proposal-1", "proposal-2"}
	for _, id := range ids {
		handle := AgreementID(id).String()
		if prev, ok := seen[handle]; ok {
			t.Fatalf("collision between %q and %q", prev, id)
		}
		seen[handle] = id
	}
}

func TestAgreementIDWidth(t *testing.T) {
	if bits := AgreementID("some-proposal").BitLen(); bits > 256 {
		t.Fatalf("expected at most 256 bits, got %d", bits)
	}
}
