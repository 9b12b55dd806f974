package config

import "testing"

func TestExitfUsesCodeOne(t *testing.T) {
	var gotCode int
	origExit := osExit
	osExit = func(code int) { gotCode = code }
	defer func() { osExit = origExit }()

	Exitf("boom: %s", "detail")

	if gotCode != 1 {
		t.Fatalf("expected exit code 1, got %d", gotCode)
	}
}
