package nightcap

import (
	"errors"
	"testing"
)

func TestFlowStringParseRoundtrip(t *testing.T) {
	flows := []Flow{
		FlowSignup,
		FlowResetPassword,
		FlowChangeEmail,
		FlowTwoFactorSetup,
		FlowTwoFactorLogin,
		FlowTwoFactorEnabled,
	}
	for _, f := range flows {
		parsed, err := ParseFlow(f.String())
		if err != nil {
			t.Fatalf("ParseFlow(%q): %v", f.String(), err)
		}
		if parsed != f {
			t.Fatalf("ParseFlow(%q) = %v, want %v", f.String(), parsed, f)
		}
		if !f.Valid() {
			t.Fatalf("%v should be valid", f)
		}
	}
}

func TestParseFlowUnknown(t *testing.T) {
	if _, err := ParseFlow("speakeasy"); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown flow name: got %v, want ErrValidation", err)
	}
	if _, err := ParseFlow(""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty flow name: got %v, want ErrValidation", err)
	}
}

func TestFlowValidBounds(t *testing.T) {
	if Flow(0).Valid() {
		t.Fatal("zero flow should be invalid")
	}
	if Flow(flowCount + 1).Valid() {
		t.Fatal("out-of-range flow should be invalid")
	}
}

func TestFlowSubmittable(t *testing.T) {
	if FlowTwoFactorEnabled.Submittable() {
		t.Fatal("the durable authenticator record must not accept submissions")
	}
	if Flow(0).Submittable() {
		t.Fatal("invalid flow must not accept submissions")
	}
	for _, f := range []Flow{FlowSignup, FlowResetPassword, FlowChangeEmail, FlowTwoFactorSetup, FlowTwoFactorLogin} {
		if !f.Submittable() {
			t.Fatalf("%v should accept submissions", f)
		}
	}
}
