package nightcap

import "fmt"

// Flow identifies which verification flow a challenge belongs to. A ledger
// record is unique per (target, flow), so the same email address can hold a
// signup challenge and a password-reset challenge at the same time without
// either invalidating the other.
type Flow uint8

const (
	// FlowSignup confirms ownership of the address given at registration.
	FlowSignup Flow = iota + 1
	// FlowResetPassword confirms ownership of the address before a
	// credential rewrite.
	FlowResetPassword
	// FlowChangeEmail confirms ownership of a newly requested address. The
	// code must be redeemed on the browser that requested the change.
	FlowChangeEmail
	// FlowTwoFactorSetup is the short-lived challenge issued while a user is
	// enrolling an authenticator. Confirming it promotes the record to
	// FlowTwoFactorEnabled without changing the secret.
	FlowTwoFactorSetup
	// FlowTwoFactorLogin is the per-login challenge gating the deferred
	// session commit. It is consumed exactly once.
	FlowTwoFactorLogin
	// FlowTwoFactorEnabled is the durable record holding an account's
	// enrolled authenticator secret. It never expires.
	FlowTwoFactorEnabled
)

const flowCount = int(FlowTwoFactorEnabled)

func (f Flow) String() string {
	switch f {
	case FlowSignup:
		return "signup"
	case FlowResetPassword:
		return "reset-password"
	case FlowChangeEmail:
		return "change-email"
	case FlowTwoFactorSetup:
		return "2fa-setup"
	case FlowTwoFactorLogin:
		return "2fa-login-challenge"
	case FlowTwoFactorEnabled:
		return "2fa-enabled"
	default:
		return fmt.Sprintf("flow(%d)", uint8(f))
	}
}

// ParseFlow maps a wire-level flow name back to its Flow value.
func ParseFlow(s string) (Flow, error) {
	switch s {
	case "signup":
		return FlowSignup, nil
	case "reset-password":
		return FlowResetPassword, nil
	case "change-email":
		return FlowChangeEmail, nil
	case "2fa-setup":
		return FlowTwoFactorSetup, nil
	case "2fa-login-challenge":
		return FlowTwoFactorLogin, nil
	case "2fa-enabled":
		return FlowTwoFactorEnabled, nil
	default:
		return 0, fmt.Errorf("%w: unknown flow %q", ErrValidation, s)
	}
}

// Valid reports whether f is one of the declared flows.
func (f Flow) Valid() bool {
	return f >= FlowSignup && f <= FlowTwoFactorEnabled
}

// Submittable reports whether a code may be submitted against this flow
// through the public verification surface. The durable FlowTwoFactorEnabled
// record is only ever read internally by the login gate.
func (f Flow) Submittable() bool {
	switch f {
	case FlowSignup, FlowResetPassword, FlowChangeEmail, FlowTwoFactorSetup, FlowTwoFactorLogin:
		return true
	case FlowTwoFactorEnabled:
		return false
	default:
		return false
	}
}
