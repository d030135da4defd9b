package nightcap

import "errors"

var (
	// ErrValidation reports a malformed input: an empty target, a code of the
	// wrong shape, or an unknown flow name.
	ErrValidation = errors.New("invalid request")
	// ErrInvalidCredentials is returned by the login gate when the identifier
	// or password does not match. It never distinguishes which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCode is returned when a submitted one-time code is wrong or
	// its challenge has expired. The challenge remains open and retryable
	// until the attempt cap destroys it.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrAttemptsExceeded is returned once a challenge has absorbed its
	// maximum number of wrong codes. The challenge record is destroyed.
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")
	// ErrDeviceMismatch is returned when a flow's second step arrives without
	// the handoff state written by its first step. The code must be redeemed
	// on the browser that started the flow.
	ErrDeviceMismatch = errors.New("verification must complete on the originating device")
	// ErrNotFound is returned when no verification challenge exists for the
	// given target and flow.
	ErrNotFound = errors.New("verification challenge not found")
	// ErrSecurityRejected is the generic rejection for CSRF and honeypot
	// failures. It carries no distinguishing detail.
	ErrSecurityRejected = errors.New("request rejected")
	// ErrSessionNotFound is returned when a presented session id does not
	// resolve to a live session row.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTwoFactorRequired signals that the password check passed but the
	// account has two-factor enabled; the session must not be committed to
	// the browser until the second factor is verified.
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrTwoFactorNotEnabled is returned when a two-factor operation targets
	// an account without a durable two-factor secret.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrUserNotFound is an account lookup failure surfaced only to callers
	// already authenticated for the account in question.
	ErrUserNotFound = errors.New("user not found")
	// ErrBackendUnavailable wraps storage failures from the session, ledger,
	// and handoff stores.
	ErrBackendUnavailable = errors.New("verification backend unavailable")
	// ErrEngineNotReady is returned when the engine is used before Build
	// wired its dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
)
