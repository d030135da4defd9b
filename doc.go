// Package nightcap is the identity-verification and session-authentication
// core of the Nightcap platform: one TOTP codec reused across signup,
// password-reset, email-change, and two-factor flows, a Redis-backed
// verification ledger and session store, and cookie-bound handoff state for
// multi-step flows.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Deferred session commit
//
// Login creates the session row unconditionally, but for two-factor
// accounts the session id is withheld from the result until
// [Engine.ConfirmTwoFactorLogin] verifies a code. No browser ever holds a
// valid session cookie for a two-factor account before the second factor
// passes, even though the row exists from the moment the password check
// does.
//
// # Architecture boundaries
//
// nightcap is the public surface: [Engine], [Builder], [Config], and value
// types. Session encoding and opaque identifiers live under session/ and
// internal/; HTTP concerns (cookies, CSRF, honeypot) live in web/ and never
// leak into Engine signatures beyond context.Context.
package nightcap
