package nightcap

import (
	"context"
	"time"
)

// UserRecord is the minimal account shape the engine needs from the platform
// user database: identity, login address, and the stored credential hash.
// Profile data, reviews, and everything else stay on the platform side.
type UserRecord struct {
	UserID       string
	Email        string
	PasswordHash string
}

// Directory is the platform-side user database. The engine only reads
// accounts and writes the two fields it owns during its flows: the password
// hash (reset) and the login address (email change).
type Directory interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	UpdateEmail(ctx context.Context, userID, newEmail string) error
}

// LoginResult is returned by [Engine.Login].
//
// When TwoFactorRequired is false, SessionID is ready to be committed to the
// browser session cookie. When it is true the session row already exists but
// SessionID is withheld; HandoffID references the pending-session handoff
// state and the caller must route the browser into the 2fa-login-challenge
// flow before any cookie is issued.
type LoginResult struct {
	UserID            string
	SessionID         string
	RememberMe        bool
	ExpiresAt         time.Time
	TwoFactorRequired bool
	HandoffID         string
}

// Challenge describes an issued verification challenge: which flow it
// belongs to, where the code was sent, and the signed token that can be
// embedded in a magic link.
type Challenge struct {
	Flow      Flow
	Target    string
	Token     string
	ExpiresAt time.Time
}

// Completion is the result of successfully redeeming a code. HandoffID is
// set for flows that carry state into a follow-up step (signup, password
// reset); RedirectTo echoes the redirect captured when the flow began.
type Completion struct {
	Flow       Flow
	Target     string
	HandoffID  string
	RedirectTo string
}

// TwoFactorSetup is returned by [Engine.BeginTwoFactorSetup] and carries
// what an enrolling client needs to show: the base32 secret, the otpauth
// provisioning URI, and the setup challenge deadline.
type TwoFactorSetup struct {
	SecretBase32 string
	URI          string
	ExpiresAt    time.Time
}
