package nightcap

import (
	"errors"
	"strings"
	"time"
)

// Config carries every tunable of the verification core. Instances are
// configured once, validated by [Builder.Build], and treated as immutable
// afterwards.
type Config struct {
	Session      SessionConfig
	Password     PasswordConfig
	OTP          OTPConfig
	Verification VerificationConfig
	TwoFactor    TwoFactorConfig
	Handoff      HandoffConfig
	FlowToken    FlowTokenConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session row lifetimes and key layout.
type SessionConfig struct {
	RedisPrefix string
	// Lifetime bounds a session created without remember-me.
	Lifetime time.Duration
	// RememberMeLifetime bounds a session created with remember-me. It also
	// drives the Max-Age of the committed cookie.
	RememberMeLifetime time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries the argon2id parameters, in KB for Memory.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin rehashes a stored credential when its parameters lag
	// the configured ones. Best effort; never blocks a successful login.
	UpgradeOnLogin bool
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig shapes the generated one-time codes. CharSet may be any
// alphabet; codes are HMAC output mapped onto it, so "0123456789" yields
// RFC-compatible decimal codes while a base-36 set yields short
// letter-and-digit codes for email delivery.
type OTPConfig struct {
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
	Digits    int
	Period    int // seconds per time step
	CharSet   string
	// Skew is the number of adjacent time steps accepted on either side of
	// the current one. The default of 1 tolerates one step of clock drift.
	Skew int
}

/*
====================================
VERIFICATION CONFIG
====================================
*/

// VerificationConfig bounds the ephemeral email-bound challenges
// (signup, reset-password, change-email).
type VerificationConfig struct {
	RedisPrefix  string
	ChallengeTTL time.Duration
	MaxAttempts  int
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig bounds authenticator enrollment and the per-login
// challenge window.
type TwoFactorConfig struct {
	Issuer string
	// SetupTTL bounds how long an unconfirmed enrollment challenge lives.
	SetupTTL time.Duration
	// LoginChallengeTTL bounds the window between a successful password
	// check and the second-factor confirmation.
	LoginChallengeTTL time.Duration
	MaxAttempts       int
	// RequireCodeToDisable demands a currently valid code before the durable
	// secret is deleted. Off by default; see DESIGN.md for the tradeoff.
	RequireCodeToDisable bool
}

/*
====================================
HANDOFF CONFIG
====================================
*/

// HandoffConfig bounds the cookie-bound cross-request state.
type HandoffConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

/*
====================================
FLOW TOKEN CONFIG
====================================
*/

// FlowTokenConfig configures the signed token embedded in verify links.
type FlowTokenConfig struct {
	Secret []byte
	TTL    time.Duration
	// EmbedCode places the one-time code inside the signed token, turning
	// the verify link into a magic link that completes without typing.
	EmbedCode bool
	// BaseURL prefixes generated verify links, e.g. "https://nightcap.social".
	BaseURL string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of applying backpressure to the
	// request path. Dropped counts are observable via Engine.AuditDropped.
	DropIfFull bool
}

// MetricsConfig toggles the engine-owned counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the configuration [New] starts from. Callers who
// need to adjust a few fields before [Builder.WithConfig] start here.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:        "ncs",
			Lifetime:           12 * time.Hour,
			RememberMeLifetime: 30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		OTP: OTPConfig{
			Algorithm: "SHA1",
			Digits:    6,
			Period:    30,
			CharSet:   "0123456789",
			Skew:      1,
		},
		Verification: VerificationConfig{
			RedisPrefix:  "ncv",
			ChallengeTTL: 15 * time.Minute,
			MaxAttempts:  5,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:            "Nightcap",
			SetupTTL:          10 * time.Minute,
			LoginChallengeTTL: 10 * time.Minute,
			MaxAttempts:       5,
		},
		Handoff: HandoffConfig{
			RedisPrefix: "nch",
			TTL:         15 * time.Minute,
		},
		FlowToken: FlowTokenConfig{
			TTL: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func validateConfig(cfg Config) error {
	switch strings.ToUpper(cfg.OTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("config: unsupported OTP algorithm")
	}
	if cfg.OTP.Digits < 4 || cfg.OTP.Digits > 10 {
		return errors.New("config: OTP digits must be between 4 and 10")
	}
	if cfg.OTP.Period < 5 {
		return errors.New("config: OTP period must be at least 5 seconds")
	}
	// Periods ride the wire as uint16 seconds, and the email-flow period is
	// derived from the challenge TTL.
	if cfg.OTP.Period > 65535 {
		return errors.New("config: OTP period must fit in 16 bits of seconds")
	}
	if cfg.Verification.ChallengeTTL < 5*time.Second || cfg.Verification.ChallengeTTL > 65535*time.Second {
		return errors.New("config: challenge TTL must be between 5 and 65535 seconds")
	}
	if len(cfg.OTP.CharSet) < 2 {
		return errors.New("config: OTP charset needs at least two symbols")
	}
	if hasDuplicateSymbols(cfg.OTP.CharSet) {
		return errors.New("config: OTP charset contains duplicate symbols")
	}
	if cfg.OTP.Skew < 0 || cfg.OTP.Skew > 2 {
		return errors.New("config: OTP skew must be between 0 and 2 steps")
	}
	if cfg.Session.Lifetime <= 0 || cfg.Session.RememberMeLifetime <= 0 {
		return errors.New("config: session lifetimes must be positive")
	}
	if cfg.Verification.ChallengeTTL <= 0 || cfg.TwoFactor.SetupTTL <= 0 || cfg.TwoFactor.LoginChallengeTTL <= 0 {
		return errors.New("config: challenge TTLs must be positive")
	}
	if cfg.Verification.MaxAttempts < 1 || cfg.TwoFactor.MaxAttempts < 1 {
		return errors.New("config: attempt caps must be at least 1")
	}
	if cfg.Handoff.TTL <= 0 {
		return errors.New("config: handoff TTL must be positive")
	}
	if len(cfg.FlowToken.Secret) < 32 {
		return errors.New("config: flow token secret must be at least 32 bytes")
	}
	return nil
}

func hasDuplicateSymbols(charSet string) bool {
	seen := map[rune]bool{}
	for _, r := range charSet {
		if seen[r] {
			return true
		}
		seen[r] = true
	}
	return false
}
