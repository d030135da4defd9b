package nightcap

import (
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := defaultConfig()
	cfg.FlowToken.Secret = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestDefaultConfigValidatesWithSecret(t *testing.T) {
	if err := validateConfig(validTestConfig()); err != nil {
		t.Fatalf("default config with secret should validate: %v", err)
	}
}

func TestValidateConfigRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown algorithm", func(c *Config) { c.OTP.Algorithm = "MD5" }},
		{"too few digits", func(c *Config) { c.OTP.Digits = 3 }},
		{"too many digits", func(c *Config) { c.OTP.Digits = 11 }},
		{"short period", func(c *Config) { c.OTP.Period = 2 }},
		{"oversized period", func(c *Config) { c.OTP.Period = 70000 }},
		{"single-symbol charset", func(c *Config) { c.OTP.CharSet = "0" }},
		{"duplicate charset symbols", func(c *Config) { c.OTP.CharSet = "01234567890" }},
		{"negative skew", func(c *Config) { c.OTP.Skew = -1 }},
		{"excessive skew", func(c *Config) { c.OTP.Skew = 3 }},
		{"zero session lifetime", func(c *Config) { c.Session.Lifetime = 0 }},
		{"zero remember-me lifetime", func(c *Config) { c.Session.RememberMeLifetime = 0 }},
		{"zero challenge TTL", func(c *Config) { c.Verification.ChallengeTTL = 0 }},
		{"too-short challenge TTL", func(c *Config) { c.Verification.ChallengeTTL = time.Second }},
		{"oversized challenge TTL", func(c *Config) { c.Verification.ChallengeTTL = 20 * time.Hour }},
		{"zero setup TTL", func(c *Config) { c.TwoFactor.SetupTTL = 0 }},
		{"zero login challenge TTL", func(c *Config) { c.TwoFactor.LoginChallengeTTL = 0 }},
		{"zero attempt cap", func(c *Config) { c.Verification.MaxAttempts = 0 }},
		{"zero two-factor attempt cap", func(c *Config) { c.TwoFactor.MaxAttempts = 0 }},
		{"zero handoff TTL", func(c *Config) { c.Handoff.TTL = 0 }},
		{"short flow token secret", func(c *Config) { c.FlowToken.Secret = []byte("too-short") }},
	}
	for _, tc := range cases {
		cfg := validTestConfig()
		tc.mutate(&cfg)
		if err := validateConfig(cfg); err == nil {
			t.Errorf("%s: expected validation error, got nil", tc.name)
		}
	}
}

func TestValidateConfigAcceptsVariants(t *testing.T) {
	cfg := validTestConfig()
	cfg.OTP.Algorithm = "sha256"
	cfg.OTP.CharSet = "0123456789abcdefghijklmnopqrstuvwxyz"
	cfg.OTP.Digits = 8
	cfg.OTP.Skew = 0
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("lowercase algorithm and base-36 charset should validate: %v", err)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Session.Lifetime != 12*time.Hour {
		t.Fatalf("session lifetime = %v", cfg.Session.Lifetime)
	}
	if cfg.Session.RememberMeLifetime != 30*24*time.Hour {
		t.Fatalf("remember-me lifetime = %v", cfg.Session.RememberMeLifetime)
	}
	if cfg.OTP.Digits != 6 || cfg.OTP.Period != 30 || cfg.OTP.Skew != 1 {
		t.Fatalf("unexpected OTP defaults: %+v", cfg.OTP)
	}
	if !cfg.Password.UpgradeOnLogin {
		t.Fatal("hash upgrade on login should default on")
	}
	if cfg.Verification.MaxAttempts != 5 || cfg.TwoFactor.MaxAttempts != 5 {
		t.Fatal("attempt caps should default to 5")
	}
}
