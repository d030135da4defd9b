package nightcap

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is one security-relevant transition: a login, a code issued or
// redeemed, a session destroyed. Codes and secrets never appear in events.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Target    string            `json:"target,omitempty"`
	Flow      string            `json:"flow,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the async dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink buffers events on a channel for consumption by a caller-owned
// pipeline.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON event per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginTwoFactorHold  = "login_two_factor_hold"
	auditEventLogout              = "logout"
	auditEventLogoutAll           = "logout_all"
	auditEventChallengeIssued     = "challenge_issued"
	auditEventChallengeCompleted  = "challenge_completed"
	auditEventChallengeFailed     = "challenge_failed"
	auditEventChallengeCancelled  = "challenge_cancelled"
	auditEventTwoFactorEnabled    = "two_factor_enabled"
	auditEventTwoFactorDisabled   = "two_factor_disabled"
	auditEventTwoFactorConfirmed  = "two_factor_confirmed"
	auditEventPasswordResetApply  = "password_reset_applied"
	auditEventEmailChanged        = "email_changed"
	auditEventDeviceMismatch      = "device_mismatch"
)
