package nightcap

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BeginTwoFactorSetup opens an authenticator enrollment for the account. The
// secret lives in an ephemeral setup challenge until a first code confirms
// the authenticator actually holds it; re-invoking replaces any unconfirmed
// challenge with a fresh secret.
func (e *Engine) BeginTwoFactorSetup(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrValidation
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	secret, err := newOTPSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	now := e.clock()
	params := e.config.otpParams()
	record := &verificationRecord{
		Target:    userID,
		Flow:      FlowTwoFactorSetup,
		Secret:    secret,
		Params:    params,
		ExpiresAt: now.Add(e.config.TwoFactor.SetupTTL).Unix(),
	}
	if err := e.ledger.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	encoded := encodeOTPSecret(secret)

	e.metrics.Inc(MetricChallengeIssued)
	e.emitAudit(ctx, auditEventChallengeIssued, true, userID, user.Email, FlowTwoFactorSetup, "", nil, nil)

	return &TwoFactorSetup{
		SecretBase32: encoded,
		URI:          provisioningURI(e.config.TwoFactor.Issuer, user.Email, encoded, params),
		ExpiresAt:    now.Add(e.config.TwoFactor.SetupTTL),
	}, nil
}

// ConfirmTwoFactorSetup verifies a first authenticator code and promotes the
// setup challenge into the durable enabled record: same secret, no expiry.
// Wrong codes count against the setup attempt cap.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" || code == "" {
		return ErrValidation
	}

	now := e.clock()
	record, err := e.ledger.Find(ctx, userID, FlowTwoFactorSetup)
	if err != nil {
		if errors.Is(err, errLedgerNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if ok, _ := otpVerify(record.Secret, code, record.Params, e.config.OTP.Skew, now); !ok {
		// Route the miss through Consume so the attempt counter and
		// destroy-at-cap behavior stay in one place.
		return e.consumeSetupFailure(ctx, userID, code, now)
	}

	if _, err := e.ledger.Promote(ctx, userID, FlowTwoFactorSetup, FlowTwoFactorEnabled, 0); err != nil {
		if errors.Is(err, errLedgerNotFound) {
			// Lost a concurrent confirmation race; the winner already promoted.
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metrics.Inc(MetricChallengeCompleted)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", FlowTwoFactorSetup, "", nil, nil)
	return nil
}

func (e *Engine) consumeSetupFailure(ctx context.Context, userID, code string, now time.Time) error {
	_, err := e.ledger.Consume(ctx, userID, FlowTwoFactorSetup, code, e.config.OTP.Skew, e.config.TwoFactor.MaxAttempts, now)
	switch {
	case errors.Is(err, errLedgerCodeInvalid):
		e.metrics.Inc(MetricChallengeFailed)
		e.emitAudit(ctx, auditEventChallengeFailed, false, userID, "", FlowTwoFactorSetup, "", ErrInvalidCode, nil)
		return ErrInvalidCode
	case errors.Is(err, errLedgerAttempts):
		e.metrics.Inc(MetricChallengeAttemptsExceeded)
		e.emitAudit(ctx, auditEventChallengeFailed, false, userID, "", FlowTwoFactorSetup, "", ErrAttemptsExceeded, nil)
		return ErrAttemptsExceeded
	case errors.Is(err, errLedgerNotFound):
		return ErrNotFound
	case err == nil:
		// The code became valid between the check and the consume (time step
		// boundary). The record is gone; treat it as a plain miss so the user
		// restarts enrollment rather than half-enabling.
		e.emitAudit(ctx, auditEventChallengeFailed, false, userID, "", FlowTwoFactorSetup, "", ErrInvalidCode, nil)
		return ErrInvalidCode
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

// CancelTwoFactorSetup abandons an unconfirmed enrollment, destroying the
// challenge row so its secret can never be replayed.
func (e *Engine) CancelTwoFactorSetup(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" {
		return ErrValidation
	}

	deleted, err := e.ledger.Delete(ctx, userID, FlowTwoFactorSetup)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !deleted {
		return ErrNotFound
	}

	e.emitAudit(ctx, auditEventChallengeCancelled, true, userID, "", FlowTwoFactorSetup, "", nil, nil)
	return nil
}

// TwoFactorEnabled reports whether the account holds a durable enabled
// record.
func (e *Engine) TwoFactorEnabled(ctx context.Context, userID string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	_, err := e.ledger.Find(ctx, userID, FlowTwoFactorEnabled)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errLedgerNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// DisableTwoFactor deletes the durable secret and any pending login
// challenge. When RequireCodeToDisable is set, a currently valid
// authenticator code must accompany the request.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" {
		return ErrValidation
	}

	record, err := e.ledger.Find(ctx, userID, FlowTwoFactorEnabled)
	if err != nil {
		if errors.Is(err, errLedgerNotFound) {
			return ErrTwoFactorNotEnabled
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if e.config.TwoFactor.RequireCodeToDisable {
		if ok, _ := otpVerify(record.Secret, code, record.Params, e.config.OTP.Skew, e.clock()); !ok {
			e.metrics.Inc(MetricChallengeFailed)
			e.emitAudit(ctx, auditEventChallengeFailed, false, userID, "", FlowTwoFactorEnabled, "", ErrInvalidCode, nil)
			return ErrInvalidCode
		}
	}

	if _, err := e.ledger.Delete(ctx, userID, FlowTwoFactorEnabled); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	// A parked login challenge must not survive the secret it was copied
	// from.
	if _, err := e.ledger.Delete(ctx, userID, FlowTwoFactorLogin); err != nil {
		e.logger.Warn("stale login challenge cleanup failed", "user_id", userID, "error", err)
	}

	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, userID, "", FlowTwoFactorEnabled, "", nil, nil)
	return nil
}

// ConfirmTwoFactorLogin redeems the per-login challenge and releases the
// parked session for cookie commit. A wrong code leaves both the challenge
// and the handoff open for retry; exhausting the attempt cap destroys the
// challenge, the handoff, and the pending session row.
func (e *Engine) ConfirmTwoFactorLogin(ctx context.Context, handoffID, code string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrValidation
	}

	state, err := e.peekHandoff(ctx, handoffID, FlowTwoFactorLogin)
	if err != nil {
		e.metrics.Inc(MetricDeviceMismatch)
		return nil, err
	}
	userID := state.Values[handoffKeyUserID]
	pendingID := state.Values[handoffKeyPendingSessionID]
	rememberMe := state.Values[handoffKeyRememberMe] == "1"

	now := e.clock()
	_, err = e.ledger.Consume(ctx, userID, FlowTwoFactorLogin, code, e.config.OTP.Skew, e.config.TwoFactor.MaxAttempts, now)
	if err != nil {
		switch {
		case errors.Is(err, errLedgerCodeInvalid):
			e.metrics.Inc(MetricTwoFactorFailure)
			e.emitAudit(ctx, auditEventChallengeFailed, false, userID, "", FlowTwoFactorLogin, "", ErrInvalidCode, nil)
			return nil, ErrInvalidCode
		case errors.Is(err, errLedgerAttempts):
			e.abortPendingLogin(ctx, userID, pendingID, handoffID)
			e.metrics.Inc(MetricTwoFactorFailure)
			e.emitAudit(ctx, auditEventChallengeFailed, false, userID, "", FlowTwoFactorLogin, "", ErrAttemptsExceeded, nil)
			return nil, ErrAttemptsExceeded
		case errors.Is(err, errLedgerNotFound):
			e.metrics.Inc(MetricTwoFactorFailure)
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	if _, err := e.handoff.Take(ctx, handoffID); err != nil && !errors.Is(err, errHandoffNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sess, err := e.sessions.Get(ctx, pendingID)
	if err != nil {
		// The parked row expired while the challenge was open.
		return nil, ErrSessionNotFound
	}

	e.metrics.Inc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorConfirmed, true, userID, "", FlowTwoFactorLogin, sess.ID, nil, nil)

	return &LoginResult{
		UserID:     userID,
		SessionID:  sess.ID,
		RememberMe: rememberMe,
		ExpiresAt:  time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// abortPendingLogin tears the whole parked login down after the attempt cap
// fires: session row, handoff state, and the already-destroyed challenge.
func (e *Engine) abortPendingLogin(ctx context.Context, userID, pendingID, handoffID string) {
	if pendingID != "" {
		if _, err := e.sessions.Delete(ctx, userID, pendingID); err != nil {
			e.logger.Warn("pending session teardown failed", "user_id", userID, "error", err)
		} else {
			e.metrics.Inc(MetricSessionInvalidated)
		}
	}
	if err := e.handoff.Delete(ctx, handoffID); err != nil {
		e.logger.Warn("pending handoff teardown failed", "user_id", userID, "error", err)
	}
}
