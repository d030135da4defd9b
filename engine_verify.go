package nightcap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nightcap-social/nightcap/internal"
	"github.com/nightcap-social/nightcap/notify"
)

// BeginSignupVerification opens a signup challenge for an email address and
// queues the code for delivery. Reissuing for the same address replaces the
// previous challenge; the earlier code becomes permanently unverifiable.
func (e *Engine) BeginSignupVerification(ctx context.Context, email, redirectTo string) (*Challenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrValidation
	}

	return e.issueChallenge(ctx, FlowSignup, email, redirectTo, e.config.Verification.ChallengeTTL)
}

// BeginPasswordReset opens a reset-password challenge for the account that
// owns the address. Unknown addresses receive the same response shape with
// no record written and no delivery, so the endpoint does not confirm
// whether an account exists.
func (e *Engine) BeginPasswordReset(ctx context.Context, email, redirectTo string) (*Challenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrValidation
	}

	if _, err := e.directory.GetUserByEmail(ctx, email); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return e.decoyChallenge(FlowResetPassword, email, redirectTo)
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return e.issueChallenge(ctx, FlowResetPassword, email, redirectTo, e.config.Verification.ChallengeTTL)
}

// BeginEmailChange opens a change-email challenge for an authenticated
// account. The code is delivered to the new address; the returned handoff id
// must be set as a browser cookie, because the code is only redeemable on
// the browser that started the change.
func (e *Engine) BeginEmailChange(ctx context.Context, userID, newEmail, redirectTo string) (*Challenge, string, error) {
	if err := e.ready(); err != nil {
		return nil, "", err
	}

	newEmail = normalizeEmail(newEmail)
	if userID == "" || newEmail == "" {
		return nil, "", ErrValidation
	}

	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrUserNotFound
		}
		return nil, "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if normalizeEmail(user.Email) == newEmail {
		return nil, "", ErrValidation
	}

	challenge, err := e.issueChallenge(ctx, FlowChangeEmail, newEmail, redirectTo, e.config.Verification.ChallengeTTL)
	if err != nil {
		return nil, "", err
	}

	handoffID, err := internal.NewHandoffID()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	state := &handoffState{
		Flow: FlowChangeEmail,
		Values: map[string]string{
			handoffKeyUserID:   user.UserID,
			handoffKeyNewEmail: newEmail,
		},
		ExpiresAt: e.clock().Add(e.config.Handoff.TTL).Unix(),
	}
	if err := e.handoff.Put(ctx, handoffID, state, e.config.Handoff.TTL); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return challenge, handoffID, nil
}

// issueChallenge generates a fresh secret, upserts the ledger record, and
// only then queues delivery. The notification never precedes the state it
// reports on.
func (e *Engine) issueChallenge(ctx context.Context, flow Flow, target, redirectTo string, ttl time.Duration) (*Challenge, error) {
	secret, err := newOTPSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	now := e.clock()
	params := e.config.emailOTPParams()
	record := &verificationRecord{
		Target:    target,
		Flow:      flow,
		Secret:    secret,
		Params:    params,
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := e.ledger.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	code, err := otpCodeAt(secret, now.Unix()/int64(params.Period), params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	embedded := ""
	if e.config.FlowToken.EmbedCode {
		embedded = code
	}
	token, err := e.tokens.Sign(flow, target, redirectTo, embedded, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.notifyq.Enqueue(notify.Message{
		Target:     target,
		Code:       code,
		VerifyLink: verifyLink(e.config.FlowToken.BaseURL, token),
		Purpose:    flow.String(),
	})

	e.metrics.Inc(MetricChallengeIssued)
	e.emitAudit(ctx, auditEventChallengeIssued, true, "", target, flow, "", nil, nil)

	return &Challenge{
		Flow:      flow,
		Target:    target,
		Token:     token,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// decoyChallenge mirrors the shape of a real challenge without touching the
// ledger or the notifier. The signed token carries no code, so the decoy can
// never be redeemed.
func (e *Engine) decoyChallenge(flow Flow, target, redirectTo string) (*Challenge, error) {
	now := e.clock()
	token, err := e.tokens.Sign(flow, target, redirectTo, "", now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return &Challenge{
		Flow:      flow,
		Target:    target,
		Token:     token,
		ExpiresAt: now.Add(e.config.Verification.ChallengeTTL),
	}, nil
}

// SubmitVerification redeems a code for one of the email-bound flows. A
// wrong code leaves the challenge open and retryable until the attempt cap
// destroys it; a correct code consumes the record exactly once and runs the
// flow's completion handler. Two-factor codes go through
// [Engine.ConfirmTwoFactorSetup] and [Engine.ConfirmTwoFactorLogin] instead.
func (e *Engine) SubmitVerification(
	ctx context.Context,
	flow Flow,
	target, code, handoffID, redirectTo string,
) (*Completion, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	target = normalizeEmail(target)
	code = strings.TrimSpace(code)
	if target == "" || code == "" {
		return nil, ErrValidation
	}

	switch flow {
	case FlowSignup:
		return e.completeSignup(ctx, target, code, redirectTo)
	case FlowResetPassword:
		return e.completePasswordResetChallenge(ctx, target, code, redirectTo)
	case FlowChangeEmail:
		return e.completeEmailChange(ctx, target, code, handoffID, redirectTo)
	default:
		return nil, ErrValidation
	}
}

// RedeemFlowToken completes a flow from a signed magic link. The token must
// carry an embedded code; tokens minted without one only identify the flow
// and cannot complete it.
func (e *Engine) RedeemFlowToken(ctx context.Context, token, handoffID string) (*Completion, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	flow, err := ParseFlow(claims.Flow)
	if err != nil {
		return nil, ErrValidation
	}
	if claims.Code == "" {
		return nil, ErrValidation
	}

	return e.SubmitVerification(ctx, flow, claims.Target, claims.Code, handoffID, claims.RedirectTo)
}

func (e *Engine) completeSignup(ctx context.Context, email, code, redirectTo string) (*Completion, error) {
	if err := e.consumeChallenge(ctx, email, FlowSignup, code); err != nil {
		return nil, err
	}

	handoffID, err := internal.NewHandoffID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	state := &handoffState{
		Flow:      FlowSignup,
		Values:    map[string]string{handoffKeyEmail: email},
		ExpiresAt: e.clock().Add(e.config.Handoff.TTL).Unix(),
	}
	if err := e.handoff.Put(ctx, handoffID, state, e.config.Handoff.TTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metrics.Inc(MetricChallengeCompleted)
	e.emitAudit(ctx, auditEventChallengeCompleted, true, "", email, FlowSignup, "", nil, nil)

	return &Completion{
		Flow:       FlowSignup,
		Target:     email,
		HandoffID:  handoffID,
		RedirectTo: redirectTo,
	}, nil
}

func (e *Engine) completePasswordResetChallenge(ctx context.Context, email, code, redirectTo string) (*Completion, error) {
	if err := e.consumeChallenge(ctx, email, FlowResetPassword, code); err != nil {
		return nil, err
	}

	user, err := e.directory.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Account removed between request and redeem.
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	handoffID, err := internal.NewHandoffID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	state := &handoffState{
		Flow: FlowResetPassword,
		Values: map[string]string{
			handoffKeyUserID: user.UserID,
			handoffKeyEmail:  email,
		},
		ExpiresAt: e.clock().Add(e.config.Handoff.TTL).Unix(),
	}
	if err := e.handoff.Put(ctx, handoffID, state, e.config.Handoff.TTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metrics.Inc(MetricChallengeCompleted)
	e.emitAudit(ctx, auditEventChallengeCompleted, true, user.UserID, email, FlowResetPassword, "", nil, nil)

	return &Completion{
		Flow:       FlowResetPassword,
		Target:     email,
		HandoffID:  handoffID,
		RedirectTo: redirectTo,
	}, nil
}

// completeEmailChange requires the handoff written when the change began: a
// missing or mismatched handoff fails closed before the code is consumed, so
// a code pasted into a different browser burns nothing.
func (e *Engine) completeEmailChange(ctx context.Context, newEmail, code, handoffID, redirectTo string) (*Completion, error) {
	state, err := e.peekHandoff(ctx, handoffID, FlowChangeEmail)
	if err != nil {
		e.metrics.Inc(MetricDeviceMismatch)
		e.emitAudit(ctx, auditEventDeviceMismatch, false, "", newEmail, FlowChangeEmail, "", err, nil)
		return nil, err
	}
	if state.Values[handoffKeyNewEmail] != newEmail {
		e.metrics.Inc(MetricDeviceMismatch)
		e.emitAudit(ctx, auditEventDeviceMismatch, false, "", newEmail, FlowChangeEmail, "", ErrDeviceMismatch, nil)
		return nil, ErrDeviceMismatch
	}

	if err := e.consumeChallenge(ctx, newEmail, FlowChangeEmail, code); err != nil {
		return nil, err
	}

	userID := state.Values[handoffKeyUserID]
	user, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	oldEmail := user.Email

	if err := e.directory.UpdateEmail(ctx, userID, newEmail); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Take rather than Delete: concurrent redeems race on the ledger consume,
	// but the handoff consume guarantees the old-address notice fires once.
	if _, err := e.handoff.Take(ctx, handoffID); err != nil && !errors.Is(err, errHandoffNotFound) {
		e.logger.Warn("email change handoff cleanup failed", "error", err)
	}

	e.notifyq.Enqueue(notify.Message{
		Target:  oldEmail,
		Purpose: "email-changed",
	})

	e.metrics.Inc(MetricChallengeCompleted)
	e.emitAudit(ctx, auditEventEmailChanged, true, userID, newEmail, FlowChangeEmail, "", nil, func() map[string]string {
		return map[string]string{"old_email": oldEmail}
	})

	return &Completion{
		Flow:       FlowChangeEmail,
		Target:     newEmail,
		RedirectTo: redirectTo,
	}, nil
}

// CompletePasswordReset applies the new credential for a handoff produced by
// a redeemed reset-password code. It consumes the handoff, rewrites the
// hash, and revokes every live session for the account.
func (e *Engine) CompletePasswordReset(ctx context.Context, handoffID, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	// Hash before consuming: a rejected password must leave the one-shot
	// handoff intact so the user can retry without restarting the email flow.
	state, err := e.peekHandoff(ctx, handoffID, FlowResetPassword)
	if err != nil {
		return err
	}
	userID := state.Values[handoffKeyUserID]
	email := state.Values[handoffKeyEmail]

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if _, err := e.takeHandoff(ctx, handoffID, FlowResetPassword); err != nil {
		// Lost a concurrent redemption race after the peek.
		return err
	}
	if err := e.directory.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		e.logger.Warn("session revocation after password reset failed",
			"user_id", userID,
			"error", err,
		)
	} else {
		e.metrics.Inc(MetricSessionInvalidated)
	}

	e.notifyq.Enqueue(notify.Message{
		Target:  email,
		Purpose: "password-changed",
	})

	e.emitAudit(ctx, auditEventPasswordResetApply, true, userID, email, FlowResetPassword, "", nil, nil)
	return nil
}

// CancelVerification abandons an open challenge, deleting its ledger row so
// the delivered code can never be replayed.
func (e *Engine) CancelVerification(ctx context.Context, flow Flow, target string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !flow.Submittable() {
		return ErrValidation
	}

	deleted, err := e.ledger.Delete(ctx, normalizeEmail(target), flow)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !deleted {
		return ErrNotFound
	}

	e.emitAudit(ctx, auditEventChallengeCancelled, true, "", target, flow, "", nil, nil)
	return nil
}

// consumeChallenge maps the ledger's internal errors onto the engine's
// sentinels and keeps the failure metrics in one place.
func (e *Engine) consumeChallenge(ctx context.Context, target string, flow Flow, code string) error {
	_, err := e.ledger.Consume(ctx, target, flow, code, e.config.OTP.Skew, e.config.Verification.MaxAttempts, e.clock())
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, errLedgerNotFound):
		e.metrics.Inc(MetricChallengeFailed)
		e.emitAudit(ctx, auditEventChallengeFailed, false, "", target, flow, "", ErrNotFound, nil)
		return ErrNotFound
	case errors.Is(err, errLedgerCodeInvalid):
		e.metrics.Inc(MetricChallengeFailed)
		e.emitAudit(ctx, auditEventChallengeFailed, false, "", target, flow, "", ErrInvalidCode, nil)
		return ErrInvalidCode
	case errors.Is(err, errLedgerAttempts):
		e.metrics.Inc(MetricChallengeAttemptsExceeded)
		e.emitAudit(ctx, auditEventChallengeFailed, false, "", target, flow, "", ErrAttemptsExceeded, nil)
		return ErrAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

func (e *Engine) peekHandoff(ctx context.Context, handoffID string, want Flow) (*handoffState, error) {
	if handoffID == "" {
		return nil, ErrDeviceMismatch
	}
	state, err := e.handoff.Peek(ctx, handoffID)
	if err != nil {
		if errors.Is(err, errHandoffNotFound) {
			return nil, ErrDeviceMismatch
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if state.Flow != want {
		return nil, ErrDeviceMismatch
	}
	return state, nil
}

func (e *Engine) takeHandoff(ctx context.Context, handoffID string, want Flow) (*handoffState, error) {
	if handoffID == "" {
		return nil, ErrDeviceMismatch
	}
	state, err := e.handoff.Take(ctx, handoffID)
	if err != nil {
		if errors.Is(err, errHandoffNotFound) {
			return nil, ErrDeviceMismatch
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if state.Flow != want {
		return nil, ErrDeviceMismatch
	}
	return state, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
