package nightcap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nightcap-social/nightcap/internal"
	"github.com/nightcap-social/nightcap/notify"
	"github.com/nightcap-social/nightcap/password"
	"github.com/nightcap-social/nightcap/session"
)

// dummyPasswordHash absorbs an argon2 verification when the login identifier
// resolves to no account, so lookup misses and password mismatches cost the
// same wall time.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func clockNow() time.Time { return time.Now() }

// Engine is the verification and session-authentication core. Build one with
// [New]; an Engine is safe for concurrent use.
type Engine struct {
	config    Config
	sessions  *session.Store
	ledger    *verificationLedger
	handoff   *handoffStore
	hasher    *password.Hasher
	directory Directory
	notifyq   *notify.Queue
	tokens    *flowTokenSigner
	audit     *auditDispatcher
	metrics   *Metrics
	logger    *slog.Logger
	clock     func() time.Time
}

func (e *Engine) ready() error {
	if e == nil || e.sessions == nil || e.ledger == nil || e.handoff == nil || e.directory == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Login checks the credential and unconditionally creates a session row.
//
// For accounts without two-factor the returned SessionID is ready to commit
// to the browser cookie. For two-factor accounts the result instead carries
// TwoFactorRequired and a HandoffID: the session row exists but its id is
// withheld, a per-login challenge is placed in the ledger, and the caller
// must route the browser through [Engine.ConfirmTwoFactorLogin] before any
// cookie is issued.
func (e *Engine) Login(ctx context.Context, email, passphrase string, rememberMe bool) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passphrase == "" {
		return nil, ErrValidation
	}

	user, err := e.directory.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = e.hasher.Verify(passphrase, dummyPasswordHash)
			e.metrics.Inc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", email, 0, "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	match, err := e.hasher.Verify(passphrase, user.PasswordHash)
	if err != nil || !match {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, email, 0, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	e.maybeUpgradeHash(ctx, user, passphrase)

	now := e.clock()
	lifetime := e.config.Session.Lifetime
	if rememberMe {
		lifetime = e.config.Session.RememberMeLifetime
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sess := &session.Session{
		ID:         sid.String(),
		UserID:     user.UserID,
		RememberMe: rememberMe,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(lifetime).Unix(),
	}
	if err := e.sessions.Save(ctx, sess, lifetime); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metrics.Inc(MetricSessionCreated)

	enabled, err := e.ledger.Find(ctx, user.UserID, FlowTwoFactorEnabled)
	switch {
	case err == nil:
		return e.holdForTwoFactor(ctx, user, sess, enabled, rememberMe, now)
	case errors.Is(err, errLedgerNotFound):
		// No second factor; commit immediately.
	default:
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, email, 0, sess.ID, nil, nil)

	return &LoginResult{
		UserID:     user.UserID,
		SessionID:  sess.ID,
		RememberMe: rememberMe,
		ExpiresAt:  time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// holdForTwoFactor parks a freshly created session behind a login challenge.
// The durable secret is copied into an ephemeral 2fa-login-challenge record
// so the authenticator code verifies against the enrolled secret while the
// consume path stays one-shot.
func (e *Engine) holdForTwoFactor(
	ctx context.Context,
	user UserRecord,
	sess *session.Session,
	enabled *verificationRecord,
	rememberMe bool,
	now time.Time,
) (*LoginResult, error) {
	ttl := e.config.TwoFactor.LoginChallengeTTL

	challenge := &verificationRecord{
		Target:    user.UserID,
		Flow:      FlowTwoFactorLogin,
		Secret:    enabled.Secret,
		Params:    enabled.Params,
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := e.ledger.Upsert(ctx, challenge); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	handoffID, err := internal.NewHandoffID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	remember := "0"
	if rememberMe {
		remember = "1"
	}
	state := &handoffState{
		Flow: FlowTwoFactorLogin,
		Values: map[string]string{
			handoffKeyUserID:           user.UserID,
			handoffKeyPendingSessionID: sess.ID,
			handoffKeyRememberMe:       remember,
		},
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := e.handoff.Put(ctx, handoffID, state, ttl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metrics.Inc(MetricLoginTwoFactorHold)
	e.emitAudit(ctx, auditEventLoginTwoFactorHold, true, user.UserID, user.Email, FlowTwoFactorLogin, "", nil, nil)

	return &LoginResult{
		UserID:            user.UserID,
		RememberMe:        rememberMe,
		ExpiresAt:         time.Unix(sess.ExpiresAt, 0),
		TwoFactorRequired: true,
		HandoffID:         handoffID,
	}, nil
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, user UserRecord, passphrase string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	upgrade, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !upgrade {
		return
	}
	newHash, err := e.hasher.Hash(passphrase)
	if err != nil {
		return
	}
	if err := e.directory.UpdatePasswordHash(ctx, user.UserID, newHash); err != nil {
		e.logger.Warn("password hash upgrade failed",
			"user_id", user.UserID,
			"error", err,
		)
	}
}

// Authenticate resolves a presented session id to its live session row.
func (e *Engine) Authenticate(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return nil, ErrSessionNotFound
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if e.clock().Unix() >= sess.ExpiresAt {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Logout destroys a single session. Missing sessions report
// [ErrSessionNotFound]; callers clearing a cookie may ignore it.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	sess, err := e.Authenticate(ctx, sessionID)
	if err != nil {
		return err
	}

	deleted, err := e.sessions.Delete(ctx, sess.UserID, sess.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !deleted {
		return ErrSessionNotFound
	}

	e.metrics.Inc(MetricLogout)
	e.metrics.Inc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventLogout, true, sess.UserID, "", 0, sess.ID, nil, nil)
	return nil
}

// LogoutAll destroys every session belonging to the user. Used for
// sign-out-everywhere and invoked internally after a password reset.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if userID == "" {
		return ErrValidation
	}

	if err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", 0, "", nil, nil)
	return nil
}

// ActiveSessionCount reports how many live sessions the user holds.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	n, err := e.sessions.ActiveSessionCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

// Close drains the audit dispatcher and the notification queue. Call it on
// shutdown; the Engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.notifyq != nil {
		e.notifyq.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotifyDropped reports deliveries shed by the full post-commit queue.
func (e *Engine) NotifyDropped() uint64 {
	if e == nil || e.notifyq == nil {
		return 0
	}
	return e.notifyq.Dropped()
}

// LoginChallengeTTL reports how long a parked two-factor login stays
// redeemable. The HTTP layer uses it to bound the handoff cookie.
func (e *Engine) LoginChallengeTTL() time.Duration {
	return e.config.TwoFactor.LoginChallengeTTL
}

// HandoffTTL reports the lifetime of cross-request flow state.
func (e *Engine) HandoffTTL() time.Duration {
	return e.config.Handoff.TTL
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}
