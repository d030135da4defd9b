package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nightcap-social/nightcap"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type loginRequest struct {
	Email      string `json:"email" form:"email"`
	Password   string `json:"password" form:"password"`
	RememberMe bool   `json:"remember_me" form:"remember_me"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, nightcap.ErrValidation)
		return
	}

	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())
	result, err := s.engine.Login(ctx, req.Email, req.Password, req.RememberMe)
	if err != nil {
		writeError(c, err)
		return
	}

	if result.TwoFactorRequired {
		// Session row exists but the cookie is withheld until the second
		// factor passes.
		s.setHandoffCookie(c, result.HandoffID, s.engine.LoginChallengeTTL())
		c.JSON(http.StatusOK, gin.H{
			"two_factor_required": true,
		})
		return
	}

	s.setSessionCookie(c, result.SessionID, result.RememberMe, result.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{
		"user_id": result.UserID,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	sess := currentSession(c)
	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())
	if err := s.engine.Logout(ctx, sess.ID); err != nil && !errors.Is(err, nightcap.ErrSessionNotFound) {
		writeError(c, err)
		return
	}
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleLogoutAll(c *gin.Context) {
	sess := currentSession(c)
	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())
	if err := s.engine.LogoutAll(ctx, sess.UserID); err != nil {
		writeError(c, err)
		return
	}
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleSettings(c *gin.Context) {
	sess := currentSession(c)
	ctx := c.Request.Context()

	enabled, err := s.engine.TwoFactorEnabled(ctx, sess.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	active, err := s.engine.ActiveSessionCount(ctx, sess.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":            sess.UserID,
		"remember_me":        sess.RememberMe,
		"two_factor_enabled": enabled,
		"active_sessions":    active,
	})
}

// writeError maps engine sentinels to transport statuses. Messages stay
// generic; the sentinel text is already user-safe.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, nightcap.ErrValidation):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "bad_request", Message: err.Error()})
	case errors.Is(err, nightcap.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "invalid_credentials", Message: err.Error()})
	case errors.Is(err, nightcap.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_code", Message: err.Error()})
	case errors.Is(err, nightcap.ErrAttemptsExceeded):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "attempts_exceeded", Message: err.Error()})
	case errors.Is(err, nightcap.ErrNotFound):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "not_found", Message: err.Error()})
	case errors.Is(err, nightcap.ErrDeviceMismatch):
		c.JSON(http.StatusForbidden, errorResponse{Code: "device_mismatch", Message: err.Error()})
	case errors.Is(err, nightcap.ErrSessionNotFound):
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "unauthorized", Message: err.Error()})
	case errors.Is(err, nightcap.ErrUserNotFound):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "not_found", Message: err.Error()})
	case errors.Is(err, nightcap.ErrTwoFactorNotEnabled):
		c.JSON(http.StatusBadRequest, errorResponse{Code: "two_factor_not_enabled", Message: err.Error()})
	case errors.Is(err, nightcap.ErrSecurityRejected):
		c.JSON(http.StatusForbidden, errorResponse{Code: "forbidden", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal", Message: "internal error"})
	}
}
