package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nightcap-social/nightcap"
)

type twoFactorCodePayload struct {
	Code string `json:"code" form:"code"`
}

func (s *Server) handleTwoFactorEnable(c *gin.Context) {
	sess := currentSession(c)
	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())

	setup, err := s.engine.BeginTwoFactorSetup(ctx, sess.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"secret":     setup.SecretBase32,
		"uri":        setup.URI,
		"expires_at": setup.ExpiresAt.Unix(),
	})
}

// handleTwoFactorVerify serves both halves of the second factor. A browser
// holding a handoff cookie is mid-login and gets the parked session
// committed; an authenticated browser is confirming enrollment.
func (s *Server) handleTwoFactorVerify(c *gin.Context) {
	var req twoFactorCodePayload
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, nightcap.ErrValidation)
		return
	}

	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())

	if handoffID, err := c.Cookie(HandoffCookie); err == nil && handoffID != "" {
		result, err := s.engine.ConfirmTwoFactorLogin(ctx, handoffID, req.Code)
		if err != nil {
			writeError(c, err)
			return
		}
		s.clearHandoffCookie(c)
		s.setSessionCookie(c, result.SessionID, result.RememberMe, result.ExpiresAt)
		c.JSON(http.StatusOK, gin.H{"user_id": result.UserID})
		return
	}

	sessionID, err := c.Cookie(SessionCookie)
	if err != nil || sessionID == "" {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "unauthorized", Message: "authentication required"})
		return
	}
	sess, err := s.engine.Authenticate(ctx, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.engine.ConfirmTwoFactorSetup(ctx, sess.UserID, req.Code); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"two_factor_enabled": true})
}

func (s *Server) handleTwoFactorDisable(c *gin.Context) {
	var req twoFactorCodePayload
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, nightcap.ErrValidation)
		return
	}

	sess := currentSession(c)
	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())

	if err := s.engine.DisableTwoFactor(ctx, sess.UserID, req.Code); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"two_factor_enabled": false})
}

func (s *Server) handleTwoFactorCancel(c *gin.Context) {
	sess := currentSession(c)
	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())

	if err := s.engine.CancelTwoFactorSetup(ctx, sess.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
