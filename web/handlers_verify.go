package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nightcap-social/nightcap"
)

type verifyRequestPayload struct {
	Flow       string `json:"flow" form:"flow"`
	Target     string `json:"target" form:"target"`
	RedirectTo string `json:"redirect_to" form:"redirect_to"`
}

type verifySubmitPayload struct {
	Flow       string `json:"flow" form:"flow"`
	Target     string `json:"target" form:"target"`
	Code       string `json:"code" form:"code"`
	RedirectTo string `json:"redirect_to" form:"redirect_to"`
}

type passwordResetPayload struct {
	NewPassword string `json:"new_password" form:"new_password"`
}

type emailChangePayload struct {
	NewEmail   string `json:"new_email" form:"new_email"`
	RedirectTo string `json:"redirect_to" form:"redirect_to"`
}

// handleVerifyRequest opens a signup or reset-password challenge. Email
// changes go through the authenticated /email/change endpoint instead.
func (s *Server) handleVerifyRequest(c *gin.Context) {
	var req verifyRequestPayload
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, nightcap.ErrValidation)
		return
	}

	flow, err := nightcap.ParseFlow(req.Flow)
	if err != nil {
		writeError(c, nightcap.ErrValidation)
		return
	}

	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())

	var challenge *nightcap.Challenge
	switch flow {
	case nightcap.FlowSignup:
		challenge, err = s.engine.BeginSignupVerification(ctx, req.Target, req.RedirectTo)
	case nightcap.FlowResetPassword:
		challenge, err = s.engine.BeginPasswordReset(ctx, req.Target, req.RedirectTo)
	default:
		writeError(c, nightcap.ErrValidation)
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"flow":       challenge.Flow.String(),
		"target":     challenge.Target,
		"expires_at": challenge.ExpiresAt.Unix(),
	})
}

func (s *Server) handleVerifySubmit(c *gin.Context) {
	var req verifySubmitPayload
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, nightcap.ErrValidation)
		return
	}

	flow, err := nightcap.ParseFlow(req.Flow)
	if err != nil {
		writeError(c, nightcap.ErrValidation)
		return
	}

	handoffID, _ := c.Cookie(HandoffCookie)
	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())

	completion, err := s.engine.SubmitVerification(ctx, flow, req.Target, req.Code, handoffID, req.RedirectTo)
	if err != nil {
		writeError(c, err)
		return
	}

	s.finishCompletion(c, completion)
}

// handleVerifyLink redeems a signed magic link. Success redirects the
// browser when the token carried a destination; otherwise it responds like
// a form submission.
func (s *Server) handleVerifyLink(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		writeError(c, nightcap.ErrValidation)
		return
	}

	handoffID, _ := c.Cookie(HandoffCookie)
	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())

	completion, err := s.engine.RedeemFlowToken(ctx, token, handoffID)
	if err != nil {
		writeError(c, err)
		return
	}

	s.finishCompletion(c, completion)
}

func (s *Server) finishCompletion(c *gin.Context, completion *nightcap.Completion) {
	if completion.HandoffID != "" {
		s.setHandoffCookie(c, completion.HandoffID, s.engine.HandoffTTL())
	} else {
		s.clearHandoffCookie(c)
	}

	if dest := safeRedirect(completion.RedirectTo); dest != "" {
		c.Redirect(http.StatusSeeOther, dest)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"flow":   completion.Flow.String(),
		"target": completion.Target,
	})
}

func (s *Server) handlePasswordReset(c *gin.Context) {
	var req passwordResetPayload
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, nightcap.ErrValidation)
		return
	}

	handoffID, _ := c.Cookie(HandoffCookie)
	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())

	if err := s.engine.CompletePasswordReset(ctx, handoffID, req.NewPassword); err != nil {
		writeError(c, err)
		return
	}

	s.clearHandoffCookie(c)
	// The reset revoked every session; make this browser drop its cookie too.
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleEmailChange(c *gin.Context) {
	var req emailChangePayload
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, nightcap.ErrValidation)
		return
	}

	sess := currentSession(c)
	ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())

	challenge, handoffID, err := s.engine.BeginEmailChange(ctx, sess.UserID, req.NewEmail, req.RedirectTo)
	if err != nil {
		writeError(c, err)
		return
	}

	// The handoff cookie is what pins redemption to this browser.
	s.setHandoffCookie(c, handoffID, s.engine.HandoffTTL())
	c.JSON(http.StatusOK, gin.H{
		"flow":       challenge.Flow.String(),
		"target":     challenge.Target,
		"expires_at": challenge.ExpiresAt.Unix(),
	})
}

// safeRedirect allows only same-site relative destinations.
func safeRedirect(dest string) string {
	if dest == "" || !strings.HasPrefix(dest, "/") || strings.HasPrefix(dest, "//") {
		return ""
	}
	return dest
}
