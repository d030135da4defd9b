package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Browser cookie names. The session cookie is the only one that grants
// anything; the handoff cookie binds a multi-step flow to one browser and
// the CSRF cookie is the double-submit reference value.
const (
	SessionCookie = "nightcap_session"
	HandoffCookie = "nightcap_handoff"
	CSRFCookie    = "nightcap_csrf"
)

// setSessionCookie commits a session id to the browser. Remember-me sessions
// get a Max-Age so they survive browser restarts; others are session-scoped.
func (s *Server) setSessionCookie(c *gin.Context, sessionID string, rememberMe bool, expiresAt time.Time) {
	maxAge := 0
	if rememberMe {
		maxAge = int(time.Until(expiresAt).Seconds())
		if maxAge < 0 {
			maxAge = 0
		}
	}
	s.setCookie(c, SessionCookie, sessionID, maxAge, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	s.setCookie(c, SessionCookie, "", -1, true)
}

func (s *Server) setHandoffCookie(c *gin.Context, handoffID string, ttl time.Duration) {
	s.setCookie(c, HandoffCookie, handoffID, int(ttl.Seconds()), true)
}

func (s *Server) clearHandoffCookie(c *gin.Context) {
	s.setCookie(c, HandoffCookie, "", -1, true)
}

// setCSRFCookie is readable by scripts: the double-submit pattern needs the
// client to echo the value back in a header or form field.
func (s *Server) setCSRFCookie(c *gin.Context, token string) {
	s.setCookie(c, CSRFCookie, token, 0, false)
}

func (s *Server) setCookie(c *gin.Context, name, value string, maxAge int, httpOnly bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   maxAge,
		Secure:   s.cfg.SecureCookies,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	})
}
