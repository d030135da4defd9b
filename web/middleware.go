package web

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"log/slog"

	"github.com/nightcap-social/nightcap"
	"github.com/nightcap-social/nightcap/internal"
	"github.com/nightcap-social/nightcap/session"
)

const sessionContextKey = "nightcap.session"

func requestLogger(logger *slog.Logger, metrics *httpMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("client_ip", c.ClientIP()),
		)

		if metrics != nil {
			metrics.requestCount.WithLabelValues(c.Request.Method, path, http.StatusText(status)).Inc()
			metrics.requestDuration.WithLabelValues(c.Request.Method, path, http.StatusText(status)).Observe(latency.Seconds())
		}
	}
}

func recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic",
					slog.Any("error", err),
					slog.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// honeypotGuard rejects any request whose designated hidden field is
// non-empty. Humans never see the field; form-filling bots do. Runs before
// CSRF and before any domain logic.
func (s *Server) honeypotGuard() gin.HandlerFunc {
	field := s.cfg.HoneypotField
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		if c.PostForm(field) != "" || c.Query(field) != "" {
			if s.metrics != nil {
				s.metrics.guardRejections.WithLabelValues("honeypot").Inc()
			}
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{
				Code:    "forbidden",
				Message: "request rejected",
			})
			return
		}
		c.Next()
	}
}

// csrfGuard enforces the double-submit check on every state-changing method:
// the nightcap_csrf cookie must match the X-CSRF-Token header or the
// csrf_token form field, compared in constant time. Safe methods get a
// cookie issued if the browser lacks one.
func (s *Server) csrfGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			s.ensureCSRFCookie(c)
			c.Next()
			return
		}

		cookie, err := c.Cookie(CSRFCookie)
		submitted := c.GetHeader("X-CSRF-Token")
		if submitted == "" {
			submitted = c.PostForm("csrf_token")
		}
		if err != nil || cookie == "" || submitted == "" ||
			subtle.ConstantTimeCompare([]byte(cookie), []byte(submitted)) != 1 {
			if s.metrics != nil {
				s.metrics.guardRejections.WithLabelValues("csrf").Inc()
			}
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{
				Code:    "forbidden",
				Message: "request rejected",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) ensureCSRFCookie(c *gin.Context) string {
	if token, err := c.Cookie(CSRFCookie); err == nil && token != "" {
		return token
	}
	token, err := internal.NewCSRFToken()
	if err != nil {
		return ""
	}
	s.setCSRFCookie(c, token)
	return token
}

// requireSession resolves the session cookie or rejects with 401. A cookie
// that no longer maps to a live row is cleared on the way out so the browser
// stops presenting it.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(SessionCookie)
		if err != nil || sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Code:    "unauthorized",
				Message: "authentication required",
			})
			return
		}

		ctx := nightcap.WithClientIP(c.Request.Context(), c.ClientIP())
		sess, err := s.engine.Authenticate(ctx, sessionID)
		if err != nil {
			if errors.Is(err, nightcap.ErrSessionNotFound) {
				s.clearSessionCookie(c)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Code:    "unauthorized",
				Message: "authentication required",
			})
			return
		}

		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*session.Session)
	return sess
}
