// Package internal holds the opaque identifier primitives shared by the
// engine and its stores.
package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// SessionID is the opaque value committed to the browser session cookie.
// 16 random bytes, rendered as unpadded base64url.
type SessionID [16]byte

const csrfTokenBytes = 32

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewHandoffID returns the opaque id binding cross-request flow state to
// one browser. Same entropy as a session id, different namespace.
func NewHandoffID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// NewCSRFToken returns the per-browser double-submit token value.
func NewCSRFToken() (string, error) {
	raw := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
