package nightcap

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// flowTokenClaims is the signed payload embedded in verify links. When the
// magic-link option is on, the one-time code rides inside the signature so
// clicking the link is equivalent to typing the code.
type flowTokenClaims struct {
	Flow       string `json:"flw"`
	Target     string `json:"tgt"`
	RedirectTo string `json:"rdr,omitempty"`
	Code       string `json:"cod,omitempty"`
	jwt.RegisteredClaims
}

type flowTokenSigner struct {
	secret []byte
	ttl    time.Duration
}

func newFlowTokenSigner(cfg FlowTokenConfig) *flowTokenSigner {
	return &flowTokenSigner{secret: cfg.Secret, ttl: cfg.TTL}
}

func (s *flowTokenSigner) Sign(flow Flow, target, redirectTo, code string, now time.Time) (string, error) {
	claims := flowTokenClaims{
		Flow:       flow.String(),
		Target:     target,
		RedirectTo: redirectTo,
		Code:       code,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *flowTokenSigner) Parse(token string) (*flowTokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(
		token,
		&flowTokenClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	claims, ok := parsed.Claims.(*flowTokenClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid flow token claims")
	}
	return claims, nil
}

// verifyLink renders the URL delivered alongside (or instead of) the raw
// code.
func verifyLink(baseURL, token string) string {
	if baseURL == "" {
		return ""
	}
	return baseURL + "/verify?token=" + url.QueryEscape(token)
}
