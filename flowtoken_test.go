package nightcap

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testSigner() *flowTokenSigner {
	return newFlowTokenSigner(FlowTokenConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    15 * time.Minute,
	})
}

func TestFlowTokenRoundtrip(t *testing.T) {
	signer := testSigner()

	token, err := signer.Sign(FlowSignup, "negroni@example.com", "/welcome", "482913", time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Flow != "signup" {
		t.Fatalf("flow claim = %q", claims.Flow)
	}
	if claims.Target != "negroni@example.com" {
		t.Fatalf("target claim = %q", claims.Target)
	}
	if claims.RedirectTo != "/welcome" {
		t.Fatalf("redirect claim = %q", claims.RedirectTo)
	}
	if claims.Code != "482913" {
		t.Fatalf("code claim = %q", claims.Code)
	}
}

func TestFlowTokenExpired(t *testing.T) {
	signer := testSigner()

	token, err := signer.Sign(FlowResetPassword, "old@example.com", "", "", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := signer.Parse(token); !errors.Is(err, ErrValidation) {
		t.Fatalf("expired token: got %v, want ErrValidation", err)
	}
}

func TestFlowTokenWrongSecret(t *testing.T) {
	signer := testSigner()
	other := newFlowTokenSigner(FlowTokenConfig{
		Secret: []byte("ffffffffffffffffffffffffffffffff"),
		TTL:    15 * time.Minute,
	})

	token, err := other.Sign(FlowSignup, "mallory@example.com", "", "", time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := signer.Parse(token); !errors.Is(err, ErrValidation) {
		t.Fatalf("foreign signature: got %v, want ErrValidation", err)
	}
}

func TestFlowTokenTampered(t *testing.T) {
	signer := testSigner()

	token, err := signer.Sign(FlowSignup, "honest@example.com", "", "111111", time.Now())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := signer.Parse(tampered); !errors.Is(err, ErrValidation) {
		t.Fatalf("tampered payload: got %v, want ErrValidation", err)
	}
}

func TestFlowTokenRejectsUnsignedAlgorithm(t *testing.T) {
	signer := testSigner()

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, flowTokenClaims{
		Flow:   "signup",
		Target: "attacker@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := signer.Parse(token); !errors.Is(err, ErrValidation) {
		t.Fatalf("alg=none token: got %v, want ErrValidation", err)
	}
}

func TestVerifyLink(t *testing.T) {
	link := verifyLink("https://nightcap.social", "abc+def")
	if link != "https://nightcap.social/verify?token=abc%2Bdef" {
		t.Fatalf("verifyLink = %q", link)
	}
	if verifyLink("", "token") != "" {
		t.Fatal("empty base URL should yield empty link")
	}
}
