package internal

import (
	"strings"
	"testing"
)

func TestSessionIDRoundtrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}

	encoded := sid.String()
	if len(encoded) != 22 {
		t.Fatalf("encoded length %d, want 22", len(encoded))
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Fatalf("encoding is not unpadded base64url: %q", encoded)
	}

	parsed, err := ParseSessionID(encoded)
	if err != nil {
		t.Fatalf("ParseSessionID: %v", err)
	}
	if parsed != sid {
		t.Fatal("roundtrip changed the session id")
	}
}

func TestParseSessionIDRejectsBadInput(t *testing.T) {
	bad := []string{
		"",
		"not base64!!",
		"AAAA",
		"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	}
	for _, in := range bad {
		if _, err := ParseSessionID(in); err == nil {
			t.Errorf("ParseSessionID(%q) accepted bad input", in)
		}
	}
}

func TestNewSessionIDsDiffer(t *testing.T) {
	a, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	b, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	if a == b {
		t.Fatal("two session ids are identical")
	}
}

func TestNewHandoffID(t *testing.T) {
	a, err := NewHandoffID()
	if err != nil {
		t.Fatalf("NewHandoffID: %v", err)
	}
	b, err := NewHandoffID()
	if err != nil {
		t.Fatalf("NewHandoffID: %v", err)
	}
	if a == b {
		t.Fatal("two handoff ids are identical")
	}
	if len(a) != 22 {
		t.Fatalf("handoff id length %d, want 22", len(a))
	}
}

func TestNewCSRFToken(t *testing.T) {
	tok, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("NewCSRFToken: %v", err)
	}
	if len(tok) != 43 {
		t.Fatalf("csrf token length %d, want 43", len(tok))
	}
	if strings.ContainsAny(tok, "+/=") {
		t.Fatalf("token is not unpadded base64url: %q", tok)
	}
}
