package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var secret = []byte("test-secret")

func validClaims() Claims {
	return Claims{
		Sub:  "usr_1",
		Name: "A Researcher",
		Role: "researcher",
		JTI:  "jti_1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}
}

func TestIssueAndParseRoundTrip(t *testing.T) {
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Sub != "usr_1" || claims.Role != "researcher" || claims.JTI != "jti_1" {
		t.Fatalf("claims mangled: %+v", claims)
	}
}

func TestParseRejectsTamperedPayload(t *testing.T) {
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.SplitN(token, ".", 2)
	tampered := parts[0] + "x." + parts[1]
	if _, err := ParseToken(secret, tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	claims := validClaims()
	claims.Exp = time.Now().Add(-time.Minute).Unix()
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseRejectsMalformedToken(t *testing.T) {
	for _, token := range []string{"", "only-one-part", "a.b.c"} {
		if _, err := ParseToken(secret, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestHashTokenIsStableAndHex(t *testing.T) {
	first := HashToken("refresh-token")
	second := HashToken("refresh-token")
	if first != second {
		t.Fatalf("hash not deterministic")
	}
	if len(first) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", first)
	}
	if first == HashToken("other-token") {
		t.Fatalf("distinct inputs must hash differently")
	}
}
