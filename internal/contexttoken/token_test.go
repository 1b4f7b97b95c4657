package contexttoken

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSignerVerifierHS256(t *testing.T) {
	signer, err := NewSigner(SignerOptions{Secret: testSecret, Issuer: "popup", TTL: 2 * time.Second})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewVerifier(VerifierOptions{
		Secret:         testSecret,
		Audience:       "background",
		AllowedIssuers: []string{"popup", "page"},
		Leeway:         time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := signer.Sign("background")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	source, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if source != "popup" {
		t.Fatalf("unexpected source: %s", source)
	}
}

func TestSignerRequiresLongSecret(t *testing.T) {
	if _, err := NewSigner(SignerOptions{Secret: "short", Issuer: "popup"}); err == nil {
		t.Fatalf("expected short secret to fail")
	}
}

func TestVerifierRejectsWrongAudience(t *testing.T) {
	signer, _ := NewSigner(SignerOptions{Secret: testSecret, Issuer: "popup"})
	verifier, _ := NewVerifier(VerifierOptions{Secret: testSecret, Audience: "page", AllowedIssuers: []string{"popup"}})
	token, _ := signer.Sign("background")
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestVerifierRejectsUnknownIssuer(t *testing.T) {
	signer, _ := NewSigner(SignerOptions{Secret: testSecret, Issuer: "sidepanel"})
	verifier, _ := NewVerifier(VerifierOptions{Secret: testSecret, Audience: "background", AllowedIssuers: []string{"popup"}})
	token, _ := signer.Sign("background")
	if _, err := verifier.Verify(token); err == nil || !strings.Contains(err.Error(), "issuer") {
		t.Fatalf("expected issuer rejection, got %v", err)
	}
}

func TestVerifierRejectsOtherSecret(t *testing.T) {
	signer, _ := NewSigner(SignerOptions{Secret: strings.Repeat("x", 32), Issuer: "popup"})
	verifier, _ := NewVerifier(VerifierOptions{Secret: testSecret, Audience: "background", AllowedIssuers: []string{"popup"}})
	token, _ := signer.Sign("background")
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestVerifierRejectsFutureIssuedAt(t *testing.T) {
	verifier, err := NewVerifier(VerifierOptions{
		Secret:         testSecret,
		Audience:       "background",
		AllowedIssuers: []string{"popup"},
		Leeway:         time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "popup",
		Subject:   "popup",
		Audience:  jwt.ClaimStrings{"background"},
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(2 * time.Minute)),
		NotBefore: jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		ID:        "jti-1",
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := verifier.Verify(signed); err == nil {
		t.Fatalf("expected future iat token to fail")
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "bearer abc")
	token, ok := BearerToken(req)
	if !ok || token != "abc" {
		t.Fatalf("expected bearer token")
	}
	if _, ok := ParseBearer("Basic abc"); ok {
		t.Fatalf("expected basic auth to be ignored")
	}
	if _, ok := ParseBearer("Bearer   "); ok {
		t.Fatalf("expected empty bearer to be ignored")
	}
}
