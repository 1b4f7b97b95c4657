package contexttoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the lifetime of a token attached to one message.
	DefaultTokenTTL = 30 * time.Second
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 5 * time.Second
	// MinSecretLength is the shortest accepted HMAC secret in bytes.
	MinSecretLength = 32
)

// Signer issues short-lived HS256 tokens naming the sending context.
type Signer struct {
	issuer string
	secret []byte
	ttl    time.Duration
}

type SignerOptions struct {
	Secret string
	// Issuer is the sending context, e.g. "popup" or "page".
	Issuer string
	TTL    time.Duration
}

// Verifier accepts tokens addressed to one context from an allowlist of
// issuing contexts.
type Verifier struct {
	audience       string
	allowedIssuers map[string]struct{}
	secret         []byte
	leeway         time.Duration
}

type VerifierOptions struct {
	Secret         string
	Audience       string
	AllowedIssuers []string
	Leeway         time.Duration
}

func checkSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("context token secret must be at least %d bytes", MinSecretLength)
	}
	return []byte(secret), nil
}

func NewSigner(opts SignerOptions) (*Signer, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("context token issuer is required")
	}
	secret, err := checkSecret(opts.Secret)
	if err != nil {
		return nil, err
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTokenTTL
	}
	return &Signer{issuer: issuer, secret: secret, ttl: opts.TTL}, nil
}

// Issuer is the context name this signer speaks for.
func (s *Signer) Issuer() string { return s.issuer }

// Sign issues a token for the receiving context.
func (s *Signer) Sign(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("context token audience is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        randomHexID(12),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		return nil, errors.New("context token audience is required")
	}
	secret, err := checkSecret(opts.Secret)
	if err != nil {
		return nil, err
	}
	issuers := make(map[string]struct{})
	for _, issuer := range opts.AllowedIssuers {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			continue
		}
		issuers[issuer] = struct{}{}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{audience: audience, allowedIssuers: issuers, secret: secret, leeway: leeway}, nil
}

// Verify validates signature, expiry, audience and issuer, and returns the
// sending context.
func (v *Verifier) Verify(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token required")
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return "", err
	}
	if _, ok := v.allowedIssuers[claims.Issuer]; !ok {
		return "", errors.New("issuer not allowed")
	}
	if claims.ID == "" {
		return "", errors.New("jti required")
	}
	return claims.Issuer, nil
}

// BearerToken extracts a bearer token from request header.
func BearerToken(r *http.Request) (string, bool) {
	return ParseBearer(r.Header.Get("Authorization"))
}

// ParseBearer extracts the token of an "Authorization: Bearer" value. The
// scheme is matched case-insensitively.
func ParseBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
