package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingToken is returned when no bearer credential is present.
	ErrMissingToken = errors.New("missing token")
	// ErrMalformedToken is returned when the credential cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")
	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = errors.New("invalid token signature")
	// ErrUnsupportedAlgorithm is returned when a token's algorithm does
	// not match the configured one.
	ErrUnsupportedAlgorithm = errors.New("unsupported token algorithm")
	// ErrTokenExpired is returned when the expiry timestamp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenNotYetValid is returned when the not-before timestamp is
	// in the future.
	ErrTokenNotYetValid = errors.New("token not yet valid")
	// ErrIssuerMismatch is returned when the issuer differs from the
	// expected one.
	ErrIssuerMismatch = errors.New("issuer mismatch")
	// ErrAudienceMismatch is returned when the expected audience is not
	// in the token's audience list.
	ErrAudienceMismatch = errors.New("audience mismatch")
	// ErrMissingClaim is returned when a configured required claim is
	// absent.
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier turns a bearer credential into verified claims. A
// verifier may suspend, e.g. for a remote key fetch.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// VerifierConfig pins the accepted algorithm and the post-decode checks.
type VerifierConfig struct {
	// Algorithm accepted in the token header. Defaults to HS256.
	Algorithm string
	// Issuer, when set, must equal the token's iss claim.
	Issuer string
	// Audience, when set, must appear in the token's aud list.
	Audience string
	// RequiredClaims lists claim names that must be present.
	RequiredClaims []string
}

// HMACVerifier verifies tokens signed with a symmetric key.
type HMACVerifier struct {
	cfg    VerifierConfig
	lookup func(keyID string) ([]byte, bool)
}

// NewHMACVerifier creates a verifier with a key-lookup function. The
// lookup receives the token header's kid, or "" when none is present,
// and returns the signing key.
func NewHMACVerifier(cfg VerifierConfig, lookup func(keyID string) ([]byte, bool)) *HMACVerifier {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	return &HMACVerifier{cfg: cfg, lookup: lookup}
}

// NewStaticHMACVerifier creates a verifier over a single shared secret.
func NewStaticHMACVerifier(cfg VerifierConfig, secret []byte) *HMACVerifier {
	return NewHMACVerifier(cfg, func(string) ([]byte, bool) {
		return secret, len(secret) > 0
	})
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// Verify checks the signature over the raw header.payload bytes, then
// runs the validation chain in order: expiry, not-before, issuer,
// audience, required claims. Each failure is its own named error.
func (v *HMACVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	if err := ctx.Err(); err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}

	if token == "" {
		return Claims{}, ErrMissingToken
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("verify token: %w", ErrMalformedToken)
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Claims{}, fmt.Errorf("verify token: header: %w", ErrMalformedToken)
	}

	var header tokenHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return Claims{}, fmt.Errorf("verify token: header: %w", ErrMalformedToken)
	}

	if !strings.EqualFold(header.Alg, v.cfg.Algorithm) {
		return Claims{}, fmt.Errorf("verify token: alg %s: %w", header.Alg, ErrUnsupportedAlgorithm)
	}

	supplied, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return Claims{}, fmt.Errorf("verify token: signature: %w", ErrMalformedToken)
	}

	key, found := v.lookup(header.Kid)
	if !found {
		return Claims{}, fmt.Errorf("verify token: key %q: %w", header.Kid, ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(mac.Sum(nil), supplied) {
		return Claims{}, fmt.Errorf("verify token: %w", ErrSignatureInvalid)
	}

	claims, err := DecodeClaims(token)
	if err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}

	if err := ValidateClaims(claims, v.cfg, time.Now()); err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}

	return claims, nil
}

// ValidateClaims runs the post-signature validation chain against the
// supplied clock.
func ValidateClaims(c Claims, cfg VerifierConfig, now time.Time) error {
	if c.IsExpired(now) {
		return ErrTokenExpired
	}

	if c.NotYetValid(now) {
		return ErrTokenNotYetValid
	}

	if cfg.Issuer != "" && c.Issuer != cfg.Issuer {
		return fmt.Errorf("%w: got %q", ErrIssuerMismatch, c.Issuer)
	}

	if cfg.Audience != "" && !c.HasAudience(cfg.Audience) {
		return fmt.Errorf("%w: want %q", ErrAudienceMismatch, cfg.Audience)
	}

	for _, name := range cfg.RequiredClaims {
		if !c.HasClaim(name) {
			return fmt.Errorf("%w: %s", ErrMissingClaim, name)
		}
	}

	return nil
}

// SignToken builds a compact HS256 token for the given payload claims.
// It exists for tests and the configure tooling; the server itself only
// verifies.
func SignToken(secret []byte, payload map[string]any) (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	signing := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(payloadJSON)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signing))

	return signing + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
