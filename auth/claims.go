// Package auth implements the bearer-token model: claims extraction,
// HMAC token verification and the access policy.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Claims is the decoded content of a bearer token. Expiry and not-before
// are evaluated against the wall clock at call time, never cached.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	Scopes    []string
	Roles     []string
	ClientID  string
	PatientID string

	// Raw keeps every decoded payload field for required-claim checks.
	Raw map[string]any
}

func (c Claims) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

func (c Claims) NotYetValid(now time.Time) bool {
	return !c.NotBefore.IsZero() && now.Before(c.NotBefore)
}

func (c Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

func (c Claims) HasClaim(name string) bool {
	_, ok := c.Raw[name]
	return ok
}

// DecodeClaims parses the payload segment of a compact token without
// verifying it. Provider-specific claim-name variants are tolerated:
// scopes come from "scope" (space-joined) or "scp", roles from "roles",
// "realm_access.roles" or "cognito:groups", client id from "client_id",
// "azp" or "appid", patient context from "patient" or "patientId".
func DecodeClaims(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("decode claims: %w", ErrMalformedToken)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("decode claims: payload: %w", ErrMalformedToken)
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Claims{}, fmt.Errorf("decode claims: json: %w", ErrMalformedToken)
	}

	c := Claims{
		Subject:   stringClaim(raw, "sub"),
		Issuer:    stringClaim(raw, "iss"),
		Audience:  stringsClaim(raw["aud"]),
		ExpiresAt: timeClaim(raw, "exp"),
		NotBefore: timeClaim(raw, "nbf"),
		IssuedAt:  timeClaim(raw, "iat"),
		Raw:       raw,
	}

	if s := stringClaim(raw, "scope"); s != "" {
		c.Scopes = strings.Fields(s)
	} else {
		c.Scopes = stringsClaim(raw["scp"])
	}

	c.Roles = stringsClaim(raw["roles"])
	if len(c.Roles) == 0 {
		if ra, ok := raw["realm_access"].(map[string]any); ok {
			c.Roles = stringsClaim(ra["roles"])
		}
	}
	if len(c.Roles) == 0 {
		c.Roles = stringsClaim(raw["cognito:groups"])
	}

	for _, k := range []string{"client_id", "azp", "appid"} {
		if v := stringClaim(raw, k); v != "" {
			c.ClientID = v
			break
		}
	}

	for _, k := range []string{"patient", "patientId"} {
		if v := stringClaim(raw, k); v != "" {
			c.PatientID = v
			break
		}
	}

	return c, nil
}

// User is the per-request identity derived from verified claims.
type User struct {
	ID        string
	Roles     []string
	Scopes    []string
	PatientID string
}

// NewUser derives the request-scoped user from a set of claims.
func NewUser(c Claims) *User {
	id := c.Subject
	if id == "" {
		id = c.ClientID
	}
	return &User{
		ID:        id,
		Roles:     c.Roles,
		Scopes:    c.Scopes,
		PatientID: c.PatientID,
	}
}

func stringClaim(raw map[string]any, key string) string {
	if s, ok := raw[key].(string); ok {
		return s
	}
	return ""
}

// stringsClaim coerces a claim that may arrive as a string or an array.
func stringsClaim(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	}
	return nil
}

func timeClaim(raw map[string]any, key string) time.Time {
	switch v := raw[key].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0)
		}
	}
	return time.Time{}
}
