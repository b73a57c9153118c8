package auth_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axisimaging/dicomweb/auth"
)

func rawToken(t *testing.T, payload string) string {
	t.Helper()
	return "header." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".sig"
}

func TestDecodeClaims(t *testing.T) {
	t.Run("registered claims", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{
			"sub": "user-1",
			"iss": "https://idp.example.com",
			"aud": ["dicomweb"],
			"exp": 1893456000,
			"nbf": 1700000000,
			"iat": 1700000000
		}`))
		require.NoError(t, err)

		assert.Equal(t, "user-1", c.Subject)
		assert.Equal(t, "https://idp.example.com", c.Issuer)
		assert.Equal(t, []string{"dicomweb"}, c.Audience)
		assert.Equal(t, time.Unix(1893456000, 0), c.ExpiresAt)
		assert.Equal(t, time.Unix(1700000000, 0), c.NotBefore)
	})

	t.Run("audience as bare string", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{"aud": "dicomweb"}`))
		require.NoError(t, err)
		assert.True(t, c.HasAudience("dicomweb"))
	})

	t.Run("scopes from space joined scope claim", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{"scope": "studies.read studies.write"}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"studies.read", "studies.write"}, c.Scopes)
	})

	t.Run("scopes from scp array", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{"scp": ["studies.read"]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"studies.read"}, c.Scopes)
	})

	t.Run("roles from flat claim", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{"roles": ["reader", "writer"]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"reader", "writer"}, c.Roles)
	})

	t.Run("roles from keycloak realm_access", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{"realm_access": {"roles": ["admin"]}}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"admin"}, c.Roles)
	})

	t.Run("roles from cognito groups", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{"cognito:groups": ["reader"]}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"reader"}, c.Roles)
	})

	t.Run("flat roles win over provider variants", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{
			"roles": ["writer"],
			"realm_access": {"roles": ["admin"]}
		}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"writer"}, c.Roles)
	})

	t.Run("client id variants in order", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{"azp": "service-a", "appid": "service-b"}`))
		require.NoError(t, err)
		assert.Equal(t, "service-a", c.ClientID)
	})

	t.Run("patient context variants", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{"patientId": "PAT001"}`))
		require.NoError(t, err)
		assert.Equal(t, "PAT001", c.PatientID)
	})

	t.Run("raw payload retained for claim checks", func(t *testing.T) {
		c, err := auth.DecodeClaims(rawToken(t, `{"custom": "value"}`))
		require.NoError(t, err)
		assert.True(t, c.HasClaim("custom"))
		assert.False(t, c.HasClaim("absent"))
	})

	t.Run("error - wrong segment count", func(t *testing.T) {
		_, err := auth.DecodeClaims("a.b")
		assert.ErrorIs(t, err, auth.ErrMalformedToken)
	})

	t.Run("error - payload not base64", func(t *testing.T) {
		_, err := auth.DecodeClaims("a.!!!.c")
		assert.ErrorIs(t, err, auth.ErrMalformedToken)
	})

	t.Run("error - payload not json", func(t *testing.T) {
		_, err := auth.DecodeClaims(rawToken(t, "not json"))
		assert.ErrorIs(t, err, auth.ErrMalformedToken)
	})
}

func TestNewUser(t *testing.T) {
	t.Run("subject preferred", func(t *testing.T) {
		u := auth.NewUser(auth.Claims{Subject: "user-1", ClientID: "service-a"})
		assert.Equal(t, "user-1", u.ID)
	})

	t.Run("client id fallback for service tokens", func(t *testing.T) {
		u := auth.NewUser(auth.Claims{ClientID: "service-a"})
		assert.Equal(t, "service-a", u.ID)
	})

	t.Run("carries roles scopes and patient context", func(t *testing.T) {
		u := auth.NewUser(auth.Claims{
			Roles:     []string{"reader"},
			Scopes:    []string{"studies.read"},
			PatientID: "PAT001",
		})
		assert.Equal(t, []string{"reader"}, u.Roles)
		assert.Equal(t, []string{"studies.read"}, u.Scopes)
		assert.Equal(t, "PAT001", u.PatientID)
	})
}
