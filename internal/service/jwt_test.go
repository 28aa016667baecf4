package service

import (
	"encoding/base64"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func TestPersonIDFromJWT(t *testing.T) {
	t.Parallel()

	id, ok := PersonIDFromJWT(mintToken(t, jwt.MapClaims{"person_id": 9999, "tenant_id": "x"}))
	require.True(t, ok)
	require.EqualValues(t, 9999, id)

	_, ok = PersonIDFromJWT(mintToken(t, jwt.MapClaims{"person_id": 1.5}))
	require.False(t, ok, "fractional id")

	_, ok = PersonIDFromJWT(mintToken(t, jwt.MapClaims{"person_id": "9999"}))
	require.False(t, ok, "string id")

	_, ok = PersonIDFromJWT(mintToken(t, jwt.MapClaims{"sub": "u"}))
	require.False(t, ok, "missing claim")

	for _, bad := range []string{"", "opaque-token", "a.b", "a.b.c.d", "!!.@@.##"} {
		_, ok := PersonIDFromJWT(bad)
		require.False(t, ok, bad)
	}
}

func TestPersonIDFromJWT_IgnoresHeader(t *testing.T) {
	t.Parallel()

	seg := base64.RawURLEncoding.EncodeToString
	payload := seg([]byte(`{"person_id":9999}`))

	for _, header := range []string{`{"typ":"JWT"}`, `{"alg":"X-CUSTOM"}`, `{"alg":"none"}`} {
		id, ok := PersonIDFromJWT(seg([]byte(header)) + "." + payload + ".sig")
		require.True(t, ok, header)
		require.EqualValues(t, 9999, id, header)
	}

	_, ok := PersonIDFromJWT(seg([]byte(`{"typ":"JWT"}`)) + "." + seg([]byte("not json")) + ".sig")
	require.False(t, ok)
}
