package service

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// PersonIDFromJWT reads the numeric person_id claim from the payload segment of a token.
// The header and signature are not inspected. Any malformed input yields false; this is a
// best-effort fallback only.
func PersonIDFromJWT(token string) (int64, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, false
	}
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return 0, false
	}
	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return 0, false
	}
	v, ok := claims["person_id"].(float64)
	if !ok || v != math.Trunc(v) {
		return 0, false
	}
	return int64(v), true
}
