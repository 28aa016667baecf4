// Package crypto derives log-safe fingerprints from secret-bearing identifiers.
package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// fingerprintLen is the digest size in bytes; 8 bytes keep log lines short.
const fingerprintLen = 8

// Sum returns a stable 256-bit digest of s.
func Sum(s string) []byte {
	h := blake2b.Sum256([]byte(s))
	return h[:]
}

// Fingerprint returns a short hex digest of s suitable for logs. Cache keys embed
// OTP secrets and usernames, so they are never written out verbatim.
func Fingerprint(s string) string {
	if s == "" {
		return ""
	}
	return hex.EncodeToString(Sum(s)[:fingerprintLen])
}
