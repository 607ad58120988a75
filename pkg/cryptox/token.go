package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

// SaltSize is the byte length of salts used for code fingerprints.
const SaltSize = 16

const (
	digits       = "0123456789"
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateNumericCode returns a uniformly random numeric string of the given
// length, suitable for SMS/email one-time codes. Each digit is drawn with
// crypto/rand so the code space is not biased.
func GenerateNumericCode(length int) (string, error) {
	return generateFromCharset(digits, length)
}

// GenerateAlphanumericCode returns a uniformly random alphanumeric string of
// the given length, suitable for backup codes.
func GenerateAlphanumericCode(length int) (string, error) {
	return generateFromCharset(alphanumeric, length)
}

func generateFromCharset(charset string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}

	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random code: %w", err)
		}
		code[i] = charset[n.Int64()]
	}
	return string(code), nil
}

// GenerateSalt returns SaltSize random bytes encoded as base64url.
func GenerateSalt() (string, error) {
	buf := make([]byte, SaltSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintCode returns a deterministic salted SHA-256 fingerprint of a
// code. The fingerprint is stored instead of the code itself, allowing
// verification without retaining the plaintext.
//
// The fingerprint is returned as a base64url-encoded string (43 chars).
func FingerprintCode(salt, code string) string {
	sum := sha256.Sum256([]byte(salt + code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeFingerprint reports whether code matches the stored salted
// fingerprint, in constant time with respect to the fingerprint contents.
func VerifyCodeFingerprint(salt, code, fingerprint string) bool {
	computed := FingerprintCode(salt, code)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(fingerprint)) == 1
}
