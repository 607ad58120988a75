// Package totpx wraps time-based one-time password generation and
// verification (RFC 6238: HMAC-SHA1, 30-second steps, 6-digit codes with
// dynamic truncation) behind the interface the MFA services need.
package totpx

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// SecretSize is the raw secret length in bytes (160 bits, RFC 4226).
	SecretSize = 20

	// Period is the validity window of a single code in seconds.
	Period = 30

	// Digits is the length of generated codes.
	Digits = 6

	// Skew is the number of adjacent periods accepted on either side of the
	// current one. One step of tolerance bounds the brute-force surface to
	// three codes per attempt; anything wider belongs to the throttle, not
	// the engine.
	Skew = 1
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

var validateOpts = totp.ValidateOpts{
	Period:    Period,
	Skew:      Skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateSecret returns a new cryptographically random secret, Base32
// encoded without padding as authenticator apps expect.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return b32.EncodeToString(buf), nil
}

// Code returns the 6-digit code for the step containing t.
func Code(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}

// Verify reports whether code is valid for secret at time t, accepting the
// previous, current, and next step. Empty inputs fail immediately without
// touching the HMAC; there is no secret to protect from timing yet.
func Verify(secret, code string, t time.Time) bool {
	if secret == "" || code == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, t, validateOpts)
	if err != nil {
		return false
	}
	return ok
}

// RemainingValidity returns the number of whole seconds until the step
// containing t rolls over, in [0, Period).
func RemainingValidity(t time.Time) int {
	return int((Period - t.Unix()%Period) % Period)
}

// ProvisioningURI builds the otpauth:// URI that authenticator apps scan
// during enrollment. Purely formatting; the secret is embedded as given.
func ProvisioningURI(secret, account, issuer string) (string, error) {
	raw, err := b32.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("invalid TOTP secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      Period,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning URI: %w", err)
	}

	return key.URL(), nil
}
