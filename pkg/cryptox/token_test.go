package cryptox_test

import (
	"regexp"
	"testing"

	"github.com/qoobot-com/openidaas-sub002/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestGenerateNumericCode(t *testing.T) {
	t.Parallel()

	code, err := cryptox.GenerateNumericCode(6)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)

	_, err = cryptox.GenerateNumericCode(0)
	require.Error(t, err)
}

func TestGenerateAlphanumericCode(t *testing.T) {
	t.Parallel()

	code, err := cryptox.GenerateAlphanumericCode(10)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[a-zA-Z0-9]{10}$`), code)
}

func TestFingerprintCode(t *testing.T) {
	t.Parallel()

	salt, err := cryptox.GenerateSalt()
	require.NoError(t, err)

	fp := cryptox.FingerprintCode(salt, "abc123")
	require.Len(t, fp, 43)

	// Deterministic for the same salt+code.
	require.Equal(t, fp, cryptox.FingerprintCode(salt, "abc123"))

	// Different salt, different fingerprint.
	otherSalt, err := cryptox.GenerateSalt()
	require.NoError(t, err)
	require.NotEqual(t, fp, cryptox.FingerprintCode(otherSalt, "abc123"))

	require.True(t, cryptox.VerifyCodeFingerprint(salt, "abc123", fp))
	require.False(t, cryptox.VerifyCodeFingerprint(salt, "abc124", fp))
}
