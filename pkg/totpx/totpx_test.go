package totpx_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/qoobot-com/openidaas-sub002/pkg/totpx"
	"github.com/stretchr/testify/require"
)

var sixDigits = regexp.MustCompile(`^\d{6}$`)

func TestGenerateSecret(t *testing.T) {
	t.Parallel()

	a, err := totpx.GenerateSecret()
	require.NoError(t, err)
	b, err := totpx.GenerateSecret()
	require.NoError(t, err)

	// 20 bytes -> 32 base32 chars, unpadded.
	require.Len(t, a, 32)
	require.Regexp(t, regexp.MustCompile(`^[A-Z2-7]+$`), a)
	require.NotEqual(t, a, b)
}

func TestCodeFormat(t *testing.T) {
	t.Parallel()

	secret, err := totpx.GenerateSecret()
	require.NoError(t, err)

	for _, at := range []time.Time{
		time.Unix(0, 0),
		time.Unix(59, 0),
		time.Unix(1111111109, 0),
		time.Now(),
	} {
		code, err := totpx.Code(secret, at)
		require.NoError(t, err)
		require.Regexp(t, sixDigits, code)
	}
}

func TestCodeConstantWithinStep(t *testing.T) {
	t.Parallel()

	secret, err := totpx.GenerateSecret()
	require.NoError(t, err)

	base := time.Unix(1700000010, 0) // 10s into a step
	first, err := totpx.Code(secret, base)
	require.NoError(t, err)

	for _, offset := range []time.Duration{-10 * time.Second, 0, 19 * time.Second} {
		code, err := totpx.Code(secret, base.Add(offset))
		require.NoError(t, err)
		require.Equal(t, first, code)
	}

	next, err := totpx.Code(secret, base.Add(20*time.Second))
	require.NoError(t, err)
	require.NotEqual(t, first, next)
}

func TestVerifyAcceptsAdjacentSteps(t *testing.T) {
	t.Parallel()

	secret, err := totpx.GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1700000015, 0)

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := totpx.Code(secret, now.Add(offset))
		require.NoError(t, err)
		require.True(t, totpx.Verify(secret, code, now), "offset %v", offset)
	}
}

func TestVerifyRejectsOutsideWindow(t *testing.T) {
	t.Parallel()

	secret, err := totpx.GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1700000015, 0)

	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		code, err := totpx.Code(secret, now.Add(offset))
		require.NoError(t, err)
		require.False(t, totpx.Verify(secret, code, now), "offset %v", offset)
	}
}

func TestVerifyRejectsWrongCode(t *testing.T) {
	t.Parallel()

	secret, err := totpx.GenerateSecret()
	require.NoError(t, err)

	now := time.Now()
	valid, err := totpx.Code(secret, now)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == valid {
		wrong = "000001"
	}
	require.False(t, totpx.Verify(secret, wrong, now))
}

func TestVerifyFastFails(t *testing.T) {
	t.Parallel()

	secret, err := totpx.GenerateSecret()
	require.NoError(t, err)

	require.False(t, totpx.Verify("", "123456", time.Now()))
	require.False(t, totpx.Verify(secret, "", time.Now()))
	require.False(t, totpx.Verify("not base32 at all", "123456", time.Now()))
}

func TestRemainingValidity(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, totpx.RemainingValidity(time.Unix(1700000010, 0).Truncate(30*time.Second)))
	require.Equal(t, 29, totpx.RemainingValidity(time.Unix(30+1, 0)))
	require.Equal(t, 1, totpx.RemainingValidity(time.Unix(60-1, 0)))

	for s := int64(0); s < 120; s += 7 {
		got := totpx.RemainingValidity(time.Unix(s, 0))
		require.GreaterOrEqual(t, got, 0)
		require.Less(t, got, 30)
	}
}

func TestProvisioningURI(t *testing.T) {
	t.Parallel()

	secret, err := totpx.GenerateSecret()
	require.NoError(t, err)

	uri, err := totpx.ProvisioningURI(secret, "user@example.com", "openidaas")
	require.NoError(t, err)
	require.Contains(t, uri, "otpauth://totp/")
	require.Contains(t, uri, "secret="+secret)
	require.Contains(t, uri, "issuer=openidaas")

	_, err = totpx.ProvisioningURI("!!!", "user@example.com", "openidaas")
	require.Error(t, err)
}
