// Package redis provides an ephemeral OTP code store backed by Redis.
// Codes live entirely in Redis with a TTL, so expiry needs no sweeper and
// the hot verification path never touches the relational database.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
	"github.com/qoobot-com/openidaas-sub002/internal/mfa/store"
)

// consumeScript deletes the key only when the stored code matches, so
// exactly one concurrent caller can win for an outstanding code.
var consumeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type OTPCodes struct {
	client *redis.Client
	prefix string
}

var _ store.OTPCodes = (*OTPCodes)(nil)

// NewOTPCodes wraps an existing Redis client. The prefix namespaces keys
// when the instance is shared with other services.
func NewOTPCodes(client *redis.Client, prefix string) *OTPCodes {
	if prefix == "" {
		prefix = "mfa:otp"
	}
	return &OTPCodes{client: client, prefix: prefix}
}

func (r *OTPCodes) key(userID string, channel domain.Channel) string {
	return r.prefix + ":" + string(channel) + ":" + userID
}

func (r *OTPCodes) SaveOTP(ctx context.Context, otp domain.EphemeralOTP) error {
	ttl := otp.ExpiresAt.Sub(otp.IssuedAt)
	if ttl <= 0 {
		return nil
	}
	// SET replaces any outstanding code for the key.
	return r.client.Set(ctx, r.key(otp.UserID, otp.Channel), otp.Code, ttl).Err()
}

func (r *OTPCodes) ConsumeOTP(ctx context.Context, userID string, channel domain.Channel, code string, now time.Time) (bool, error) {
	// The TTL already enforces expiry; now is only used by SQL-backed
	// implementations.
	n, err := consumeScript.Run(ctx, r.client, []string{r.key(userID, channel)}, code).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *OTPCodes) DeleteOTP(ctx context.Context, userID string, channel domain.Channel) error {
	return r.client.Del(ctx, r.key(userID, channel)).Err()
}

// DeleteExpiredOTPs is a no-op. Redis evicts expired keys itself.
func (r *OTPCodes) DeleteExpiredOTPs(ctx context.Context, now time.Time) error {
	return nil
}
