package sqlite

import (
	"context"
	"time"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
)

type otpCodesRepo struct {
	db dbtx
}

func (r *otpCodesRepo) SaveOTP(ctx context.Context, otp domain.EphemeralOTP) error {
	// Upsert so a new code supersedes any outstanding one for the key.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_codes (user_id, channel, code, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, channel) DO UPDATE SET
			code = excluded.code,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at`,
		otp.UserID, string(otp.Channel), otp.Code, toUnix(otp.IssuedAt), toUnix(otp.ExpiresAt))
	return err
}

func (r *otpCodesRepo) ConsumeOTP(ctx context.Context, userID string, channel domain.Channel, code string, now time.Time) (bool, error) {
	// Single conditional DELETE so exactly one concurrent caller can win.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_codes
		WHERE user_id = ? AND channel = ? AND code = ? AND expires_at > ?`,
		userID, string(channel), code, toUnix(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *otpCodesRepo) DeleteOTP(ctx context.Context, userID string, channel domain.Channel) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_codes WHERE user_id = ? AND channel = ?`,
		userID, string(channel))
	return err
}

func (r *otpCodesRepo) DeleteExpiredOTPs(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_codes WHERE expires_at <= ?`, toUnix(now))
	return err
}
