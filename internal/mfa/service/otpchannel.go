package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
	"github.com/qoobot-com/openidaas-sub002/internal/mfa/store"
	"github.com/qoobot-com/openidaas-sub002/pkg/cryptox"
)

const (
	otpCodeLength = 6
	defaultOTPTTL = 5 * time.Minute
)

// OTPService issues and verifies short-lived codes delivered over SMS or
// email. Codes are single use and at most one is outstanding per
// (user, channel); issuing a new one supersedes the previous code.
type OTPService struct {
	Codes    store.OTPCodes
	Delivery Delivery
	Logger   *slog.Logger

	// TTL is how long an issued code stays valid. Zero means the default.
	TTL time.Duration

	// Now is overridable for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *OTPService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *OTPService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return defaultOTPTTL
}

// Issue generates a fresh code, stores it, and hands it to the delivery
// backend. A delivery failure does not invalidate the stored code; the
// user can request a resend.
func (s *OTPService) Issue(ctx context.Context, userID string, channel domain.Channel) (domain.EphemeralOTP, error) {
	code, err := cryptox.GenerateNumericCode(otpCodeLength)
	if err != nil {
		return domain.EphemeralOTP{}, fmt.Errorf("failed to generate otp code: %w", err)
	}

	now := s.now()
	otp := domain.EphemeralOTP{
		UserID:    userID,
		Channel:   channel,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl()),
	}
	if err := s.Codes.SaveOTP(ctx, otp); err != nil {
		return domain.EphemeralOTP{}, unavailable(fmt.Errorf("failed to store otp code: %w", err))
	}

	if s.Delivery != nil {
		if err := s.Delivery.SendCode(ctx, userID, channel, code); err != nil && s.Logger != nil {
			s.Logger.WarnContext(ctx, "otp delivery failed",
				slog.String("user_id", userID),
				slog.String("channel", string(channel)),
				slog.Any("error", err),
			)
		}
	}

	return otp, nil
}

// Verify consumes the outstanding code for (userID, channel) if it matches
// and has not expired. Exactly one concurrent caller can succeed per code.
func (s *OTPService) Verify(ctx context.Context, userID string, channel domain.Channel, code string) error {
	if code == "" {
		return ErrInvalidCode
	}

	won, err := s.Codes.ConsumeOTP(ctx, userID, channel, code, s.now())
	if err != nil {
		return unavailable(fmt.Errorf("failed to consume otp code: %w", err))
	}
	if !won {
		return ErrInvalidCode
	}
	return nil
}
