package service

import (
	"context"
	"log/slog"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
)

// Delivery sends an ephemeral code to the user over an out-of-band channel.
// Implementations talk to an SMS gateway or mail relay; the code itself is
// generated and stored before SendCode is called.
type Delivery interface {
	SendCode(ctx context.Context, userID string, channel domain.Channel, code string) error
}

// LogDelivery writes codes to the log instead of sending them. Useful for
// development and tests only.
type LogDelivery struct {
	Logger *slog.Logger
}

func (d LogDelivery) SendCode(ctx context.Context, userID string, channel domain.Channel, code string) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "otp code issued",
		slog.String("user_id", userID),
		slog.String("channel", string(channel)),
		slog.String("code", code),
	)
	return nil
}

// NopDelivery drops codes silently.
type NopDelivery struct{}

func (NopDelivery) SendCode(ctx context.Context, userID string, channel domain.Channel, code string) error {
	return nil
}
