package domain

import "time"

// Channel is a delivery channel for ephemeral one-time codes.
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
)

// ChannelForFactor maps an SMS/EMAIL factor type to its delivery channel.
func ChannelForFactor(t FactorType) (Channel, bool) {
	switch t {
	case FactorSMS:
		return ChannelSMS, true
	case FactorEmail:
		return ChannelEmail, true
	}
	return "", false
}

// EphemeralOTP is a short-lived, single-use code delivered out of band.
// At most one code is outstanding per (UserID, Channel); issuing a new one
// supersedes the previous code immediately.
type EphemeralOTP struct {
	UserID    string
	Channel   Channel
	Code      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the code is no longer valid at now.
func (o EphemeralOTP) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
