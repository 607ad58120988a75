package domain

import (
	"log/slog"
	"time"
)

// Event names emitted by the verification flow.
const (
	EventVerifySuccess = "mfa_verify_success"
	EventVerifyFailure = "mfa_verify_failure"
	EventRateLimited   = "mfa_rate_limited"
)

// Event is an advisory record of a verification outcome, consumed by
// audit/alerting pipelines outside this core.
type Event struct {
	Name       string
	UserID     string
	FactorType FactorType
	ClientIP   string
	At         time.Time
}

// EventSink receives verification events. Implementations must be safe for
// concurrent use. Sinks are advisory: the verification flow never blocks on
// or fails because of a sink.
type EventSink interface {
	Emit(e Event)
}

// LogSink is an EventSink that writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(e Event) {
	s.Logger.Info("mfa event",
		"event", e.Name,
		"user_id", e.UserID,
		"factor_type", string(e.FactorType),
		"client_ip", e.ClientIP,
		"at", e.At,
	)
}
