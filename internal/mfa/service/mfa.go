package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
	"github.com/qoobot-com/openidaas-sub002/internal/mfa/store"
	"github.com/qoobot-com/openidaas-sub002/pkg/cryptox"
	"github.com/qoobot-com/openidaas-sub002/pkg/idx"
	"github.com/qoobot-com/openidaas-sub002/pkg/throttle"
	"github.com/qoobot-com/openidaas-sub002/pkg/totpx"
)

// ThrottleScope is the rate limit scope shared by all verification
// attempts, keyed per user and per client IP independently.
const ThrottleScope = throttle.ScopeMFAVerify

// MFAService orchestrates factor lifecycle and verification. It owns the
// throttle and event emission; code checks are delegated to the TOTP
// engine, the OTP channel service, and the backup code service.
type MFAService struct {
	Store    store.Store
	Throttle *throttle.Limiter
	OTP      *OTPService
	Backup   *BackupCodeService
	Events   domain.EventSink
	Secrets  *cryptox.SecretBox
	Issuer   string
	Logger   *slog.Logger

	// DisableCheck, when set, can veto disabling a factor. Account tiers
	// with mandatory MFA hang their policy here; nil allows every disable.
	DisableCheck func(ctx context.Context, userID string, factor domain.Factor) error

	// Now is overridable for tests. Nil means time.Now.
	Now func() time.Time
}

// VerifyRequest carries one verification attempt.
type VerifyRequest struct {
	UserID   string
	Type     domain.FactorType
	Code     string
	ClientIP string // empty skips the per-IP throttle key
}

func (s *MFAService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// secretScope binds sealed TOTP seeds to their owner, so a blob copied
// onto another user's row will not decrypt.
func secretScope(userID string) string {
	return "totp:" + userID
}

// BeginSetup registers a new factor for the user and returns the one-time
// setup material. The factor starts PENDING and becomes ACTIVE on the
// first successful Verify, except BACKUP_CODES which is usable
// immediately. An abandoned PENDING factor of the same type is superseded;
// an ACTIVE one must be disabled first.
func (s *MFAService) BeginSetup(ctx context.Context, userID, accountName string, factorType domain.FactorType) (domain.SetupMaterial, error) {
	if !factorType.Valid() {
		return domain.SetupMaterial{}, fmt.Errorf("unknown factor type %q", factorType)
	}

	if factorType == domain.FactorBackupCodes {
		return s.beginBackupCodes(ctx, userID)
	}

	existing, err := s.Store.Factors().GetFactorByType(ctx, userID, factorType)
	switch {
	case err == nil && existing.Status == domain.FactorActive:
		return domain.SetupMaterial{}, ErrFactorExists
	case err == nil:
		// Supersede the abandoned PENDING setup.
		if err := s.Store.Factors().DeleteFactor(ctx, existing.ID); err != nil {
			return domain.SetupMaterial{}, unavailable(fmt.Errorf("failed to supersede pending factor: %w", err))
		}
	case !errors.Is(err, store.ErrNotFound):
		return domain.SetupMaterial{}, unavailable(fmt.Errorf("failed to look up factor: %w", err))
	}

	now := s.now()
	factor := domain.Factor{
		ID:        idx.New().String(),
		UserID:    userID,
		Type:      factorType,
		Status:    domain.FactorPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	material := domain.SetupMaterial{
		FactorID: factor.ID,
		Type:     factorType,
	}

	if factorType == domain.FactorTOTP {
		secret, err := totpx.GenerateSecret()
		if err != nil {
			return domain.SetupMaterial{}, fmt.Errorf("failed to generate totp secret: %w", err)
		}
		uri, err := totpx.ProvisioningURI(secret, accountName, s.Issuer)
		if err != nil {
			return domain.SetupMaterial{}, fmt.Errorf("failed to build provisioning uri: %w", err)
		}
		sealed, err := s.Secrets.Seal(secretScope(userID), secret)
		if err != nil {
			return domain.SetupMaterial{}, fmt.Errorf("failed to seal totp secret: %w", err)
		}
		factor.Secret = sealed
		material.Secret = secret
		material.ProvisioningURI = uri
		material.RemainingSeconds = totpx.RemainingValidity(now)
	}

	if err := s.Store.Factors().CreateFactor(ctx, factor); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.SetupMaterial{}, ErrFactorExists
		}
		return domain.SetupMaterial{}, unavailable(fmt.Errorf("failed to create factor: %w", err))
	}

	// Channel factors get their first code immediately so the user can
	// confirm ownership.
	if channel, ok := domain.ChannelForFactor(factorType); ok {
		if _, err := s.OTP.Issue(ctx, userID, channel); err != nil {
			return domain.SetupMaterial{}, err
		}
	}

	return material, nil
}

func (s *MFAService) beginBackupCodes(ctx context.Context, userID string) (domain.SetupMaterial, error) {
	codes, err := s.Backup.Generate(ctx, userID, 0)
	if err != nil {
		return domain.SetupMaterial{}, err
	}
	factor, err := s.Store.Factors().GetFactorByType(ctx, userID, domain.FactorBackupCodes)
	if err != nil {
		return domain.SetupMaterial{}, unavailable(fmt.Errorf("failed to load backup factor: %w", err))
	}
	return domain.SetupMaterial{
		FactorID:    factor.ID,
		Type:        domain.FactorBackupCodes,
		BackupCodes: codes,
	}, nil
}

// SendChallenge issues a fresh code for an existing SMS or EMAIL factor,
// for login-time verification or a resend.
func (s *MFAService) SendChallenge(ctx context.Context, userID string, factorType domain.FactorType) error {
	channel, ok := domain.ChannelForFactor(factorType)
	if !ok {
		return fmt.Errorf("factor type %q has no delivery channel", factorType)
	}

	if _, err := s.Store.Factors().GetFactorByType(ctx, userID, factorType); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFactorNotFound
		}
		return unavailable(fmt.Errorf("failed to look up factor: %w", err))
	}

	_, err := s.OTP.Issue(ctx, userID, channel)
	return err
}

// Verify checks a code against the user's factor of the given type. The
// throttle runs before any code comparison, and a rejected attempt never
// reveals whether the code was wrong, expired, or replayed.
func (s *MFAService) Verify(ctx context.Context, req VerifyRequest) (domain.VerificationResult, error) {
	now := s.now()

	if !s.allow(req, now) {
		s.emit(domain.EventRateLimited, req, now)
		return domain.VerificationResult{}, ErrRateLimited
	}

	factor, err := s.Store.Factors().GetFactorByType(ctx, req.UserID, req.Type)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.emit(domain.EventVerifyFailure, req, now)
			return domain.VerificationResult{}, ErrInvalidCode
		}
		return domain.VerificationResult{}, unavailable(fmt.Errorf("failed to look up factor: %w", err))
	}

	result := domain.VerificationResult{
		FactorID: factor.ID,
		Type:     factor.Type,
		Primary:  factor.Primary,
	}

	switch factor.Type {
	case domain.FactorTOTP:
		secret, openErr := s.Secrets.Open(secretScope(req.UserID), factor.Secret)
		if openErr != nil {
			return domain.VerificationResult{}, unavailable(fmt.Errorf("failed to open totp secret: %w", openErr))
		}
		if !totpx.Verify(secret, req.Code, now) {
			err = ErrInvalidCode
		}

	case domain.FactorSMS, domain.FactorEmail:
		channel, _ := domain.ChannelForFactor(factor.Type)
		err = s.OTP.Verify(ctx, req.UserID, channel, req.Code)

	case domain.FactorBackupCodes:
		result.Remaining, err = s.Backup.Consume(ctx, req.UserID, req.Code)

	default:
		err = ErrInvalidCode
	}

	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			s.emit(domain.EventVerifyFailure, req, now)
		}
		return domain.VerificationResult{}, err
	}

	if factor.Status == domain.FactorPending {
		activated, promoted, err := s.activate(ctx, factor)
		if err != nil {
			return domain.VerificationResult{}, err
		}
		result.Activated = activated
		result.Primary = promoted
	}

	// Usage bookkeeping is best effort; a failure here must not undo a
	// correct verification.
	if err := s.Store.Factors().RecordFactorUse(ctx, factor.ID, now); err != nil && s.Logger != nil {
		s.Logger.WarnContext(ctx, "failed to record factor use",
			slog.String("factor_id", factor.ID),
			slog.Any("error", err),
		)
	}

	s.emit(domain.EventVerifySuccess, req, now)
	return result, nil
}

// activate transitions a PENDING factor to ACTIVE. The first activated
// standalone factor becomes primary. Reports whether this call won the
// transition (a concurrent verification may already have) and whether the
// factor ended up primary.
func (s *MFAService) activate(ctx context.Context, factor domain.Factor) (won, primary bool, err error) {
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		active, err := tx.Factors().CountActiveFactors(ctx, factor.UserID, factor.ID)
		if err != nil {
			return fmt.Errorf("failed to count active factors: %w", err)
		}
		primary = active == 0 && factor.Type != domain.FactorBackupCodes

		won, err = tx.Factors().ActivateFactor(ctx, factor.ID, primary)
		if err != nil {
			return fmt.Errorf("failed to activate factor: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, false, unavailable(err)
	}
	return won, won && primary, nil
}

// Disable turns a factor off. If it was primary, the oldest remaining
// ACTIVE factor is promoted in the same transaction.
func (s *MFAService) Disable(ctx context.Context, userID, factorID string) error {
	factor, err := s.Store.Factors().GetFactorByID(ctx, userID, factorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFactorNotFound
		}
		return unavailable(fmt.Errorf("failed to look up factor: %w", err))
	}

	if s.DisableCheck != nil {
		if err := s.DisableCheck(ctx, userID, factor); err != nil {
			return err
		}
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Factors().DisableFactor(ctx, factor.ID); err != nil {
			return fmt.Errorf("failed to disable factor: %w", err)
		}
		if factor.Primary {
			if err := tx.Factors().PromoteOldestActive(ctx, userID); err != nil {
				return fmt.Errorf("failed to promote replacement primary: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// SetPrimary marks an ACTIVE factor as the user's primary, demoting the
// previous one atomically.
func (s *MFAService) SetPrimary(ctx context.Context, userID, factorID string) error {
	factor, err := s.Store.Factors().GetFactorByID(ctx, userID, factorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFactorNotFound
		}
		return unavailable(fmt.Errorf("failed to look up factor: %w", err))
	}
	if factor.Status != domain.FactorActive {
		return ErrFactorNotActive
	}
	if factor.Type == domain.FactorBackupCodes {
		return ErrFactorNotActive
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Factors().SetPrimaryFactor(ctx, userID, factorID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrFactorNotFound
		}
		return unavailable(err)
	}
	return nil
}

// ListFactors returns the user's non-disabled factors, oldest first, with
// sealed secrets stripped.
func (s *MFAService) ListFactors(ctx context.Context, userID string) ([]domain.Factor, error) {
	factors, err := s.Store.Factors().ListFactors(ctx, userID)
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to list factors: %w", err))
	}
	for i := range factors {
		factors[i].Secret = ""
	}
	return factors, nil
}

// IsMFAEnabled reports whether the user has at least one ACTIVE factor.
// Backup codes count: a user who disabled their standalone factor but
// still holds usable recovery codes can complete a challenge with them.
func (s *MFAService) IsMFAEnabled(ctx context.Context, userID string) (bool, error) {
	factors, err := s.Store.Factors().ListFactors(ctx, userID)
	if err != nil {
		return false, unavailable(fmt.Errorf("failed to list factors: %w", err))
	}
	for _, f := range factors {
		if f.Status == domain.FactorActive {
			return true, nil
		}
	}
	return false, nil
}

// allow consults the throttle for both the user and client IP keys. Both
// must have budget; either one exhausted rejects the attempt.
func (s *MFAService) allow(req VerifyRequest, now time.Time) bool {
	if s.Throttle == nil {
		return true
	}
	ok := s.Throttle.TryAcquireN("user:"+req.UserID, ThrottleScope, 1, now)
	if req.ClientIP != "" {
		// Acquire the IP token even if the user key was exhausted, so
		// a spray across users still drains the IP budget.
		ipOK := s.Throttle.TryAcquireN("ip:"+req.ClientIP, ThrottleScope, 1, now)
		ok = ok && ipOK
	}
	return ok
}

// emit is advisory: a misbehaving sink must never fail or crash the
// verification call it decorates.
func (s *MFAService) emit(name string, req VerifyRequest, at time.Time) {
	if s.Events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if s.Logger != nil {
				s.Logger.Error("event sink panicked", "event", name, "panic", r)
			}
		}
	}()
	s.Events.Emit(domain.Event{
		Name:       name,
		UserID:     req.UserID,
		FactorType: req.Type,
		ClientIP:   req.ClientIP,
		At:         at,
	})
}
