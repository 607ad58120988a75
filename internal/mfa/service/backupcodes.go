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
)

const (
	backupCodeCount  = 10
	backupCodeLength = 10

	// lowBackupCodeThreshold triggers a warning log when the pool runs low
	// after a successful consumption.
	lowBackupCodeThreshold = 3
)

// BackupCodeService manages single-use recovery codes. Backup codes are a
// fallback for an existing factor, so generation requires at least one
// ACTIVE standalone factor. Only salted fingerprints are stored; the
// plaintext batch is returned exactly once.
type BackupCodeService struct {
	Store  store.Store
	Logger *slog.Logger

	// Now is overridable for tests. Nil means time.Now.
	Now func() time.Time
}

func (s *BackupCodeService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Generate creates a fresh batch of backup codes for the user, replacing
// any previous batch. A non-positive count means the default batch size.
// The BACKUP_CODES factor record is created on first use; it is ACTIVE
// immediately and never primary.
func (s *BackupCodeService) Generate(ctx context.Context, userID string, count int) ([]string, error) {
	if count <= 0 {
		count = backupCodeCount
	}
	hasStandalone, err := s.hasActiveStandaloneFactor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !hasStandalone {
		return nil, ErrNoMFAConfigured
	}

	factorID, err := s.ensureBackupFactor(ctx, userID)
	if err != nil {
		return nil, err
	}

	plaintext := make([]string, count)
	records := make([]domain.BackupCode, count)
	for i := range records {
		code, err := cryptox.GenerateAlphanumericCode(backupCodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		salt, err := cryptox.GenerateSalt()
		if err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		plaintext[i] = code
		records[i] = domain.BackupCode{
			ID:       idx.New().String(),
			FactorID: factorID,
			Salt:     salt,
			CodeHash: cryptox.FingerprintCode(salt, code),
		}
	}

	// Replace in one transaction so a mid-batch failure cannot leave the
	// user with the old batch destroyed and the new one partial.
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.BackupCodes().ReplaceBackupCodes(ctx, factorID, records)
	})
	if err != nil {
		return nil, unavailable(fmt.Errorf("failed to store backup codes: %w", err))
	}

	return plaintext, nil
}

// Consume verifies a backup code and burns it. It returns the number of
// unused codes remaining after this one.
func (s *BackupCodeService) Consume(ctx context.Context, userID, code string) (int, error) {
	if code == "" {
		return 0, ErrInvalidCode
	}

	factor, err := s.Store.Factors().GetFactorByType(ctx, userID, domain.FactorBackupCodes)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrInvalidCode
		}
		return 0, unavailable(fmt.Errorf("failed to load backup factor: %w", err))
	}

	unused, err := s.Store.BackupCodes().ListUnusedBackupCodes(ctx, factor.ID)
	if err != nil {
		return 0, unavailable(fmt.Errorf("failed to list backup codes: %w", err))
	}

	for _, candidate := range unused {
		if !cryptox.VerifyCodeFingerprint(candidate.Salt, code, candidate.CodeHash) {
			continue
		}

		// Conditional flip so a replayed code loses even under races.
		won, err := s.Store.BackupCodes().MarkBackupCodeUsed(ctx, candidate.ID, s.now())
		if err != nil {
			return 0, unavailable(fmt.Errorf("failed to mark backup code used: %w", err))
		}
		if !won {
			return 0, ErrInvalidCode
		}

		remaining := len(unused) - 1
		if remaining < lowBackupCodeThreshold && s.Logger != nil {
			s.Logger.WarnContext(ctx, "backup codes running low",
				slog.String("user_id", userID),
				slog.Int("remaining", remaining),
			)
		}
		return remaining, nil
	}

	return 0, ErrInvalidCode
}

// Remaining reports how many unused backup codes the user has left. Zero
// with no error means none remain or none were ever generated.
func (s *BackupCodeService) Remaining(ctx context.Context, userID string) (int, error) {
	factor, err := s.Store.Factors().GetFactorByType(ctx, userID, domain.FactorBackupCodes)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, unavailable(fmt.Errorf("failed to load backup factor: %w", err))
	}

	count, err := s.Store.BackupCodes().CountUnusedBackupCodes(ctx, factor.ID)
	if err != nil {
		return 0, unavailable(fmt.Errorf("failed to count backup codes: %w", err))
	}
	return count, nil
}

// hasActiveStandaloneFactor reports whether the user has at least one
// ACTIVE factor other than BACKUP_CODES.
func (s *BackupCodeService) hasActiveStandaloneFactor(ctx context.Context, userID string) (bool, error) {
	factors, err := s.Store.Factors().ListFactors(ctx, userID)
	if err != nil {
		return false, unavailable(fmt.Errorf("failed to list factors: %w", err))
	}
	for _, f := range factors {
		if f.Status == domain.FactorActive && f.Type != domain.FactorBackupCodes {
			return true, nil
		}
	}
	return false, nil
}

// ensureBackupFactor returns the user's BACKUP_CODES factor ID, creating
// the record if this is the first batch.
func (s *BackupCodeService) ensureBackupFactor(ctx context.Context, userID string) (string, error) {
	factor, err := s.Store.Factors().GetFactorByType(ctx, userID, domain.FactorBackupCodes)
	if err == nil {
		return factor.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", unavailable(fmt.Errorf("failed to load backup factor: %w", err))
	}

	now := s.now()
	created := domain.Factor{
		ID:        idx.New().String(),
		UserID:    userID,
		Type:      domain.FactorBackupCodes,
		Status:    domain.FactorActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Factors().CreateFactor(ctx, created); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost a creation race; the other record wins.
			existing, getErr := s.Store.Factors().GetFactorByType(ctx, userID, domain.FactorBackupCodes)
			if getErr != nil {
				return "", unavailable(fmt.Errorf("failed to load backup factor: %w", getErr))
			}
			return existing.ID, nil
		}
		return "", unavailable(fmt.Errorf("failed to create backup factor: %w", err))
	}
	return created.ID, nil
}
