package store

import (
	"context"
	"errors"
	"time"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, and
// redis for the ephemeral OTP cache) implement this. Sub-repositories keep
// concerns tidy and testable, and make it harder to accidentally nest
// transactions.
type Store interface {
	Factors() Factors
	OTPCodes() OTPCodes
	BackupCodes() BackupCodes

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., primary
	// promotion on disable). The caller MUST call Commit() or Rollback().
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back; otherwise it
	// is committed. This is the recommended way to handle transactions.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing store is still reachable.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Factors interface {
	// CreateFactor inserts a new factor (id is provided by app via ULID).
	CreateFactor(ctx context.Context, f domain.Factor) error

	// GetFactorByID returns a factor owned by userID, regardless of status.
	GetFactorByID(ctx context.Context, userID, factorID string) (domain.Factor, error)

	// GetFactorByType returns the non-disabled factor of the given type for
	// a user. At most one such factor exists per (user, type).
	GetFactorByType(ctx context.Context, userID string, t domain.FactorType) (domain.Factor, error)

	// ListFactors returns all non-disabled factors for a user, oldest first.
	ListFactors(ctx context.Context, userID string) ([]domain.Factor, error)

	// CountActiveFactors counts ACTIVE standalone factors for a user
	// (BACKUP_CODES excluded, since it can never be primary), optionally
	// excluding one factor ID (used when deciding primary promotion).
	CountActiveFactors(ctx context.Context, userID, excludeFactorID string) (int, error)

	// ActivateFactor transitions a factor PENDING -> ACTIVE, optionally
	// marking it primary. The update is conditional on the factor still
	// being PENDING; it reports false when another caller already won the
	// transition.
	ActivateFactor(ctx context.Context, factorID string, primary bool) (bool, error)

	// DisableFactor sets status DISABLED and clears the primary flag.
	DisableFactor(ctx context.Context, factorID string) error

	// SetPrimaryFactor atomically clears the user's previous primary and
	// marks factorID primary.
	SetPrimaryFactor(ctx context.Context, userID, factorID string) error

	// PromoteOldestActive marks the user's oldest remaining ACTIVE
	// standalone factor primary, if any (BACKUP_CODES is never promoted).
	// Used after the primary factor is disabled.
	PromoteOldestActive(ctx context.Context, userID string) error

	// DeleteFactor removes a factor record (cascades to backup codes).
	// Used to supersede an abandoned PENDING setup.
	DeleteFactor(ctx context.Context, factorID string) error

	// RecordFactorUse bumps last_used_at and the verification counter.
	RecordFactorUse(ctx context.Context, factorID string, at time.Time) error

	// DeleteStalePendingFactors removes PENDING factors created before the
	// cutoff (housekeeping).
	DeleteStalePendingFactors(ctx context.Context, cutoff time.Time) error
}

type OTPCodes interface {
	// SaveOTP stores a code for (UserID, Channel), replacing any
	// outstanding code for that key.
	SaveOTP(ctx context.Context, otp domain.EphemeralOTP) error

	// ConsumeOTP atomically deletes the stored code if it matches and has
	// not expired, reporting whether this caller won. Exactly one
	// concurrent caller can observe true per outstanding code.
	ConsumeOTP(ctx context.Context, userID string, channel domain.Channel, code string, now time.Time) (bool, error)

	// DeleteOTP discards any outstanding code for the key.
	DeleteOTP(ctx context.Context, userID string, channel domain.Channel) error

	// DeleteExpiredOTPs removes codes past their expiry (housekeeping).
	DeleteExpiredOTPs(ctx context.Context, now time.Time) error
}

type BackupCodes interface {
	// ReplaceBackupCodes deletes all codes for the factor and stores the
	// new batch. Regeneration replaces, never appends.
	ReplaceBackupCodes(ctx context.Context, factorID string, codes []domain.BackupCode) error

	// ListUnusedBackupCodes returns the unused code records for a factor.
	ListUnusedBackupCodes(ctx context.Context, factorID string) ([]domain.BackupCode, error)

	// MarkBackupCodeUsed flips used conditionally on it still being unused,
	// reporting whether this caller won.
	MarkBackupCodeUsed(ctx context.Context, codeID string, at time.Time) (bool, error)

	// CountUnusedBackupCodes returns the number of unused codes for a factor.
	CountUnusedBackupCodes(ctx context.Context, factorID string) (int, error)
}
