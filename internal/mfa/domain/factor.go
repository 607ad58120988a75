package domain

import "time"

// FactorType identifies the kind of authentication factor.
type FactorType string

const (
	FactorTOTP        FactorType = "TOTP"
	FactorSMS         FactorType = "SMS"
	FactorEmail       FactorType = "EMAIL"
	FactorBackupCodes FactorType = "BACKUP_CODES"
)

// Valid reports whether t is a known factor type.
func (t FactorType) Valid() bool {
	switch t {
	case FactorTOTP, FactorSMS, FactorEmail, FactorBackupCodes:
		return true
	}
	return false
}

// Channel reports whether the factor verifies via a delivered ephemeral
// code rather than a shared secret.
func (t FactorType) Channel() bool {
	return t == FactorSMS || t == FactorEmail
}

// FactorStatus is the lifecycle state of a factor.
//
// PENDING factors become ACTIVE exactly once, on the first successful
// verification after setup. DISABLED is terminal; re-enabling requires a
// new PENDING record.
type FactorStatus string

const (
	FactorPending  FactorStatus = "PENDING"
	FactorActive   FactorStatus = "ACTIVE"
	FactorDisabled FactorStatus = "DISABLED"
)

// Factor is a single authentication method instance bound to a user.
type Factor struct {
	ID         string // ULID
	UserID     string
	Type       FactorType
	Secret     string // encrypted TOTP seed; empty for other types
	Status     FactorStatus
	Primary    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsedAt time.Time // zero until first successful verification
	UseCount   int64     // successful verifications against this factor
}

// SetupMaterial is returned to the caller exactly once when a factor is
// created. The plaintext secret and backup codes are never retrievable
// afterwards.
type SetupMaterial struct {
	FactorID         string
	Type             FactorType
	Secret           string   // plaintext Base32 TOTP secret
	ProvisioningURI  string   // otpauth:// URI for authenticator apps
	RemainingSeconds int      // validity left in the current TOTP step
	BackupCodes      []string // plaintext backup codes
}

// VerificationResult describes a successful verification.
type VerificationResult struct {
	FactorID  string
	Type      FactorType
	Activated bool // this call transitioned the factor PENDING -> ACTIVE
	Primary   bool // the factor is the user's primary after this call
	// Remaining is the number of unused backup codes left, only set for
	// BACKUP_CODES verifications.
	Remaining int
}
