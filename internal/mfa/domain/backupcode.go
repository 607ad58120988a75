package domain

import "time"

// BackupCode is a single-use recovery code record. Only the salted hash is
// stored; the plaintext is shown to the user once at generation time.
type BackupCode struct {
	ID       string // ULID
	FactorID string
	Salt     string
	CodeHash string
	Used     bool
	UsedAt   time.Time
}
