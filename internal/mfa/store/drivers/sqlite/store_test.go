package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
	"github.com/qoobot-com/openidaas-sub002/internal/mfa/store"
	"github.com/qoobot-com/openidaas-sub002/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func newFactor(userID string, ft domain.FactorType) domain.Factor {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Factor{
		ID:        idx.New().String(),
		UserID:    userID,
		Type:      ft,
		Status:    domain.FactorPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestFactorLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := newFactor("user-1", domain.FactorTOTP)
	f.Secret = "sealed-secret"
	require.NoError(t, s.Factors().CreateFactor(ctx, f))

	t.Run("get by id round-trips", func(t *testing.T) {
		got, err := s.Factors().GetFactorByID(ctx, "user-1", f.ID)
		require.NoError(t, err)
		require.Equal(t, f.ID, got.ID)
		require.Equal(t, domain.FactorTOTP, got.Type)
		require.Equal(t, "sealed-secret", got.Secret)
		require.Equal(t, domain.FactorPending, got.Status)
		require.True(t, got.LastUsedAt.IsZero())
	})

	t.Run("get by id scoped to owner", func(t *testing.T) {
		_, err := s.Factors().GetFactorByID(ctx, "someone-else", f.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("one live factor per user and type", func(t *testing.T) {
		dup := newFactor("user-1", domain.FactorTOTP)
		err := s.Factors().CreateFactor(ctx, dup)
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("activation is conditional on pending", func(t *testing.T) {
		won, err := s.Factors().ActivateFactor(ctx, f.ID, true)
		require.NoError(t, err)
		require.True(t, won)

		// A second transition attempt loses.
		won, err = s.Factors().ActivateFactor(ctx, f.ID, true)
		require.NoError(t, err)
		require.False(t, won)

		got, err := s.Factors().GetFactorByID(ctx, "user-1", f.ID)
		require.NoError(t, err)
		require.Equal(t, domain.FactorActive, got.Status)
		require.True(t, got.Primary)
	})

	t.Run("record use bumps counter and timestamp", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, s.Factors().RecordFactorUse(ctx, f.ID, at))

		got, err := s.Factors().GetFactorByID(ctx, "user-1", f.ID)
		require.NoError(t, err)
		require.Equal(t, int64(1), got.UseCount)
		require.Equal(t, at, got.LastUsedAt)
	})

	t.Run("disable clears primary and hides from type lookup", func(t *testing.T) {
		require.NoError(t, s.Factors().DisableFactor(ctx, f.ID))

		_, err := s.Factors().GetFactorByType(ctx, "user-1", domain.FactorTOTP)
		require.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.Factors().GetFactorByID(ctx, "user-1", f.ID)
		require.NoError(t, err)
		require.Equal(t, domain.FactorDisabled, got.Status)
		require.False(t, got.Primary)
	})

	t.Run("disabled slot can be re-registered", func(t *testing.T) {
		again := newFactor("user-1", domain.FactorTOTP)
		require.NoError(t, s.Factors().CreateFactor(ctx, again))
	})
}

func TestPrimaryPromotion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	oldest := newFactor("user-2", domain.FactorTOTP)
	middle := newFactor("user-2", domain.FactorSMS)
	newest := newFactor("user-2", domain.FactorEmail)
	for _, f := range []domain.Factor{oldest, middle, newest} {
		require.NoError(t, s.Factors().CreateFactor(ctx, f))
		won, err := s.Factors().ActivateFactor(ctx, f.ID, false)
		require.NoError(t, err)
		require.True(t, won)
	}

	t.Run("list returns oldest first", func(t *testing.T) {
		got, err := s.Factors().ListFactors(ctx, "user-2")
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.Equal(t, oldest.ID, got[0].ID)
		require.Equal(t, newest.ID, got[2].ID)
	})

	t.Run("set primary swaps atomically", func(t *testing.T) {
		require.NoError(t, s.Factors().SetPrimaryFactor(ctx, "user-2", middle.ID))

		got, err := s.Factors().GetFactorByID(ctx, "user-2", middle.ID)
		require.NoError(t, err)
		require.True(t, got.Primary)

		require.NoError(t, s.Factors().SetPrimaryFactor(ctx, "user-2", newest.ID))

		got, err = s.Factors().GetFactorByID(ctx, "user-2", middle.ID)
		require.NoError(t, err)
		require.False(t, got.Primary)
	})

	t.Run("set primary rejects non-active targets", func(t *testing.T) {
		pending := newFactor("user-2", domain.FactorBackupCodes)
		require.NoError(t, s.Factors().CreateFactor(ctx, pending))

		err := s.Factors().SetPrimaryFactor(ctx, "user-2", pending.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("promote oldest active after disable", func(t *testing.T) {
		require.NoError(t, s.Factors().DisableFactor(ctx, newest.ID))
		require.NoError(t, s.Factors().PromoteOldestActive(ctx, "user-2"))

		got, err := s.Factors().GetFactorByID(ctx, "user-2", oldest.ID)
		require.NoError(t, err)
		require.True(t, got.Primary)
	})

	t.Run("count active with exclusion", func(t *testing.T) {
		count, err := s.Factors().CountActiveFactors(ctx, "user-2", oldest.ID)
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})
}

func TestPromotionSkipsBackupFactor(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	backup := newFactor("user-7", domain.FactorBackupCodes)
	backup.Status = domain.FactorActive
	require.NoError(t, s.Factors().CreateFactor(ctx, backup))

	totp := newFactor("user-7", domain.FactorTOTP)
	require.NoError(t, s.Factors().CreateFactor(ctx, totp))
	won, err := s.Factors().ActivateFactor(ctx, totp.ID, true)
	require.NoError(t, err)
	require.True(t, won)

	t.Run("backup vault does not count toward primary election", func(t *testing.T) {
		count, err := s.Factors().CountActiveFactors(ctx, "user-7", totp.ID)
		require.NoError(t, err)
		require.Equal(t, 0, count)
	})

	t.Run("backup vault is never promoted", func(t *testing.T) {
		require.NoError(t, s.Factors().DisableFactor(ctx, totp.ID))
		require.NoError(t, s.Factors().PromoteOldestActive(ctx, "user-7"))

		got, err := s.Factors().GetFactorByID(ctx, "user-7", backup.ID)
		require.NoError(t, err)
		require.Equal(t, domain.FactorActive, got.Status)
		require.False(t, got.Primary)
	})

	t.Run("later standalone factor is promoted over the older vault", func(t *testing.T) {
		sms := newFactor("user-7", domain.FactorSMS)
		require.NoError(t, s.Factors().CreateFactor(ctx, sms))
		won, err := s.Factors().ActivateFactor(ctx, sms.ID, false)
		require.NoError(t, err)
		require.True(t, won)

		require.NoError(t, s.Factors().PromoteOldestActive(ctx, "user-7"))

		got, err := s.Factors().GetFactorByID(ctx, "user-7", sms.ID)
		require.NoError(t, err)
		require.True(t, got.Primary)
	})
}

func TestStalePendingCleanup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	stale := newFactor("user-3", domain.FactorTOTP)
	stale.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Factors().CreateFactor(ctx, stale))

	fresh := newFactor("user-3", domain.FactorSMS)
	require.NoError(t, s.Factors().CreateFactor(ctx, fresh))

	require.NoError(t, s.Factors().DeleteStalePendingFactors(ctx, time.Now().Add(-time.Hour)))

	_, err := s.Factors().GetFactorByID(ctx, "user-3", stale.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Factors().GetFactorByID(ctx, "user-3", fresh.ID)
	require.NoError(t, err)
}

func TestOTPCodes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	otp := domain.EphemeralOTP{
		UserID:    "user-4",
		Channel:   domain.ChannelSMS,
		Code:      "123456",
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	require.NoError(t, s.OTPCodes().SaveOTP(ctx, otp))

	t.Run("wrong code does not consume", func(t *testing.T) {
		won, err := s.OTPCodes().ConsumeOTP(ctx, "user-4", domain.ChannelSMS, "654321", now)
		require.NoError(t, err)
		require.False(t, won)
	})

	t.Run("consume wins exactly once", func(t *testing.T) {
		won, err := s.OTPCodes().ConsumeOTP(ctx, "user-4", domain.ChannelSMS, "123456", now)
		require.NoError(t, err)
		require.True(t, won)

		won, err = s.OTPCodes().ConsumeOTP(ctx, "user-4", domain.ChannelSMS, "123456", now)
		require.NoError(t, err)
		require.False(t, won)
	})

	t.Run("new code supersedes outstanding one", func(t *testing.T) {
		require.NoError(t, s.OTPCodes().SaveOTP(ctx, otp))

		next := otp
		next.Code = "777888"
		require.NoError(t, s.OTPCodes().SaveOTP(ctx, next))

		won, err := s.OTPCodes().ConsumeOTP(ctx, "user-4", domain.ChannelSMS, "123456", now)
		require.NoError(t, err)
		require.False(t, won)

		won, err = s.OTPCodes().ConsumeOTP(ctx, "user-4", domain.ChannelSMS, "777888", now)
		require.NoError(t, err)
		require.True(t, won)
	})

	t.Run("expired code is not consumable", func(t *testing.T) {
		require.NoError(t, s.OTPCodes().SaveOTP(ctx, otp))

		won, err := s.OTPCodes().ConsumeOTP(ctx, "user-4", domain.ChannelSMS, "123456", now.Add(10*time.Minute))
		require.NoError(t, err)
		require.False(t, won)
	})

	t.Run("expired sweep removes old codes", func(t *testing.T) {
		require.NoError(t, s.OTPCodes().SaveOTP(ctx, otp))
		require.NoError(t, s.OTPCodes().DeleteExpiredOTPs(ctx, now.Add(10*time.Minute)))

		won, err := s.OTPCodes().ConsumeOTP(ctx, "user-4", domain.ChannelSMS, "123456", now)
		require.NoError(t, err)
		require.False(t, won)
	})
}

func TestBackupCodes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := newFactor("user-5", domain.FactorBackupCodes)
	f.Status = domain.FactorActive
	require.NoError(t, s.Factors().CreateFactor(ctx, f))

	makeBatch := func(n int) []domain.BackupCode {
		codes := make([]domain.BackupCode, n)
		for i := range codes {
			codes[i] = domain.BackupCode{
				ID:       idx.New().String(),
				FactorID: f.ID,
				Salt:     "salt",
				CodeHash: "hash",
			}
		}
		return codes
	}

	first := makeBatch(10)
	require.NoError(t, s.BackupCodes().ReplaceBackupCodes(ctx, f.ID, first))

	t.Run("list and count unused", func(t *testing.T) {
		unused, err := s.BackupCodes().ListUnusedBackupCodes(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, unused, 10)

		count, err := s.BackupCodes().CountUnusedBackupCodes(ctx, f.ID)
		require.NoError(t, err)
		require.Equal(t, 10, count)
	})

	t.Run("mark used wins exactly once", func(t *testing.T) {
		won, err := s.BackupCodes().MarkBackupCodeUsed(ctx, first[0].ID, time.Now())
		require.NoError(t, err)
		require.True(t, won)

		won, err = s.BackupCodes().MarkBackupCodeUsed(ctx, first[0].ID, time.Now())
		require.NoError(t, err)
		require.False(t, won)

		count, err := s.BackupCodes().CountUnusedBackupCodes(ctx, f.ID)
		require.NoError(t, err)
		require.Equal(t, 9, count)
	})

	t.Run("regeneration replaces rather than appends", func(t *testing.T) {
		second := makeBatch(5)
		require.NoError(t, s.BackupCodes().ReplaceBackupCodes(ctx, f.ID, second))

		count, err := s.BackupCodes().CountUnusedBackupCodes(ctx, f.ID)
		require.NoError(t, err)
		require.Equal(t, 5, count)
	})

	t.Run("failed transactional replace keeps the old batch", func(t *testing.T) {
		count, err := s.BackupCodes().CountUnusedBackupCodes(ctx, f.ID)
		require.NoError(t, err)

		err = s.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.BackupCodes().ReplaceBackupCodes(ctx, f.ID, makeBatch(3)); err != nil {
				return err
			}
			return context.Canceled
		})
		require.ErrorIs(t, err, context.Canceled)

		after, err := s.BackupCodes().CountUnusedBackupCodes(ctx, f.ID)
		require.NoError(t, err)
		require.Equal(t, count, after)
	})

	t.Run("deleting the factor cascades", func(t *testing.T) {
		require.NoError(t, s.Factors().DeleteFactor(ctx, f.ID))

		count, err := s.BackupCodes().CountUnusedBackupCodes(ctx, f.ID)
		require.NoError(t, err)
		require.Equal(t, 0, count)
	})
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := newFactor("user-6", domain.FactorTOTP)
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Factors().CreateFactor(ctx, f); err != nil {
			return err
		}
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.Factors().GetFactorByID(ctx, "user-6", f.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
