package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
	"github.com/qoobot-com/openidaas-sub002/internal/mfa/store"
)

type factorsRepo struct {
	db dbtx
}

const factorColumns = `id, user_id, factor_type, secret, status, is_primary, created_at, updated_at, last_used_at, use_count`

func scanFactor(row interface{ Scan(...any) error }) (domain.Factor, error) {
	var (
		f          domain.Factor
		primary    int64
		createdAt  int64
		updatedAt  int64
		lastUsedAt sql.NullInt64
	)
	err := row.Scan(&f.ID, &f.UserID, &f.Type, &f.Secret, &f.Status, &primary,
		&createdAt, &updatedAt, &lastUsedAt, &f.UseCount)
	if err != nil {
		return domain.Factor{}, err
	}
	f.Primary = primary != 0
	f.CreatedAt = fromUnix(createdAt)
	f.UpdatedAt = fromUnix(updatedAt)
	f.LastUsedAt = fromNullUnix(lastUsedAt)
	return f, nil
}

func (r *factorsRepo) CreateFactor(ctx context.Context, f domain.Factor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_factors (id, user_id, factor_type, secret, status, is_primary, created_at, updated_at, last_used_at, use_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, string(f.Type), f.Secret, string(f.Status), boolToInt(f.Primary),
		toUnix(f.CreatedAt), toUnix(f.UpdatedAt), toNullUnix(f.LastUsedAt), f.UseCount,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *factorsRepo) GetFactorByID(ctx context.Context, userID, factorID string) (domain.Factor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+factorColumns+` FROM mfa_factors
		WHERE id = ? AND user_id = ?`, factorID, userID)
	f, err := scanFactor(row)
	if err != nil {
		return domain.Factor{}, mapNotFound(err)
	}
	return f, nil
}

func (r *factorsRepo) GetFactorByType(ctx context.Context, userID string, t domain.FactorType) (domain.Factor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+factorColumns+` FROM mfa_factors
		WHERE user_id = ? AND factor_type = ? AND status != 'DISABLED'`, userID, string(t))
	f, err := scanFactor(row)
	if err != nil {
		return domain.Factor{}, mapNotFound(err)
	}
	return f, nil
}

func (r *factorsRepo) ListFactors(ctx context.Context, userID string) ([]domain.Factor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+factorColumns+` FROM mfa_factors
		WHERE user_id = ? AND status != 'DISABLED'
		ORDER BY id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Factor
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *factorsRepo) CountActiveFactors(ctx context.Context, userID, excludeFactorID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mfa_factors
		WHERE user_id = ? AND status = 'ACTIVE' AND id != ?
		  AND factor_type != 'BACKUP_CODES'`, userID, excludeFactorID).Scan(&count)
	return count, err
}

func (r *factorsRepo) ActivateFactor(ctx context.Context, factorID string, primary bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_factors
		SET status = 'ACTIVE', is_primary = ?, updated_at = unixepoch()
		WHERE id = ? AND status = 'PENDING'`, boolToInt(primary), factorID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *factorsRepo) DisableFactor(ctx context.Context, factorID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_factors
		SET status = 'DISABLED', is_primary = 0, updated_at = unixepoch()
		WHERE id = ?`, factorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *factorsRepo) SetPrimaryFactor(ctx context.Context, userID, factorID string) error {
	// Clear then set; callers wrap this in a transaction when atomicity
	// against concurrent writers matters.
	if _, err := r.db.ExecContext(ctx, `
		UPDATE mfa_factors SET is_primary = 0, updated_at = unixepoch()
		WHERE user_id = ? AND is_primary = 1`, userID); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_factors SET is_primary = 1, updated_at = unixepoch()
		WHERE id = ? AND user_id = ? AND status = 'ACTIVE'`, factorID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *factorsRepo) PromoteOldestActive(ctx context.Context, userID string) error {
	// ULIDs sort by creation time, so MIN(id) is the oldest factor.
	// BACKUP_CODES is a fallback method and never becomes primary.
	_, err := r.db.ExecContext(ctx, `
		UPDATE mfa_factors SET is_primary = 1, updated_at = unixepoch()
		WHERE id = (
			SELECT MIN(id) FROM mfa_factors
			WHERE user_id = ? AND status = 'ACTIVE'
			  AND factor_type != 'BACKUP_CODES'
		)`, userID)
	return err
}

func (r *factorsRepo) DeleteFactor(ctx context.Context, factorID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_factors WHERE id = ?`, factorID)
	return err
}

func (r *factorsRepo) RecordFactorUse(ctx context.Context, factorID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mfa_factors
		SET last_used_at = ?, use_count = use_count + 1, updated_at = unixepoch()
		WHERE id = ?`, toUnix(at), factorID)
	return err
}

func (r *factorsRepo) DeleteStalePendingFactors(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM mfa_factors
		WHERE status = 'PENDING' AND created_at < ?`, toUnix(cutoff))
	return err
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
