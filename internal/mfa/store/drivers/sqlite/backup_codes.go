package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/qoobot-com/openidaas-sub002/internal/mfa/domain"
)

type backupCodesRepo struct {
	db dbtx
}

func (r *backupCodesRepo) ReplaceBackupCodes(ctx context.Context, factorID string, codes []domain.BackupCode) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM backup_codes WHERE factor_id = ?`, factorID); err != nil {
		return err
	}
	for _, c := range codes {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO backup_codes (id, factor_id, salt, code_hash, used, used_at)
			VALUES (?, ?, ?, ?, 0, NULL)`,
			c.ID, factorID, c.Salt, c.CodeHash); err != nil {
			return err
		}
	}
	return nil
}

func (r *backupCodesRepo) ListUnusedBackupCodes(ctx context.Context, factorID string) ([]domain.BackupCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, factor_id, salt, code_hash, used, used_at FROM backup_codes
		WHERE factor_id = ? AND used = 0
		ORDER BY id ASC`, factorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BackupCode
	for rows.Next() {
		var (
			c      domain.BackupCode
			used   int64
			usedAt sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.FactorID, &c.Salt, &c.CodeHash, &used, &usedAt); err != nil {
			return nil, err
		}
		c.Used = used != 0
		c.UsedAt = fromNullUnix(usedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *backupCodesRepo) MarkBackupCodeUsed(ctx context.Context, codeID string, at time.Time) (bool, error) {
	// Conditional on still-unused so a code verifies exactly once.
	res, err := r.db.ExecContext(ctx, `
		UPDATE backup_codes SET used = 1, used_at = ?
		WHERE id = ? AND used = 0`, toUnix(at), codeID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *backupCodesRepo) CountUnusedBackupCodes(ctx context.Context, factorID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM backup_codes
		WHERE factor_id = ? AND used = 0`, factorID).Scan(&count)
	return count, err
}
