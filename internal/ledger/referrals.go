package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/inkerlabs/chartscan-bot/internal/models"
)

// LinkReferral credits both sides of a referral exactly once. It returns
// false without side effects when the code does not resolve, when the user
// tries to refer themselves, or when the referred user was linked before.
// On success the referral row, both bonus credits, the referred_by pointer
// and the ledger transactions land in one transaction.
func (s *Store) LinkReferral(ctx context.Context, referrerCode string, referredID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var referrerID int64
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM accounts WHERE referral_code = ?`, referrerCode).Scan(&referrerID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve referral code: %w", err)
	}
	if referrerID == referredID {
		return false, nil
	}

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM referrals WHERE referred_id = ?`, referredID).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check existing referral: %w", err)
	}

	const insert = `
INSERT INTO referrals (referrer_id, referred_id, bonus_awarded, created_at)
VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, referrerID, referredID, s.params.ReferralReward, s.now().UTC()); err != nil {
		return false, fmt.Errorf("insert referral: %w", err)
	}

	const linkReferred = `
UPDATE accounts SET referred_by = ?, bonus_balance = bonus_balance + ?
WHERE user_id = ? AND referred_by IS NULL`
	res, err := tx.ExecContext(ctx, linkReferred, referrerID, s.params.SignupBonus, referredID)
	if err != nil {
		return false, fmt.Errorf("credit referred user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("referred rows affected: %w", err)
	}
	if affected == 0 {
		// Referred account missing or already linked elsewhere.
		return false, nil
	}

	const creditReferrer = `UPDATE accounts SET bonus_balance = bonus_balance + ? WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, creditReferrer, s.params.ReferralReward, referrerID); err != nil {
		return false, fmt.Errorf("credit referrer: %w", err)
	}

	if err := s.appendTransaction(ctx, tx, referrerID, models.TransactionReferralBonus, s.params.ReferralReward, ""); err != nil {
		return false, err
	}
	if err := s.appendTransaction(ctx, tx, referredID, models.TransactionReferralBonus, s.params.SignupBonus, ""); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ReferralCount returns how many users this account has referred.
func (s *Store) ReferralCount(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM referrals WHERE referrer_id = ?`
	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return count, nil
}
