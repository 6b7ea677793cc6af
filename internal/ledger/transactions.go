package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/inkerlabs/chartscan-bot/internal/models"
)

// GrantBonus credits amount non-expiring units and appends the matching
// transaction in one unit of work.
func (s *Store) GrantBonus(ctx context.Context, userID int64, amount int, paymentRef string) error {
	if amount <= 0 {
		return fmt.Errorf("bonus amount must be positive, got %d", amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const credit = `UPDATE accounts SET bonus_balance = bonus_balance + ? WHERE user_id = ?`
	res, err := tx.ExecContext(ctx, credit, amount, userID)
	if err != nil {
		return fmt.Errorf("credit bonus: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bonus rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	if err := s.appendTransaction(ctx, tx, userID, models.TransactionBonusPurchase, amount, paymentRef); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ActivatePremium turns on the unlimited entitlement for the given number of
// months. An already-active entitlement is extended from its current expiry,
// never shortened.
func (s *Store) ActivatePremium(ctx context.Context, userID int64, months int, paymentRef string) error {
	if months <= 0 {
		return fmt.Errorf("premium months must be positive, got %d", months)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	acc, err := getAccountTx(ctx, tx, userID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	base := now
	if acc.IsPremium && acc.PremiumUntil != nil && acc.PremiumUntil.After(now) {
		base = acc.PremiumUntil.UTC()
	}
	until := base.Add(time.Duration(months) * 30 * 24 * time.Hour)

	const update = `UPDATE accounts SET is_premium = 1, premium_until = ? WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, update, until, userID); err != nil {
		return fmt.Errorf("set premium: %w", err)
	}

	if err := s.appendTransaction(ctx, tx, userID, models.TransactionPremiumActivation, months, paymentRef); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) appendTransaction(ctx context.Context, e execer, userID int64, kind models.TransactionKind, amount int, paymentRef string) error {
	const insert = `
INSERT INTO transactions (user_id, kind, amount, payment_ref, created_at)
VALUES (?, ?, ?, NULLIF(?, ''), ?)`
	if _, err := e.ExecContext(ctx, insert, userID, kind, amount, paymentRef, s.now().UTC()); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}
