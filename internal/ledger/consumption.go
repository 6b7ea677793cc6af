package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inkerlabs/chartscan-bot/internal/energy"
	"github.com/inkerlabs/chartscan-bot/internal/models"
)

// ScanSummary is the validated slice of an analysis that goes into history.
type ScanSummary struct {
	Token      string
	Ticker     string
	Trend      string
	Action     string
	Confidence int
	RiskLevel  string
	Verdict    string
	Raw        string
}

// CommitConsumption debits one unit from the free bucket first, then the
// bonus bucket, and bumps the lifetime counter — all in one transaction. The
// quota is re-checked inside the transaction, so a check done earlier can
// never race its debit. Returns ErrQuotaExhausted when both buckets are empty.
func (s *Store) CommitConsumption(ctx context.Context, userID int64) (models.ConsumedFrom, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := s.consumeTx(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return from, nil
}

// RecordScan appends one history entry. The caller must have committed the
// matching consumption first; prefer ConsumeAndRecord, which does both in a
// single transaction.
func (s *Store) RecordScan(ctx context.Context, userID int64, summary ScanSummary, mediaRef string) error {
	return s.recordScan(ctx, s.db, userID, summary, mediaRef)
}

// ConsumeAndRecord commits a one-unit debit and the scan record in the same
// transaction: either both land or neither does.
func (s *Store) ConsumeAndRecord(ctx context.Context, userID int64, summary ScanSummary, mediaRef string) (models.ConsumedFrom, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := s.consumeTx(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	if err := s.recordScan(ctx, tx, userID, summary, mediaRef); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return from, nil
}

func (s *Store) consumeTx(ctx context.Context, tx *sql.Tx, userID int64) (models.ConsumedFrom, error) {
	acc, err := getAccountTx(ctx, tx, userID)
	if err != nil {
		return "", err
	}

	now := s.now()
	dateKey := energy.DateKey(now)
	used, err := s.dailyUsage(ctx, tx, userID, dateKey)
	if err != nil {
		return "", err
	}

	status := energy.Compute(acc.IsPremium, acc.PremiumUntil, acc.BonusBalance, used, s.params.DailyAllowance, now)

	var from models.ConsumedFrom
	switch {
	case status.IsPremium:
		// Premium scans touch neither bucket; only the lifetime counter moves.
		from = models.ConsumedFromFree

	case status.FreeRemaining > 0:
		const debit = `
UPDATE daily_usage SET free_units_used = free_units_used + 1
WHERE user_id = ? AND date_key = ? AND free_units_used < ?`
		res, err := tx.ExecContext(ctx, debit, userID, dateKey, s.params.DailyAllowance)
		if err != nil {
			return "", fmt.Errorf("debit free unit: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("free rows affected: %w", err)
		}
		if affected == 0 {
			// No row for today yet: first consumption creates it.
			const insert = `INSERT INTO daily_usage (user_id, date_key, free_units_used) VALUES (?, ?, 1)`
			if _, err := tx.ExecContext(ctx, insert, userID, dateKey); err != nil {
				return "", fmt.Errorf("insert daily usage: %w", err)
			}
		}
		from = models.ConsumedFromFree

	case status.BonusRemaining > 0:
		const debit = `UPDATE accounts SET bonus_balance = bonus_balance - 1 WHERE user_id = ? AND bonus_balance > 0`
		res, err := tx.ExecContext(ctx, debit, userID)
		if err != nil {
			return "", fmt.Errorf("debit bonus unit: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("bonus rows affected: %w", err)
		}
		if affected == 0 {
			return "", ErrQuotaExhausted
		}
		from = models.ConsumedFromBonus

	default:
		return "", ErrQuotaExhausted
	}

	const bump = `UPDATE accounts SET lifetime_scan_count = lifetime_scan_count + 1 WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, bump, userID); err != nil {
		return "", fmt.Errorf("bump lifetime count: %w", err)
	}
	return from, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) recordScan(ctx context.Context, e execer, userID int64, summary ScanSummary, mediaRef string) error {
	const insert = `
INSERT INTO scans (user_id, created_at, token, ticker, trend, action, confidence, risk_level, verdict, raw_result, media_ref)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := e.ExecContext(ctx, insert, userID, s.now().UTC(),
		summary.Token, summary.Ticker, summary.Trend, summary.Action,
		summary.Confidence, summary.RiskLevel, summary.Verdict, summary.Raw, mediaRef); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}
