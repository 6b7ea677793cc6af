// Package ledger is the single owner of all durable quota state: accounts,
// daily usage, scan history, transactions and referrals. Every operation is
// atomic with respect to concurrent callers for the same user; mutations that
// belong together run inside one SQL transaction.
package ledger

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/inkerlabs/chartscan-bot/internal/energy"
	"github.com/inkerlabs/chartscan-bot/internal/models"
)

var (
	// ErrQuotaExhausted is returned when neither the free allowance nor the
	// bonus balance can cover a consumption.
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrAccountNotFound is returned when an operation targets a user that
	// was never registered. Callers resolve accounts first, so hitting this
	// usually means a wiring bug.
	ErrAccountNotFound = errors.New("account not found")
)

// Params carries the quota policy constants the store enforces.
type Params struct {
	DailyAllowance int
	ReferralReward int
	SignupBonus    int
}

// Store implements the ledger over database/sql.
type Store struct {
	db     *sql.DB
	params Params
	now    func() time.Time
}

func New(db *sql.DB, params Params) *Store {
	return &Store{
		db:     db,
		params: params,
		now:    time.Now,
	}
}

// GetOrCreate returns the existing account or creates one with a referral
// code derived from the user id. Profile fields are refreshed when they
// changed on the Telegram side.
func (s *Store) GetOrCreate(ctx context.Context, userID int64, username, firstName string) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	acc, err := getAccountTx(ctx, tx, userID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	if acc != nil {
		if acc.Username != username || acc.FirstName != firstName {
			const update = `UPDATE accounts SET username = ?, first_name = ? WHERE user_id = ?`
			if _, err := tx.ExecContext(ctx, update, username, firstName, userID); err != nil {
				return nil, fmt.Errorf("update profile: %w", err)
			}
			acc.Username = username
			acc.FirstName = firstName
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return acc, nil
	}

	code, err := s.freeReferralCode(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	joined := s.now().UTC()
	const insert = `
INSERT INTO accounts (user_id, username, first_name, joined_at, referral_code)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, userID, username, firstName, joined, code); err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &models.Account{
		UserID:       userID,
		Username:     username,
		FirstName:    firstName,
		JoinedAt:     joined,
		ReferralCode: code,
	}, nil
}

// Get returns the account for userID, or ErrAccountNotFound.
func (s *Store) Get(ctx context.Context, userID int64) (*models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	acc, err := getAccountTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return acc, tx.Commit()
}

// DailyUsageToday returns the free units consumed in the current
// reference-day, zero when no row exists yet.
func (s *Store) DailyUsageToday(ctx context.Context, userID int64) (int, error) {
	return s.dailyUsage(ctx, s.db, userID, energy.DateKey(s.now()))
}

// EnergyStatus computes the quota position for one user at the current time.
func (s *Store) EnergyStatus(ctx context.Context, userID int64) (energy.Status, error) {
	acc, err := s.Get(ctx, userID)
	if err != nil {
		return energy.Status{}, err
	}
	used, err := s.DailyUsageToday(ctx, userID)
	if err != nil {
		return energy.Status{}, err
	}
	return energy.Compute(acc.IsPremium, acc.PremiumUntil, acc.BonusBalance, used, s.params.DailyAllowance, s.now()), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) dailyUsage(ctx context.Context, q queryer, userID int64, dateKey string) (int, error) {
	const query = `SELECT free_units_used FROM daily_usage WHERE user_id = ? AND date_key = ?`
	var used int
	if err := q.QueryRowContext(ctx, query, userID, dateKey).Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan daily usage: %w", err)
	}
	return used, nil
}

func getAccountTx(ctx context.Context, tx *sql.Tx, userID int64) (*models.Account, error) {
	const query = `
SELECT user_id, COALESCE(username, ''), COALESCE(first_name, ''), joined_at,
       is_premium, premium_until, bonus_balance, lifetime_scan_count,
       referral_code, referred_by
FROM accounts WHERE user_id = ?`
	row := tx.QueryRowContext(ctx, query, userID)

	var (
		acc        models.Account
		premium    int
		until      sql.NullTime
		referredBy sql.NullInt64
	)
	if err := row.Scan(&acc.UserID, &acc.Username, &acc.FirstName, &acc.JoinedAt,
		&premium, &until, &acc.BonusBalance, &acc.LifetimeScanCount,
		&acc.ReferralCode, &referredBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	acc.IsPremium = premium != 0
	if until.Valid {
		t := until.Time
		acc.PremiumUntil = &t
	}
	if referredBy.Valid {
		id := referredBy.Int64
		acc.ReferredBy = &id
	}
	return &acc, nil
}

// freeReferralCode derives a referral code from the user id and, on the rare
// collision with an existing account, re-derives with an increasing salt.
func (s *Store) freeReferralCode(ctx context.Context, tx *sql.Tx, userID int64) (string, error) {
	for salt := 0; salt < 32; salt++ {
		code := deriveReferralCode(userID, salt)
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE referral_code = ?`, code).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check referral code: %w", err)
		}
	}
	return "", fmt.Errorf("referral code space exhausted for user %d", userID)
}

func deriveReferralCode(userID int64, salt int) string {
	seed := strconv.FormatInt(userID, 10)
	if salt > 0 {
		seed += "-" + strconv.Itoa(salt)
	}
	sum := md5.Sum([]byte(seed))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}
