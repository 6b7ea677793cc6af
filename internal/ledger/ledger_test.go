package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkerlabs/chartscan-bot/internal/database"
	"github.com/inkerlabs/chartscan-bot/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Connect(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return New(db, Params{DailyAllowance: 3, ReferralReward: 5, SignupBonus: 3})
}

func testSummary() ScanSummary {
	return ScanSummary{
		Token:      "TESTCOIN",
		Ticker:     "TEST",
		Trend:      "Bullish",
		Action:     "BUY",
		Confidence: 7,
		RiskLevel:  "MEDIUM",
		Verdict:    "clean breakout with volume",
		Raw:        `{"token":"TESTCOIN"}`,
	}
}

func TestGetOrCreate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acc, err := store.GetOrCreate(ctx, 1001, "alice", "Alice")
	require.NoError(t, err)
	require.Equal(t, int64(1001), acc.UserID)
	require.Len(t, acc.ReferralCode, 8)
	require.Equal(t, 0, acc.BonusBalance)
	require.False(t, acc.IsPremium)

	// Second call returns the same account; referral code is stable.
	again, err := store.GetOrCreate(ctx, 1001, "alice", "Alice")
	require.NoError(t, err)
	require.Equal(t, acc.ReferralCode, again.ReferralCode)

	// Profile changes are picked up.
	renamed, err := store.GetOrCreate(ctx, 1001, "alice2", "Alice")
	require.NoError(t, err)
	require.Equal(t, "alice2", renamed.Username)
}

func TestFreeBeforeBonus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 1, "u", "U")
	require.NoError(t, err)
	require.NoError(t, store.GrantBonus(ctx, 1, 5, "charge-1"))

	from, err := store.CommitConsumption(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, models.ConsumedFromFree, from)

	acc, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 5, acc.BonusBalance, "bonus must stay untouched while free units remain")

	used, err := store.DailyUsageToday(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, used)
}

func TestExhaustionThenReferralBonusScenario(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	referrer, err := store.GetOrCreate(ctx, 10, "ref", "Referrer")
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, 20, "user", "User")
	require.NoError(t, err)

	// Burn the full free allowance.
	for i := 0; i < 3; i++ {
		from, err := store.CommitConsumption(ctx, 20)
		require.NoError(t, err)
		require.Equal(t, models.ConsumedFromFree, from)
	}

	// Fourth attempt fails with no mutation.
	_, err = store.CommitConsumption(ctx, 20)
	require.ErrorIs(t, err, ErrQuotaExhausted)

	acc, err := store.Get(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, 3, acc.LifetimeScanCount)

	// A referral pays out: referrer earns 5, the referred user 3.
	linked, err := store.LinkReferral(ctx, referrer.ReferralCode, 20)
	require.NoError(t, err)
	require.True(t, linked)

	// Fifth consumption now succeeds out of the bonus bucket.
	from, err := store.CommitConsumption(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, models.ConsumedFromBonus, from)

	acc, err = store.Get(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, 2, acc.BonusBalance)
	require.Equal(t, 4, acc.LifetimeScanCount)

	refAcc, err := store.Get(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 5, refAcc.BonusBalance)
}

func TestNoDoubleChargeUnderConcurrency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 7, "u", "U")
	require.NoError(t, err)
	require.NoError(t, store.GrantBonus(ctx, 7, 2, "charge-2"))
	// 3 free + 2 bonus = 5 available.

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CommitConsumption(ctx, 7)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrQuotaExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)
	require.Equal(t, attempts-5, exhausted)

	acc, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 5, acc.LifetimeScanCount)
	require.Equal(t, 0, acc.BonusBalance)

	used, err := store.DailyUsageToday(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 3, used)
}

func TestConsumeAndRecordAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 3, "u", "U")
	require.NoError(t, err)

	from, err := store.ConsumeAndRecord(ctx, 3, testSummary(), "file:abc")
	require.NoError(t, err)
	require.Equal(t, models.ConsumedFromFree, from)

	scans, err := store.ScanHistory(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	require.Equal(t, "TESTCOIN", scans[0].Token)
	require.Equal(t, "file:abc", scans[0].MediaRef)

	// Exhaust the rest, then verify a failed consume records nothing.
	for i := 0; i < 2; i++ {
		_, err := store.CommitConsumption(ctx, 3)
		require.NoError(t, err)
	}
	_, err = store.ConsumeAndRecord(ctx, 3, testSummary(), "file:def")
	require.ErrorIs(t, err, ErrQuotaExhausted)

	scans, err = store.ScanHistory(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, scans, 1, "no scan record without a committed debit")
}

func TestPremiumOverridesAllowance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	_, err := store.GetOrCreate(ctx, 42, "p", "Premium")
	require.NoError(t, err)
	require.NoError(t, store.GrantBonus(ctx, 42, 4, "charge-3"))
	require.NoError(t, store.ActivatePremium(ctx, 42, 1, "charge-4"))

	for i := 0; i < 10; i++ {
		from, err := store.CommitConsumption(ctx, 42)
		require.NoError(t, err)
		require.Equal(t, models.ConsumedFromFree, from)
	}

	acc, err := store.Get(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, 4, acc.BonusBalance, "premium scans never touch the bonus bucket")
	require.Equal(t, 10, acc.LifetimeScanCount)

	used, err := store.DailyUsageToday(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, 0, used, "premium scans never touch the free bucket")

	st, err := store.EnergyStatus(ctx, 42)
	require.NoError(t, err)
	require.True(t, st.IsPremium)

	// Once premium lapses the daily allowance applies again.
	store.now = func() time.Time { return base.Add(31 * 24 * time.Hour) }
	st, err = store.EnergyStatus(ctx, 42)
	require.NoError(t, err)
	require.False(t, st.IsPremium)
	require.Equal(t, 3, st.FreeRemaining)
}

func TestActivatePremiumExtends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	_, err := store.GetOrCreate(ctx, 5, "p", "P")
	require.NoError(t, err)

	require.NoError(t, store.ActivatePremium(ctx, 5, 1, "pay-1"))
	acc, err := store.Get(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, acc.PremiumUntil)
	first := *acc.PremiumUntil

	// A second activation while active extends from the current expiry.
	require.NoError(t, store.ActivatePremium(ctx, 5, 1, "pay-2"))
	acc, err = store.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, first.Add(30*24*time.Hour), acc.PremiumUntil.UTC())
}

func TestLinkReferralRejections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	referrer, err := store.GetOrCreate(ctx, 100, "r", "R")
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, 200, "n", "N")
	require.NoError(t, err)

	// Unknown code.
	ok, err := store.LinkReferral(ctx, "NOPE1234", 200)
	require.NoError(t, err)
	require.False(t, ok)

	// Self-referral.
	ok, err = store.LinkReferral(ctx, referrer.ReferralCode, 100)
	require.NoError(t, err)
	require.False(t, ok)

	// First use pays out.
	ok, err = store.LinkReferral(ctx, referrer.ReferralCode, 200)
	require.NoError(t, err)
	require.True(t, ok)

	// Second use is a silent no-op: no additional credit.
	ok, err = store.LinkReferral(ctx, referrer.ReferralCode, 200)
	require.NoError(t, err)
	require.False(t, ok)

	refAcc, err := store.Get(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 5, refAcc.BonusBalance, "referrer credited exactly once")

	referred, err := store.Get(ctx, 200)
	require.NoError(t, err)
	require.NotNil(t, referred.ReferredBy)
	require.Equal(t, int64(100), *referred.ReferredBy)
	require.Equal(t, 3, referred.BonusBalance)

	count, err := store.ReferralCount(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestLeaderboardOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		_, err := store.GetOrCreate(ctx, id, "", "")
		require.NoError(t, err)
	}
	// User 2 scans twice, user 3 once.
	for i := 0; i < 2; i++ {
		_, err := store.CommitConsumption(ctx, 2)
		require.NoError(t, err)
	}
	_, err := store.CommitConsumption(ctx, 3)
	require.NoError(t, err)

	entries, err := store.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(2), entries[0].UserID)
	require.Equal(t, 2, entries[0].TotalScans)
	require.Equal(t, int64(3), entries[1].UserID)
}

func TestReferralCodeDerivationStable(t *testing.T) {
	require.Equal(t, deriveReferralCode(12345, 0), deriveReferralCode(12345, 0))
	require.NotEqual(t, deriveReferralCode(12345, 0), deriveReferralCode(12345, 1))
	require.Len(t, deriveReferralCode(1, 0), 8)
}
