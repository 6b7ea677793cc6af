// Package energy holds the quota decision rules. Everything here is a pure
// function of account state and daily usage; the ledger applies the same
// rules inside its transactions so a check never races its debit.
package energy

import "time"

// Unlimited is the sentinel remaining-count reported for active premium
// accounts. Kept finite so arithmetic over statuses stays total.
const Unlimited = 999

// Status is the computed quota position of one account at one instant.
type Status struct {
	IsPremium      bool
	UsedToday      int
	FreeRemaining  int
	BonusRemaining int
	TotalRemaining int
}

// PremiumActive reports whether a premium entitlement covers the given
// instant. An unset expiry means the entitlement never lapses.
func PremiumActive(isPremium bool, premiumUntil *time.Time, now time.Time) bool {
	if !isPremium {
		return false
	}
	return premiumUntil == nil || premiumUntil.After(now)
}

// Compute derives the quota status from account state and today's usage.
// allowance is the configured daily free allowance.
func Compute(isPremium bool, premiumUntil *time.Time, bonusBalance, usedToday, allowance int, now time.Time) Status {
	if PremiumActive(isPremium, premiumUntil, now) {
		return Status{
			IsPremium:      true,
			UsedToday:      usedToday,
			FreeRemaining:  Unlimited,
			BonusRemaining: bonusBalance,
			TotalRemaining: Unlimited,
		}
	}

	free := allowance - usedToday
	if free < 0 {
		free = 0
	}
	return Status{
		UsedToday:      usedToday,
		FreeRemaining:  free,
		BonusRemaining: bonusBalance,
		TotalRemaining: free + bonusBalance,
	}
}

// DateKey formats the UTC reference-day bucket for daily usage rows.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
