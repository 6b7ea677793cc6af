package energy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeFreeAndBonus(t *testing.T) {
	now := time.Now()

	st := Compute(false, nil, 5, 0, 3, now)
	require.False(t, st.IsPremium)
	require.Equal(t, 3, st.FreeRemaining)
	require.Equal(t, 5, st.BonusRemaining)
	require.Equal(t, 8, st.TotalRemaining)

	st = Compute(false, nil, 0, 3, 3, now)
	require.Equal(t, 0, st.FreeRemaining)
	require.Equal(t, 0, st.TotalRemaining)

	// Usage beyond the allowance (e.g. after the allowance was lowered)
	// never reports negative remaining.
	st = Compute(false, nil, 2, 10, 3, now)
	require.Equal(t, 0, st.FreeRemaining)
	require.Equal(t, 2, st.TotalRemaining)
}

func TestComputePremium(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	st := Compute(true, &future, 5, 3, 3, now)
	require.True(t, st.IsPremium)
	require.Equal(t, Unlimited, st.FreeRemaining)
	require.Equal(t, Unlimited, st.TotalRemaining)
	require.Equal(t, 5, st.BonusRemaining)

	// No expiry set means premium holds indefinitely.
	st = Compute(true, nil, 0, 0, 3, now)
	require.True(t, st.IsPremium)

	// Lapsed premium falls back to the free allowance.
	st = Compute(true, &past, 1, 1, 3, now)
	require.False(t, st.IsPremium)
	require.Equal(t, 2, st.FreeRemaining)
	require.Equal(t, 3, st.TotalRemaining)
}

func TestDateKey(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 01:30 local on March 2nd is still March 1st in the reference timezone.
	local := time.Date(2025, 3, 2, 1, 30, 0, 0, loc)
	require.Equal(t, "2025-03-01", DateKey(local))
}
