package models

import "time"

// ConsumedFrom names the bucket a scan was charged against.
type ConsumedFrom string

const (
	ConsumedFromFree  ConsumedFrom = "free"
	ConsumedFromBonus ConsumedFrom = "bonus"
)

// TransactionKind classifies balance-affecting ledger entries.
type TransactionKind string

const (
	TransactionBonusPurchase     TransactionKind = "bonus_purchase"
	TransactionPremiumActivation TransactionKind = "premium_activation"
	TransactionReferralBonus     TransactionKind = "referral_bonus"
)

// Account is one per Telegram identity. Never deleted; retained for
// leaderboard and history even after the user stops scanning.
type Account struct {
	UserID            int64
	Username          string
	FirstName         string
	JoinedAt          time.Time
	IsPremium         bool
	PremiumUntil      *time.Time
	BonusBalance      int
	LifetimeScanCount int
	ReferralCode      string
	ReferredBy        *int64
}

// DailyUsage tracks free-allowance consumption for one UTC calendar day.
type DailyUsage struct {
	UserID        int64
	DateKey       string
	FreeUnitsUsed int
}

// ScanRecord is one append-only history entry per successfully charged scan.
type ScanRecord struct {
	ID         int64
	UserID     int64
	CreatedAt  time.Time
	Token      string
	Ticker     string
	Trend      string
	Action     string
	Confidence int
	RiskLevel  string
	Verdict    string
	RawResult  string
	MediaRef   string
}

// Transaction is one append-only entry per balance-affecting event.
type Transaction struct {
	ID         int64
	UserID     int64
	Kind       TransactionKind
	Amount     int
	PaymentRef string
	CreatedAt  time.Time
}

// Referral links a referred user to their referrer, at most once ever.
type Referral struct {
	ID           int64
	ReferrerID   int64
	ReferredID   int64
	BonusAwarded int
	CreatedAt    time.Time
}

// LeaderboardEntry is a read model for the top-scanners ranking.
type LeaderboardEntry struct {
	UserID     int64
	Username   string
	FirstName  string
	TotalScans int
}
