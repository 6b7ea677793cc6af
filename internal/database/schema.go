package database

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    user_id INTEGER PRIMARY KEY,
    username TEXT,
    first_name TEXT,
    joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    is_premium INTEGER NOT NULL DEFAULT 0,
    premium_until TIMESTAMP,
    bonus_balance INTEGER NOT NULL DEFAULT 0 CHECK (bonus_balance >= 0),
    lifetime_scan_count INTEGER NOT NULL DEFAULT 0,
    referral_code TEXT NOT NULL UNIQUE,
    referred_by INTEGER REFERENCES accounts(user_id)
);

CREATE TABLE IF NOT EXISTS daily_usage (
    user_id INTEGER NOT NULL REFERENCES accounts(user_id),
    date_key TEXT NOT NULL,
    free_units_used INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, date_key)
);

CREATE TABLE IF NOT EXISTS scans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES accounts(user_id),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    token TEXT,
    ticker TEXT,
    trend TEXT,
    action TEXT,
    confidence INTEGER,
    risk_level TEXT,
    verdict TEXT,
    raw_result TEXT,
    media_ref TEXT
);

CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES accounts(user_id),
    kind TEXT NOT NULL,
    amount INTEGER NOT NULL,
    payment_ref TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS referrals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    referrer_id INTEGER NOT NULL REFERENCES accounts(user_id),
    referred_id INTEGER NOT NULL UNIQUE,
    bonus_awarded INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_scans_user_created ON scans(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
`
