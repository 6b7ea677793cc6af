package ledger

import (
	"context"
	"fmt"

	"github.com/inkerlabs/chartscan-bot/internal/models"
)

// ScanHistory returns the newest scans for a user, newest first.
func (s *Store) ScanHistory(ctx context.Context, userID int64, limit int) ([]models.ScanRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
SELECT id, user_id, created_at,
       COALESCE(token, ''), COALESCE(ticker, ''), COALESCE(trend, ''),
       COALESCE(action, ''), COALESCE(confidence, 0), COALESCE(risk_level, ''),
       COALESCE(verdict, ''), COALESCE(raw_result, ''), COALESCE(media_ref, '')
FROM scans WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan history: %w", err)
	}
	defer rows.Close()

	var scans []models.ScanRecord
	for rows.Next() {
		var rec models.ScanRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.CreatedAt,
			&rec.Token, &rec.Ticker, &rec.Trend, &rec.Action, &rec.Confidence,
			&rec.RiskLevel, &rec.Verdict, &rec.RawResult, &rec.MediaRef); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		scans = append(scans, rec)
	}
	return scans, rows.Err()
}

// Leaderboard returns the accounts with the most lifetime scans.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
SELECT user_id, COALESCE(username, ''), COALESCE(first_name, ''), lifetime_scan_count
FROM accounts ORDER BY lifetime_scan_count DESC, user_id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.FirstName, &e.TotalScans); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
