package telegram

import (
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/inkerlabs/chartscan-bot/internal/energy"
	"github.com/inkerlabs/chartscan-bot/internal/gemini"
	"github.com/inkerlabs/chartscan-bot/internal/market"
	"github.com/inkerlabs/chartscan-bot/internal/models"
)

func welcomeMessage(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "trader"
	}
	return fmt.Sprintf(
		"👋 Hey %s!\n\nSend me a chart screenshot and I'll analyze it: trend, key levels, patterns, risk and a verdict.\n\nCommands:\n/scan — analyze a chart\n/energy — check your scan balance\n/history — your recent scans\n/refer — invite friends, earn scans\n/premium — unlimited scans\n/leaderboard — top scanners\n/help — all commands",
		html.EscapeString(name),
	)
}

func helpMessage() string {
	return "📖 <b>How it works</b>\n\nSend any chart screenshot (photo or image file) and I'll break it down: trend, support/resistance, patterns, volume, risk, verdict.\n\nEach scan costs 1 energy. You get free scans every day; earn more through referrals, buy a refill, or go premium for unlimited scans.\n\n/scan — analyze a chart\n/energy — scan balance\n/history — recent scans\n/refer — referral link\n/premium — unlimited access\n/leaderboard — top scanners"
}

func energyMessage(status energy.Status, allowance int) string {
	if status.IsPremium {
		return "⭐ <b>Premium active</b>\n\nUnlimited scans. Go wild."
	}
	return fmt.Sprintf(
		"⚡ <b>Your energy</b>\n\nFree today: %d / %d\nBonus scans: %d\nTotal available: %d\n\nFree scans reset daily. Need more? Invite friends or grab a refill.",
		status.FreeRemaining, allowance, status.BonusRemaining, status.TotalRemaining,
	)
}

func exhaustedMessage(allowance int) string {
	return fmt.Sprintf(
		"🪫 <b>Out of energy</b>\n\nYou've used all %d free scans for today and have no bonus scans left.\n\n• Invite friends for bonus scans\n• Buy a refill\n• Go premium for unlimited scans\n\nFree scans reset at midnight UTC.",
		allowance,
	)
}

func refillMessage(scans, stars int) string {
	return fmt.Sprintf("🔋 <b>Scan refill</b>\n\n%d extra scans for %d ⭐. Bonus scans never expire.", scans, stars)
}

func premiumMessage(starsMonthly int) string {
	return fmt.Sprintf("⭐ <b>Premium</b>\n\nUnlimited chart scans, no daily cap, priority analysis.\n\n%d ⭐ per month.", starsMonthly)
}

func referralMessage(code string, count int, botUsername string, referrerReward, signupBonus int) string {
	var sb strings.Builder
	sb.WriteString("🤝 <b>Referral program</b>\n\n")
	fmt.Fprintf(&sb, "Your code: <code>%s</code>\n", html.EscapeString(code))
	if botUsername != "" {
		fmt.Fprintf(&sb, "Your link: https://t.me/%s?start=%s\n", botUsername, code)
	}
	fmt.Fprintf(&sb, "\nYou get <b>+%d scans</b> for every friend who joins; they get <b>+%d scans</b> to start.\n", referrerReward, signupBonus)
	fmt.Fprintf(&sb, "Friends invited so far: %d", count)
	return sb.String()
}

func historyMessage(records []models.ScanRecord) string {
	if len(records) == 0 {
		return "📂 No scans yet. Send me a chart screenshot to get started!"
	}
	var sb strings.Builder
	sb.WriteString("📂 <b>Your recent scans</b>\n")
	for _, r := range records {
		name := r.Token
		if r.Ticker != "" {
			name = fmt.Sprintf("%s (%s)", r.Token, r.Ticker)
		}
		fmt.Fprintf(&sb, "\n%s — <b>%s</b>\n%s · %s · confidence %d/10\n",
			r.CreatedAt.Format("Jan 2 15:04"), html.EscapeString(name),
			html.EscapeString(r.Trend), html.EscapeString(r.Action), r.Confidence)
	}
	return sb.String()
}

func leaderboardMessage(entries []models.LeaderboardEntry) string {
	if len(entries) == 0 {
		return "🏆 The leaderboard is empty. Be the first to scan a chart!"
	}
	medals := []string{"🥇", "🥈", "🥉"}
	var sb strings.Builder
	sb.WriteString("🏆 <b>Top scanners</b>\n\n")
	for i, e := range entries {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}
		name := e.FirstName
		if name == "" {
			name = e.Username
		}
		if name == "" {
			name = "anonymous"
		}
		fmt.Fprintf(&sb, "%s %s — %d scans\n", rank, html.EscapeString(name), e.TotalScans)
	}
	return sb.String()
}

// analysisMessage renders the main scan reply: model verdict, optional live
// market data, and the caller's remaining balance.
func analysisMessage(a *gemini.Analysis, pair *market.Pair, consumed models.ConsumedFrom, remaining energy.Status) string {
	var sb strings.Builder

	name := a.Token
	if a.Ticker != "" && !strings.EqualFold(a.Ticker, a.Token) {
		name = fmt.Sprintf("%s (%s)", a.Token, a.Ticker)
	}
	fmt.Fprintf(&sb, "📊 <b>%s</b>", html.EscapeString(name))
	if a.Timeframe != "" {
		fmt.Fprintf(&sb, " · %s", html.EscapeString(a.Timeframe))
	}
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "%s Trend: <b>%s</b>", trendEmoji(a.Trend), html.EscapeString(a.Trend))
	if a.TrendStrength != "" {
		fmt.Fprintf(&sb, " (%s)", html.EscapeString(a.TrendStrength))
	}
	sb.WriteString("\n")

	if len(a.SupportLevels) > 0 {
		fmt.Fprintf(&sb, "🟢 Support: %s\n", html.EscapeString(strings.Join(a.SupportLevels, ", ")))
	}
	if len(a.ResistanceLevels) > 0 {
		fmt.Fprintf(&sb, "🔴 Resistance: %s\n", html.EscapeString(strings.Join(a.ResistanceLevels, ", ")))
	}
	if len(a.ChartPatterns) > 0 {
		fmt.Fprintf(&sb, "📐 Patterns: %s\n", html.EscapeString(strings.Join(a.ChartPatterns, ", ")))
	}
	if a.VolumeTrend != "" {
		fmt.Fprintf(&sb, "📦 Volume: %s\n", html.EscapeString(a.VolumeTrend))
	}
	fmt.Fprintf(&sb, "⚠️ Risk: %s\n", html.EscapeString(a.RiskLevel))

	fmt.Fprintf(&sb, "\n%s <b>%s</b> — %s (confidence %d/10)\n",
		actionEmoji(a.Action), html.EscapeString(strings.ToUpper(a.Action)),
		html.EscapeString(a.Verdict), a.Confidence)

	if pair != nil {
		sb.WriteString("\n💹 <b>Live market data</b>\n")
		fmt.Fprintf(&sb, "Price: $%s · MC: %s · Liq: %s\n",
			formatPrice(pair.PriceUSD), formatCompact(pair.MarketCap), formatCompact(pair.LiquidityUSD))
		fmt.Fprintf(&sb, "24h: %+.1f%% · 1h: %+.1f%% · buys %.0f%%\n",
			pair.PriceChange24h, pair.PriceChange1h, pair.BuyRatio())
		fmt.Fprintf(&sb, "%s on %s\n", html.EscapeString(pair.Chain), html.EscapeString(pair.Dex))
	}

	if remaining.IsPremium {
		sb.WriteString("\n⭐ Premium — unlimited scans")
	} else {
		fmt.Fprintf(&sb, "\n⚡ %d scans left", remaining.TotalRemaining)
		if consumed == models.ConsumedFromBonus {
			sb.WriteString(" (used a bonus scan)")
		}
	}

	sb.WriteString("\n\n<i>Not financial advice. Always do your own research.</i>")
	return sb.String()
}

func trendEmoji(trend string) string {
	switch strings.ToLower(trend) {
	case "bullish", "uptrend":
		return "📈"
	case "bearish", "downtrend":
		return "📉"
	default:
		return "➡️"
	}
}

func actionEmoji(action string) string {
	switch strings.ToLower(action) {
	case "buy", "long":
		return "🟢"
	case "sell", "short":
		return "🔴"
	default:
		return "🟡"
	}
}

func formatPrice(v float64) string {
	switch {
	case v == 0:
		return "?"
	case v < 0.0001:
		return fmt.Sprintf("%.8f", v)
	case v < 1:
		return fmt.Sprintf("%.6f", v)
	default:
		return fmt.Sprintf("%.4f", v)
	}
}

func formatCompact(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	case v > 0:
		return fmt.Sprintf("$%.0f", v)
	default:
		return "?"
	}
}

func mainKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⚡ Energy", "energy"),
			tgbotapi.NewInlineKeyboardButtonData("🤝 Referral", "referral"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⭐ Premium", "premium"),
		),
	)
}

func energyKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔋 Buy scans", "buy_scans"),
			tgbotapi.NewInlineKeyboardButtonData("⭐ Premium", "premium"),
		),
	)
}

func exhaustedKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔋 Buy scans", "buy_scans"),
			tgbotapi.NewInlineKeyboardButtonData("🤝 Invite friends", "referral"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⭐ Go premium", "premium"),
		),
	)
}

func premiumKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⭐ Activate premium", "pay_premium"),
		),
	)
}

func refillKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💫 Pay with Stars", "pay_scans"),
		),
	)
}

func analysisKeyboard(webAppURL string) tgbotapi.InlineKeyboardMarkup {
	row := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("📝 Full breakdown", "detail"),
	}
	if webAppURL != "" {
		row = append(row, tgbotapi.NewInlineKeyboardButtonURL("📊 Dashboard", webAppURL))
	}
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(row...))
}
