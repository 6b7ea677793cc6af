package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/inkerlabs/chartscan-bot/internal/gemini"
	"github.com/inkerlabs/chartscan-bot/internal/ledger"
	"github.com/inkerlabs/chartscan-bot/internal/market"
)

// handleScan runs the full chart analysis flow for one submitted image.
// Ordering matters for the charging guarantees: the quota is checked before
// the model is called, and the debit plus the scan record are committed in
// one transaction only after the model succeeds. A failed analysis never
// charges; a worker crash after the commit leaves a consistent ledger.
func (b *Bot) handleScan(ctx context.Context, msg *tgbotapi.Message) {
	account, _, err := b.ensureAccount(ctx, msg)
	if err != nil {
		b.log.Error("ensure account for scan", "err", err)
		b.sendText(msg.Chat.ID, "Something went wrong, please try again.")
		return
	}

	status, err := b.store.EnergyStatus(ctx, account.UserID)
	if err != nil {
		b.log.Error("energy status", "err", err, "user_id", account.UserID)
		b.sendText(msg.Chat.ID, "Could not check your balance, please try again.")
		return
	}
	if status.TotalRemaining <= 0 {
		b.sendWithKeyboard(msg.Chat.ID, exhaustedMessage(b.cfg.FreeDailyScans), exhaustedKeyboard())
		return
	}

	fileID := scanFileID(msg)
	if fileID == "" {
		return
	}

	b.sendText(msg.Chat.ID, "🔍 Analyzing your chart, give me a few seconds...")

	data, contentType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		b.log.Error("download chart image", "err", err, "user_id", account.UserID)
		b.sendText(msg.Chat.ID, "I couldn't read that image. Please send a JPEG, PNG or WebP screenshot.")
		return
	}

	analysis, err := b.analyzer.Analyze(ctx, data, contentType)
	if err != nil {
		b.log.Error("analysis failed", "err", err, "user_id", account.UserID)
		b.sendText(msg.Chat.ID, "❌ Analysis failed — I couldn't make sense of that chart. No scan was charged; try a clearer screenshot.")
		return
	}

	mediaRef := fileID
	if b.archiver != nil {
		if url, err := b.archiver.Upload(ctx, data, contentType); err != nil {
			b.log.Warn("archive upload failed", "err", err)
		} else {
			mediaRef = url
		}
	}

	consumed, err := b.store.ConsumeAndRecord(ctx, account.UserID, summaryOf(analysis), mediaRef)
	if err != nil {
		if errors.Is(err, ledger.ErrQuotaExhausted) {
			// Lost the race against another scan for this user.
			b.sendWithKeyboard(msg.Chat.ID, exhaustedMessage(b.cfg.FreeDailyScans), exhaustedKeyboard())
			return
		}
		b.log.Error("commit scan", "err", err, "user_id", account.UserID)
		b.sendText(msg.Chat.ID, "The analysis finished but I couldn't save it. No scan was charged; please retry.")
		return
	}

	var pair *market.Pair
	if b.enricher != nil {
		pair, err = b.enricher.Lookup(ctx, analysis.ContractAddress, analysis.Ticker, analysis.Token)
		if err != nil {
			b.log.Warn("market lookup failed", "err", err)
			pair = nil
		}
	}

	remaining, err := b.store.EnergyStatus(ctx, account.UserID)
	if err != nil {
		b.log.Error("energy status after scan", "err", err, "user_id", account.UserID)
		remaining = status
	}

	if detail := strings.TrimSpace(analysis.DetailedAnalysis); detail != "" {
		b.state.SetLastDetail(msg.Chat.ID, detail)
	}

	b.sendWithKeyboard(msg.Chat.ID, analysisMessage(analysis, pair, consumed, remaining), analysisKeyboard(b.cfg.WebAppURL))
}

// scanFileID picks the media reference from the message: the largest photo
// size, or the document's file id for image uploads.
func scanFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil {
		return msg.Document.FileID
	}
	return ""
}

func summaryOf(a *gemini.Analysis) ledger.ScanSummary {
	return ledger.ScanSummary{
		Token:      a.Token,
		Ticker:     a.Ticker,
		Trend:      a.Trend,
		Action:     a.Action,
		Confidence: a.Confidence,
		RiskLevel:  a.RiskLevel,
		Verdict:    a.Verdict,
		Raw:        a.Raw,
	}
}
