// Package telegram holds the per-event handlers that run inside the worker
// stream. Nothing here is safe to call from HTTP goroutines directly; the
// bridge is the only entry point.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/inkerlabs/chartscan-bot/internal/config"
	"github.com/inkerlabs/chartscan-bot/internal/gemini"
	"github.com/inkerlabs/chartscan-bot/internal/ledger"
	"github.com/inkerlabs/chartscan-bot/internal/market"
	"github.com/inkerlabs/chartscan-bot/internal/models"
	"github.com/inkerlabs/chartscan-bot/internal/referral"
)

const defaultFileEndpoint = "https://api.telegram.org/file/bot%s/%s"

// API is the slice of the Telegram client the handlers use.
// *tgbotapi.BotAPI satisfies it.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Analyzer runs the vision model over one chart image.
type Analyzer interface {
	Analyze(ctx context.Context, imageData []byte, mimeType string) (*gemini.Analysis, error)
}

// Enricher looks up live market data for the analyzed token. An absent
// result never blocks the reply.
type Enricher interface {
	Lookup(ctx context.Context, contractAddress, ticker, token string) (*market.Pair, error)
}

// Archiver stores a copy of the submitted image and returns its URL.
type Archiver interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type Bot struct {
	cfg       config.Config
	api       API
	token     string
	log       *slog.Logger
	store     *ledger.Store
	referrals *referral.Processor
	analyzer  Analyzer
	enricher  Enricher
	archiver  Archiver

	state        *StateManager
	httpClient   *http.Client
	fileEndpoint string
}

func NewBot(cfg config.Config, api API, log *slog.Logger, store *ledger.Store, referrals *referral.Processor, analyzer Analyzer, enricher Enricher, archiver Archiver) *Bot {
	return &Bot{
		cfg:          cfg,
		api:          api,
		token:        cfg.BotToken,
		log:          log,
		store:        store,
		referrals:    referrals,
		analyzer:     analyzer,
		enricher:     enricher,
		archiver:     archiver,
		state:        NewStateManager(),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		fileEndpoint: defaultFileEndpoint,
	}
}

// HandleUpdate processes one inbound update. It is the worker-stream entry
// point; every failure is converted to a user-facing reply here and never
// escapes to the HTTP layer.
func (b *Bot) HandleUpdate(ctx context.Context, update *tgbotapi.Update) error {
	switch {
	case update.PreCheckoutQuery != nil:
		return b.handlePreCheckout(update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		return b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		return b.handleMessage(ctx, update.Message)
	default:
		return nil
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.SuccessfulPayment != nil {
		return b.handleSuccessfulPayment(ctx, msg)
	}

	if len(msg.Photo) > 0 || isImageDocument(msg.Document) {
		b.handleScan(ctx, msg)
		return nil
	}

	if msg.IsCommand() {
		return b.handleCommand(ctx, msg)
	}

	b.sendText(msg.Chat.ID, "Send me a chart screenshot and I'll analyze it. Use /help for commands.")
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	account, created, err := b.ensureAccount(ctx, msg)
	if err != nil {
		b.log.Error("ensure account", "err", err)
		b.sendText(msg.Chat.ID, "Something went wrong, please try again.")
		return err
	}

	switch msg.Command() {
	case "start":
		if created {
			if code := strings.TrimSpace(msg.CommandArguments()); code != "" {
				if b.referrals.Process(ctx, code, account.UserID) {
					b.sendText(msg.Chat.ID, fmt.Sprintf("🎁 Referral bonus applied! +%d scans added to your balance.", b.cfg.ReferredSignupScans))
				}
			}
		}
		b.sendWithKeyboard(msg.Chat.ID, welcomeMessage(account.FirstName), mainKeyboard())
	case "help":
		b.sendText(msg.Chat.ID, helpMessage())
	case "scan":
		b.sendText(msg.Chat.ID, "📸 Send me a chart screenshot (photo or image file) and I'll break it down.")
	case "energy":
		b.showEnergy(ctx, msg.Chat.ID, account.UserID)
	case "history":
		b.showHistory(ctx, msg.Chat.ID, account.UserID)
	case "refer":
		b.showReferral(ctx, msg.Chat.ID, account.UserID)
	case "premium":
		b.sendWithKeyboard(msg.Chat.ID, premiumMessage(b.cfg.PremiumStarsMonthly), premiumKeyboard())
	case "leaderboard":
		b.showLeaderboard(ctx, msg.Chat.ID)
	default:
		b.sendText(msg.Chat.ID, "Unknown command. Use /help to see what I can do.")
	}
	return nil
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb.Message == nil || cb.From == nil {
		return nil
	}
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	ack := func(text string) {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
			b.log.Error("callback ack", "err", err)
		}
	}

	switch cb.Data {
	case "energy":
		ack("")
		b.showEnergy(ctx, chatID, userID)
	case "referral":
		ack("")
		b.showReferral(ctx, chatID, userID)
	case "premium":
		ack("")
		b.sendWithKeyboard(chatID, premiumMessage(b.cfg.PremiumStarsMonthly), premiumKeyboard())
	case "buy_scans":
		ack("")
		b.sendWithKeyboard(chatID, refillMessage(b.cfg.EnergyRefillScans, b.cfg.EnergyRefillStars), refillKeyboard())
	case "pay_premium":
		ack("")
		b.sendInvoice(chatID, "Premium Access",
			fmt.Sprintf("Unlimited chart scans for %d days.", 30*b.cfg.PremiumMonths),
			"premium_"+uuid.NewString(), b.cfg.PremiumStarsMonthly*b.cfg.PremiumMonths)
	case "pay_scans":
		ack("")
		b.sendInvoice(chatID, "Scan Refill",
			fmt.Sprintf("%d extra chart scans, never expire.", b.cfg.EnergyRefillScans),
			"scans_"+uuid.NewString(), b.cfg.EnergyRefillStars)
	case "detail":
		detail := b.state.LastDetail(chatID)
		if detail == "" {
			ack("No recent analysis")
			return nil
		}
		ack("")
		b.sendText(chatID, "📝 <b>Full breakdown</b>\n\n"+html.EscapeString(detail))
	default:
		ack("Unknown action")
	}
	return nil
}

func (b *Bot) handlePreCheckout(q *tgbotapi.PreCheckoutQuery) error {
	_, err := b.api.Request(tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: q.ID,
		OK:                 true,
	})
	if err != nil {
		b.log.Error("pre-checkout ack", "err", err)
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) error {
	account, _, err := b.ensureAccount(ctx, msg)
	if err != nil {
		b.log.Error("ensure account for payment", "err", err)
		return err
	}
	p := msg.SuccessfulPayment
	ref := p.TelegramPaymentChargeID

	switch {
	case strings.HasPrefix(p.InvoicePayload, "premium_"):
		if err := b.store.ActivatePremium(ctx, account.UserID, b.cfg.PremiumMonths, ref); err != nil {
			b.log.Error("activate premium", "err", err, "user_id", account.UserID)
			b.sendText(msg.Chat.ID, "Payment received but activation failed. Contact support with your payment id.")
			return err
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf("⭐ Premium activated! Unlimited scans for the next %d days.", 30*b.cfg.PremiumMonths))
	case strings.HasPrefix(p.InvoicePayload, "scans_"):
		if err := b.store.GrantBonus(ctx, account.UserID, b.cfg.EnergyRefillScans, ref); err != nil {
			b.log.Error("grant bonus", "err", err, "user_id", account.UserID)
			b.sendText(msg.Chat.ID, "Payment received but crediting failed. Contact support with your payment id.")
			return err
		}
		b.sendText(msg.Chat.ID, fmt.Sprintf("✅ +%d scans added to your balance!", b.cfg.EnergyRefillScans))
	default:
		b.log.Warn("unrecognized payment payload", "payload", p.InvoicePayload, "user_id", account.UserID)
	}
	return nil
}

func (b *Bot) sendInvoice(chatID int64, title, description, payload string, stars int) {
	invoice := tgbotapi.NewInvoice(chatID, title, description, payload,
		"", // Stars payments carry no provider token
		"", "XTR", []tgbotapi.LabeledPrice{{Label: title, Amount: stars}})
	if _, err := b.api.Send(invoice); err != nil {
		b.log.Error("send invoice", "err", err)
		b.sendText(chatID, "Could not create the invoice, please try again later.")
	}
}

func (b *Bot) showEnergy(ctx context.Context, chatID, userID int64) {
	status, err := b.store.EnergyStatus(ctx, userID)
	if err != nil {
		b.log.Error("energy status", "err", err, "user_id", userID)
		b.sendText(chatID, "Could not load your balance, please try again.")
		return
	}
	b.sendWithKeyboard(chatID, energyMessage(status, b.cfg.FreeDailyScans), energyKeyboard())
}

func (b *Bot) showHistory(ctx context.Context, chatID, userID int64) {
	records, err := b.store.ScanHistory(ctx, userID, 5)
	if err != nil {
		b.log.Error("scan history", "err", err, "user_id", userID)
		b.sendText(chatID, "Could not load your history, please try again.")
		return
	}
	b.sendText(chatID, historyMessage(records))
}

func (b *Bot) showReferral(ctx context.Context, chatID, userID int64) {
	account, err := b.store.Get(ctx, userID)
	if err != nil {
		b.log.Error("get account", "err", err, "user_id", userID)
		b.sendText(chatID, "Could not load your referral info, please try again.")
		return
	}
	count, err := b.store.ReferralCount(ctx, userID)
	if err != nil {
		b.log.Error("referral count", "err", err, "user_id", userID)
		count = 0
	}
	b.sendText(chatID, referralMessage(account.ReferralCode, count, b.cfg.BotUsername, b.cfg.ReferralBonusScans, b.cfg.ReferredSignupScans))
}

func (b *Bot) showLeaderboard(ctx context.Context, chatID int64) {
	entries, err := b.store.Leaderboard(ctx, 10)
	if err != nil {
		b.log.Error("leaderboard", "err", err)
		b.sendText(chatID, "Could not load the leaderboard, please try again.")
		return
	}
	b.sendText(chatID, leaderboardMessage(entries))
}

func (b *Bot) ensureAccount(ctx context.Context, msg *tgbotapi.Message) (*models.Account, bool, error) {
	userID := msg.Chat.ID
	username, firstName := "", ""
	if msg.From != nil {
		userID = msg.From.ID
		username = msg.From.UserName
		firstName = msg.From.FirstName
	}
	created := false
	if _, err := b.store.Get(ctx, userID); errors.Is(err, ledger.ErrAccountNotFound) {
		created = true
	}
	acc, err := b.store.GetOrCreate(ctx, userID, username, firstName)
	if err != nil {
		return nil, false, err
	}
	return acc, created, nil
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "err", err)
	}
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf(b.fileEndpoint, b.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func isImageDocument(doc *tgbotapi.Document) bool {
	if doc == nil {
		return false
	}
	mt := strings.ToLower(doc.MimeType)
	return mt == "" || strings.HasPrefix(mt, "image/")
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", fmt.Errorf("unsupported image type %q", ct)
	}
}
