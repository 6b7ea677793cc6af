package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/inkerlabs/chartscan-bot/internal/bridge"
	"github.com/inkerlabs/chartscan-bot/internal/config"
	"github.com/inkerlabs/chartscan-bot/internal/database"
	"github.com/inkerlabs/chartscan-bot/internal/gemini"
	"github.com/inkerlabs/chartscan-bot/internal/ledger"
	"github.com/inkerlabs/chartscan-bot/internal/market"
	"github.com/inkerlabs/chartscan-bot/internal/referral"
	"github.com/inkerlabs/chartscan-bot/internal/server"
	"github.com/inkerlabs/chartscan-bot/internal/storage"
	"github.com/inkerlabs/chartscan-bot/internal/telegram"
	"github.com/inkerlabs/chartscan-bot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	store := ledger.New(db, ledger.Params{
		DailyAllowance: cfg.FreeDailyScans,
		ReferralReward: cfg.ReferralBonusScans,
		SignupBonus:    cfg.ReferredSignupScans,
	})
	referrals := referral.New(store, logr)

	analyzer := gemini.NewClient(gemini.Options{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Timeout: cfg.RequestTimeout,
	}, logr)

	enrichmentCache := market.NewCache(cfg.RedisAddr, cfg.RedisPassword, cfg.EnrichmentCacheTTL, logr)
	enricher := market.NewClient(cfg.DexScreenerBaseURL, enrichmentCache, logr)

	var archiver telegram.Archiver
	if cfg.ArchiveEnabled() {
		archive, err := storage.NewArchive(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("scan archive: %v", err)
		}
		archiver = archive
		logr.Info("scan archive enabled", "bucket", cfg.S3Bucket)
	}

	// The Telegram client is constructed inside the worker stream on the
	// first delivered update, never on an HTTP goroutine.
	factory := func(ctx context.Context) (bridge.Handler, error) {
		botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return nil, err
		}
		return telegram.NewBot(cfg, botAPI, logr, store, referrals, analyzer, enricher, archiver), nil
	}

	dispatcher := bridge.New(factory, logr, bridge.Options{
		WaitTimeout: cfg.WorkerWaitTimeout,
		InitTimeout: cfg.BridgeInitTimeout,
	})
	defer dispatcher.Stop()

	if cfg.WebhookURL != "" {
		if err := telegram.RegisterWebhook(ctx, "", cfg.BotToken, cfg.WebhookURL); err != nil {
			log.Fatalf("register webhook: %v", err)
		}
		logr.Info("webhook registered", "url", cfg.WebhookURL)
	}

	srv := server.NewServer(cfg.ListenAddr, logr, dispatcher, store)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
