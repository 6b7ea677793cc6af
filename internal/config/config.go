package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken     string
	BotUsername  string
	WebhookURL   string
	DatabasePath string
	ListenAddr   string
	WebAppURL    string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	RequestTimeout    time.Duration
	WorkerWaitTimeout time.Duration
	BridgeInitTimeout time.Duration

	FreeDailyScans      int
	ReferralBonusScans  int
	ReferredSignupScans int
	EnergyRefillScans   int
	EnergyRefillStars   int
	PremiumStarsMonthly int
	PremiumMonths       int

	DexScreenerBaseURL string
	RedisAddr          string
	RedisPassword      string
	EnrichmentCacheTTL time.Duration

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// Load reads configuration from environment variables, applying the defaults
// the bot has always shipped with (3 free scans/day, 5 scans per referral).
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Config{
		DatabasePath: getEnv("DATABASE_PATH", "data/bot.db"),
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		WebAppURL:    getEnv("WEBAPP_URL", ""),

		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		RequestTimeout:    time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		WorkerWaitTimeout: time.Second * time.Duration(getInt("WORKER_WAIT_SECONDS", 60)),
		BridgeInitTimeout: time.Second * time.Duration(getInt("BRIDGE_INIT_SECONDS", 30)),

		FreeDailyScans:      getInt("FREE_DAILY_SCANS", 3),
		ReferralBonusScans:  getInt("REFERRAL_BONUS_SCANS", 5),
		ReferredSignupScans: getInt("REFERRED_SIGNUP_SCANS", 3),
		EnergyRefillScans:   getInt("ENERGY_REFILL_SCANS", 5),
		EnergyRefillStars:   getInt("ENERGY_REFILL_STARS", 5),
		PremiumStarsMonthly: getInt("PREMIUM_STARS_MONTHLY", 150),
		PremiumMonths:       getInt("PREMIUM_MONTHS", 1),

		DexScreenerBaseURL: getEnv("DEXSCREENER_BASE_URL", "https://api.dexscreener.com"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		EnrichmentCacheTTL: time.Second * time.Duration(getInt("ENRICHMENT_CACHE_TTL_SECONDS", 60)),

		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3Region:        os.Getenv("S3_REGION"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "scans"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.BotUsername = strings.TrimPrefix(os.Getenv("BOT_USERNAME"), "@")
	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

// ArchiveEnabled reports whether the optional S3 scan archive is configured.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3PublicBaseURL != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
