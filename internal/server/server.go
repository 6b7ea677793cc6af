// Package server is the HTTP front door: the Telegram webhook endpoint plus
// a small read-only API consumed by the stats dashboard.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/inkerlabs/chartscan-bot/internal/bridge"
	"github.com/inkerlabs/chartscan-bot/internal/ledger"
)

// Dispatcher forwards one decoded update into the worker stream.
type Dispatcher interface {
	Dispatch(update *tgbotapi.Update) error
}

type Server struct {
	addr   string
	log    *slog.Logger
	bridge Dispatcher
	store  *ledger.Store
	router *chi.Mux
}

func NewServer(addr string, log *slog.Logger, dispatcher Dispatcher, store *ledger.Store) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:   addr,
		log:    log,
		bridge: dispatcher,
		store:  store,
		router: r,
	}

	r.Get("/", s.handleStatus)
	r.Post("/webhook", s.handleWebhook)
	r.Route("/api", func(r chi.Router) {
		r.Get("/energy/{userID}", s.handleEnergy)
		r.Get("/history/{userID}", s.handleHistory)
		r.Get("/stats/{userID}", s.handleStats)
		r.Get("/leaderboard", s.handleLeaderboard)
	})
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // webhook handler may wait on the worker
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// handleWebhook forwards the raw update into the worker stream. Every
// outcome except bridge-not-ready answers 200: a worker error or timeout
// must not trigger an upstream redelivery that would duplicate side effects
// already committed.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.log.Warn("malformed webhook payload", "err", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.bridge.Dispatch(&update); err != nil {
		if errors.Is(err, bridge.ErrNotReady) {
			http.Error(w, "initializing", http.StatusServiceUnavailable)
			return
		}
		s.log.Error("dispatch failed", "err", err, "update_id", update.UpdateID)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	status, err := s.store.EnergyStatus(r.Context(), userID)
	if err != nil {
		s.notFoundOrInternal(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"is_premium":      status.IsPremium,
		"used_today":      status.UsedToday,
		"free_remaining":  status.FreeRemaining,
		"bonus_remaining": status.BonusRemaining,
		"total_remaining": status.TotalRemaining,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	records, err := s.store.ScanHistory(r.Context(), userID, limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	type item struct {
		ID         int64     `json:"id"`
		CreatedAt  time.Time `json:"created_at"`
		Token      string    `json:"token"`
		Ticker     string    `json:"ticker"`
		Trend      string    `json:"trend"`
		Action     string    `json:"action"`
		Confidence int       `json:"confidence"`
		RiskLevel  string    `json:"risk_level"`
		Verdict    string    `json:"verdict"`
	}
	out := make([]item, 0, len(records))
	for _, rec := range records {
		out = append(out, item{
			ID:         rec.ID,
			CreatedAt:  rec.CreatedAt,
			Token:      rec.Token,
			Ticker:     rec.Ticker,
			Trend:      rec.Trend,
			Action:     rec.Action,
			Confidence: rec.Confidence,
			RiskLevel:  rec.RiskLevel,
			Verdict:    rec.Verdict,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userIDParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	account, err := s.store.Get(ctx, userID)
	if err != nil {
		s.notFoundOrInternal(w, err)
		return
	}
	referrals, err := s.store.ReferralCount(ctx, userID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":        account.UserID,
		"lifetime_scans": account.LifetimeScanCount,
		"bonus_balance":  account.BonusBalance,
		"is_premium":     account.IsPremium,
		"referral_code":  account.ReferralCode,
		"referrals":      referrals,
		"joined_at":      account.JoinedAt,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Leaderboard(r.Context(), 10)
	if err != nil {
		s.internalError(w, err)
		return
	}
	type item struct {
		UserID     int64  `json:"user_id"`
		Username   string `json:"username"`
		FirstName  string `json:"first_name"`
		TotalScans int    `json:"total_scans"`
	}
	out := make([]item, 0, len(entries))
	for _, e := range entries {
		out = append(out, item(e))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "userID")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return userID, true
}

func (s *Server) notFoundOrInternal(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrAccountNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.internalError(w, err)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "err", err)
	}
}
