package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkerlabs/chartscan-bot/internal/bridge"
	"github.com/inkerlabs/chartscan-bot/internal/database"
	"github.com/inkerlabs/chartscan-bot/internal/ledger"
)

type fakeDispatcher struct {
	err     error
	updates []*tgbotapi.Update
}

func (f *fakeDispatcher) Dispatch(update *tgbotapi.Update) error {
	f.updates = append(f.updates, update)
	return f.err
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestServer(t *testing.T, dispatcher Dispatcher) (*Server, *ledger.Store) {
	t.Helper()
	db, err := database.Connect(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	store := ledger.New(db, ledger.Params{DailyAllowance: 3, ReferralReward: 5, SignupBonus: 3})
	log := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewServer(":0", log, dispatcher, store), store
}

func TestWebhookDispatches(t *testing.T) {
	d := &fakeDispatcher{}
	s, _ := newTestServer(t, d)

	body := `{"update_id": 7, "message": {"message_id": 1, "chat": {"id": 42}, "text": "hi"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.updates, 1)
	assert.Equal(t, 7, d.updates[0].UpdateID)
}

func TestWebhookNotReadyAnswers503(t *testing.T) {
	d := &fakeDispatcher{err: bridge.ErrNotReady}
	s, _ := newTestServer(t, d)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id": 1}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookWorkerTimeoutStillAnswers200(t *testing.T) {
	d := &fakeDispatcher{err: bridge.ErrWorkerTimeout}
	s, _ := newTestServer(t, d)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"update_id": 1}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookMalformedBodyAnswers200(t *testing.T) {
	d := &fakeDispatcher{}
	s, _ := newTestServer(t, d)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, d.updates)
}

func TestEnergyEndpoint(t *testing.T) {
	s, store := newTestServer(t, &fakeDispatcher{})
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 42, "ann", "Ann")
	require.NoError(t, err)
	_, err = store.CommitConsumption(ctx, 42)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/energy/42", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(2), out["free_remaining"])
	assert.Equal(t, float64(1), out["used_today"])
}

func TestEnergyEndpointUnknownUser(t *testing.T) {
	s, _ := newTestServer(t, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/energy/999", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnergyEndpointBadUserID(t *testing.T) {
	s, _ := newTestServer(t, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/energy/abc", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryEndpointRespectsLimit(t *testing.T) {
	s, store := newTestServer(t, &fakeDispatcher{})
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 42, "ann", "Ann")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.ConsumeAndRecord(ctx, 42, ledger.ScanSummary{Token: "Pepe", Action: "Buy", Confidence: 6}, "ref")
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history/42?limit=2", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 2)
}

func TestStatsEndpoint(t *testing.T) {
	s, store := newTestServer(t, &fakeDispatcher{})
	ctx := context.Background()

	account, err := store.GetOrCreate(ctx, 42, "ann", "Ann")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/stats/42", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, account.ReferralCode, out["referral_code"])
	assert.Equal(t, float64(0), out["lifetime_scans"])
}

func TestLeaderboardEndpoint(t *testing.T) {
	s, store := newTestServer(t, &fakeDispatcher{})
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, 42, "ann", "Ann")
	require.NoError(t, err)
	_, err = store.ConsumeAndRecord(ctx, 42, ledger.ScanSummary{Token: "Pepe"}, "ref")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, float64(1), out[0]["total_scans"])
}
