package api

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/config"
	"github.com/tgparkk/stockbot/internal/store"
)

type fakeCore struct {
	paused        bool
	refreshErr    error
	refreshCalled bool
	stats         Stats
	trades        []store.Trade
	exportSince   time.Time
	shutdownCh    chan struct{}
}

func (f *fakeCore) Pause()  { f.paused = true }
func (f *fakeCore) Resume() { f.paused = false }
func (f *fakeCore) ForceRefresh(ctx context.Context) error {
	f.refreshCalled = true
	return f.refreshErr
}
func (f *fakeCore) Stats() Stats { return f.stats }
func (f *fakeCore) ExportTrades(ctx context.Context, since time.Time) ([]store.Trade, error) {
	f.exportSince = since
	return f.trades, nil
}
func (f *fakeCore) Shutdown() {
	if f.shutdownCh != nil {
		close(f.shutdownCh)
	}
}

const testSecret = "test-secret"

func newTestServer(t *testing.T, core *fakeCore) *Server {
	t.Helper()
	return NewServer(config.APIConfig{ListenAddr: ":0", JWTSecret: testSecret}, core)
}

func authedRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	token, err := GenerateOperatorToken(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateOperatorToken: %v", err)
	}
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthRequiresNoAuth(t *testing.T) {
	s := newTestServer(t, &fakeCore{})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestOperatorRoutesRejectMissingToken(t *testing.T) {
	s := newTestServer(t, &fakeCore{})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestOperatorRoutesRejectTokenSignedWithWrongSecret(t *testing.T) {
	s := newTestServer(t, &fakeCore{})
	token, err := GenerateOperatorToken("wrong-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateOperatorToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with mismatched secret, got %d", rec.Code)
	}
}

func TestPauseAndResumeToggleCore(t *testing.T) {
	core := &fakeCore{}
	s := newTestServer(t, core)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/pause"))
	if rec.Code != http.StatusOK || !core.paused {
		t.Fatalf("expected pause to take effect, got code=%d paused=%v", rec.Code, core.paused)
	}

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/resume"))
	if rec.Code != http.StatusOK || core.paused {
		t.Fatalf("expected resume to take effect, got code=%d paused=%v", rec.Code, core.paused)
	}
}

func TestForceRefreshPropagatesCoreError(t *testing.T) {
	core := &fakeCore{refreshErr: apperr.New(apperr.Validation, "no active slot to refresh")}
	s := newTestServer(t, core)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/refresh"))
	if !core.refreshCalled {
		t.Fatal("expected ForceRefresh to be called")
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on refresh error, got %d", rec.Code)
	}
}

func TestStatsReturnsCoreSnapshot(t *testing.T) {
	core := &fakeCore{stats: Stats{ActiveSlot: "early_market", OwnedSymbols: 12, Paused: true}}
	s := newTestServer(t, core)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/stats"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "early_market") {
		t.Fatalf("expected body to contain active slot, got %s", rec.Body.String())
	}
}

func TestExportCSVWritesTradeRows(t *testing.T) {
	pnl := 500.0
	core := &fakeCore{trades: []store.Trade{
		{ID: 1, Side: "SELL", Symbol: "000111", Qty: 10, Price: 1500, Total: 15000, Strategy: "gap", Timestamp: time.Now(), Status: "FILLED", PnL: &pnl},
	}}
	s := newTestServer(t, core)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/export?days=30"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv content type, got %s", ct)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("parsing csv body: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 data row, got %d rows", len(rows))
	}
	if rows[1][2] != "000111" {
		t.Fatalf("expected exported symbol 000111, got %+v", rows[1])
	}
	if time.Since(core.exportSince) < 29*24*time.Hour {
		t.Fatalf("expected export window to span roughly 30 days, got since=%v", core.exportSince)
	}
}

func TestShutdownInvokesCoreAsynchronously(t *testing.T) {
	core := &fakeCore{shutdownCh: make(chan struct{})}
	s := newTestServer(t, core)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/shutdown"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	select {
	case <-core.shutdownCh:
	case <-time.After(time.Second):
		t.Fatal("expected Shutdown to be invoked")
	}
}
