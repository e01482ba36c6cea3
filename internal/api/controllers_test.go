package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signal-core/internal/decision"
	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/indicators"
	"signal-core/internal/journal"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/risk"
)

const testSecret = "test-secret"

type fakeEngine struct {
	mu      sync.Mutex
	last    *engine.CycleReport
	gate    *risk.Gate
	memory  *decision.Memory
	closed  []string
	reasons []string
	failErr error
}

func (f *fakeEngine) LastCycle() *engine.CycleReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeEngine) Cycles() int64 {
	if f.LastCycle() == nil {
		return 0
	}
	return 1
}

func (f *fakeEngine) setLast(rep *engine.CycleReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = rep
}

func (f *fakeEngine) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeEngine) calls() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...), append([]string(nil), f.reasons...)
}

func (f *fakeEngine) Gate() *risk.Gate         { return f.gate }
func (f *fakeEngine) Memory() *decision.Memory { return f.memory }
func (f *fakeEngine) CloseManual(_ context.Context, symbol, reason string) ([]order.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, symbol)
	f.reasons = append(f.reasons, reason)
	if f.failErr != nil {
		return nil, f.failErr
	}
	return []order.CloseResult{{Symbol: "BTCUSDT", Side: "SELL", ClosePrice: 60000, Quantity: 0.01}}, nil
}

type fakeFeed struct{}

func (fakeFeed) Snapshot() market.FeedSnapshot {
	return market.FeedSnapshot{Symbol: "BTCUSDT", Price: 60000, Connected: true, State: "connected"}
}

type testEnv struct {
	ts      *httptest.Server
	engine  *fakeEngine
	journal *journal.Journal
	bus     *events.Bus
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jr, err := journal.Open(":memory:", "BTCUSDT", zerolog.Nop())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	eng := &fakeEngine{
		gate:   risk.NewGate(10000, risk.DefaultLimits()),
		memory: decision.NewMemory(decision.DefaultMemorySize),
	}
	bus := events.NewBus()

	opts.Engine = eng
	opts.Feed = fakeFeed{}
	opts.Journal = jr
	opts.Bus = bus
	opts.Metrics = monitor.NewMetrics()
	opts.JWTSecret = testSecret
	opts.Log = zerolog.Nop()
	server := NewServer(opts)

	ts := httptest.NewServer(server.Router)
	t.Cleanup(func() {
		ts.Close()
		_ = jr.Close()
	})
	return &testEnv{ts: ts, engine: eng, journal: jr, bus: bus}
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, _, err := IssueToken("ops", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t, Options{})
	client := env.ts.Client()

	var health struct {
		Status string `json:"status"`
		Stream string `json:"stream"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/health", "", nil, &health); status != http.StatusOK {
		t.Fatalf("health status=%d", status)
	}
	if health.Status != "ok" || health.Stream != "connected" {
		t.Fatalf("unexpected health %+v", health)
	}

	env.engine.setLast(&engine.CycleReport{
		ID:       "c-1",
		Kind:     "full",
		Outcome:  engine.OutcomeRejected,
		Decision: &decision.Decision{Action: decision.ActionBuy},
		Verdict:  &risk.Verdict{Allowed: false, Reason: "confidence too low"},
	})
	var st struct {
		Cycles    int64 `json:"cycles"`
		LastCycle struct {
			ID      string `json:"id"`
			Outcome string `json:"outcome"`
			Action  string `json:"action"`
			Reason  string `json:"reason"`
		} `json:"last_cycle"`
		Risk struct {
			StartingBalance float64 `json:"starting_balance"`
		} `json:"risk"`
		Feed struct {
			Price float64 `json:"price"`
		} `json:"feed"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/status", "", nil, &st); status != http.StatusOK {
		t.Fatalf("status endpoint=%d", status)
	}
	if st.Cycles != 1 || st.LastCycle.ID != "c-1" || st.LastCycle.Outcome != "rejected" {
		t.Fatalf("unexpected last cycle %+v", st)
	}
	if st.LastCycle.Action != "BUY" || st.LastCycle.Reason != "confidence too low" {
		t.Fatalf("unexpected brief %+v", st.LastCycle)
	}
	if st.Risk.StartingBalance != 10000 || st.Feed.Price != 60000 {
		t.Fatalf("unexpected risk/feed %+v", st)
	}
}

func TestSnapshotBeforeAndAfterCycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	client := env.ts.Client()

	var errResp struct {
		Code string `json:"code"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/snapshot", "", nil, &errResp); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if errResp.Code != "NO_CYCLE" {
		t.Fatalf("unexpected code %s", errResp.Code)
	}

	env.engine.setLast(&engine.CycleReport{
		ID:         "c-2",
		Kind:       "full",
		Price:      61000,
		Indicators: &indicators.Snapshot{},
		Timeframes: &indicators.MultiTimeframe{},
	})
	var snap struct {
		CycleID string  `json:"cycle_id"`
		Price   float64 `json:"price"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/snapshot", "", nil, &snap); status != http.StatusOK {
		t.Fatalf("snapshot status=%d", status)
	}
	if snap.CycleID != "c-2" || snap.Price != 61000 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestJournalAndPerformance(t *testing.T) {
	env := newTestEnv(t, Options{})
	client := env.ts.Client()
	ctx := context.Background()

	for _, pnl := range []float64{25, -10} {
		err := env.journal.Log(ctx, journal.Entry{
			Decision: decision.Decision{Action: decision.ActionClose},
			PnL:      journal.Float(pnl),
			Equity:   journal.Float(10000 + pnl),
		})
		if err != nil {
			t.Fatalf("journal.Log: %v", err)
		}
	}

	var records []struct {
		Action string   `json:"action"`
		PnL    *float64 `json:"pnl"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/journal?limit=1", "", nil, &records); status != http.StatusOK {
		t.Fatalf("journal status=%d", status)
	}
	if len(records) != 1 || records[0].Action != "CLOSE" || records[0].PnL == nil || *records[0].PnL != -10 {
		t.Fatalf("unexpected records %+v", records)
	}

	var perf struct {
		Memory struct {
			TotalTrades int `json:"total_trades"`
		} `json:"memory"`
		Journal struct {
			ClosedTrades int     `json:"closed_trades"`
			Wins         int     `json:"wins"`
			TotalPnL     float64 `json:"total_pnl"`
		} `json:"journal"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/api/performance", "", nil, &perf); status != http.StatusOK {
		t.Fatalf("performance status=%d", status)
	}
	if perf.Memory.TotalTrades != 0 {
		t.Fatalf("expected empty memory, got %+v", perf.Memory)
	}
	if perf.Journal.ClosedTrades != 2 || perf.Journal.Wins != 1 || perf.Journal.TotalPnL != 15 {
		t.Fatalf("unexpected journal stats %+v", perf.Journal)
	}
}

func TestClosePositionsRequiresToken(t *testing.T) {
	env := newTestEnv(t, Options{})
	client := env.ts.Client()

	var resp struct {
		Code string `json:"code"`
	}
	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/positions/close", "", map[string]string{"symbol": "all"}, &resp)
	if status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("expected 401 MISSING_TOKEN, got %d %s", status, resp.Code)
	}

	forged, _, err := IssueToken("ops", "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/positions/close", forged, map[string]string{"symbol": "all"}, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_TOKEN" {
		t.Fatalf("expected 401 INVALID_TOKEN, got %d %s", status, resp.Code)
	}
	if closed, _ := env.engine.calls(); len(closed) != 0 {
		t.Fatalf("engine must not be touched without auth")
	}
}

func TestClosePositions(t *testing.T) {
	env := newTestEnv(t, Options{})
	client := env.ts.Client()
	token := operatorToken(t)

	var resp struct {
		Closed []order.CloseResult `json:"closed"`
	}
	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/positions/close", token, map[string]string{"symbol": "ALL"}, &resp)
	if status != http.StatusOK {
		t.Fatalf("close status=%d", status)
	}
	if len(resp.Closed) != 1 || resp.Closed[0].Side != "SELL" {
		t.Fatalf("unexpected close result %+v", resp)
	}
	closed, reasons := env.engine.calls()
	if closed[0] != "all" || !strings.Contains(reasons[0], "ops") {
		t.Fatalf("unexpected engine call %v %v", closed, reasons)
	}

	var bad struct {
		Code string `json:"code"`
	}
	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/positions/close", token, map[string]string{}, &bad)
	if status != http.StatusBadRequest || bad.Code != "INVALID_REQUEST" {
		t.Fatalf("expected validation error, got %d %s", status, bad.Code)
	}

	env.engine.setFail(errors.New("exchange down"))
	status = doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/positions/close", token, map[string]string{"symbol": "btcusdt"}, &bad)
	if status != http.StatusBadGateway || bad.Code != "CLOSE_FAILED" {
		t.Fatalf("expected 502 CLOSE_FAILED, got %d %s", status, bad.Code)
	}
	closed, _ = env.engine.calls()
	if closed[len(closed)-1] != "BTCUSDT" {
		t.Fatalf("symbol should be upper-cased, got %v", closed)
	}
}

func TestResetLosses(t *testing.T) {
	env := newTestEnv(t, Options{})
	client := env.ts.Client()
	env.engine.gate.RecordTradeResult(-5)
	env.engine.gate.RecordTradeResult(-5)

	var resp struct {
		Previous          int `json:"previous"`
		ConsecutiveLosses int `json:"consecutive_losses"`
	}
	status := doJSONRequest(t, client, http.MethodPost, env.ts.URL+"/api/risk/reset-losses", operatorToken(t), nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("reset status=%d", status)
	}
	if resp.Previous != 2 || resp.ConsecutiveLosses != 0 {
		t.Fatalf("unexpected reset response %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	client := env.ts.Client()

	doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/health", "", nil, nil)

	resp, err := client.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `signal_api_requests_total{code="200",route="/health"}`) {
		t.Fatalf("request counter missing from metrics output")
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 0.001, Burst: 2})
	client := env.ts.Client()

	for i := 0; i < 2; i++ {
		if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/health", "", nil, nil); status != http.StatusOK {
			t.Fatalf("request %d status=%d", i, status)
		}
	}
	var resp struct {
		Code string `json:"code"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, env.ts.URL+"/health", "", nil, &resp); status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if resp.Code != "RATE_LIMITED" {
		t.Fatalf("unexpected code %s", resp.Code)
	}
}

func TestWebsocketStreamsBusEvents(t *testing.T) {
	env := newTestEnv(t, Options{})

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the subscription is registered after the upgrade, so keep publishing
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.bus.Publish(events.EventDecision, "c-9", map[string]string{"action": "HOLD"})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg events.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != events.EventDecision || msg.CycleID != "c-9" {
		t.Fatalf("unexpected message %+v", msg)
	}
}
