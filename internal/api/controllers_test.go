package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/market"
	"tradecore/internal/mode"
	"tradecore/internal/monitor"
	"tradecore/internal/order"
	"tradecore/internal/risk"
	"tradecore/internal/signal"
	"tradecore/pkg/db"
	"tradecore/pkg/exchange"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus()

	cache := market.NewCache()
	cache.Apply(exchange.Tick{Symbol: "BTC/USD", Price: 100, Volume: 1000})

	modes := mode.NewManager(bus)
	modes.Register(mode.NewPaper(mode.PaperConfig{
		InitialBalance: 10000,
		FeeRate:        0.0005,
	}, cache))

	orders := order.NewManager(order.Config{
		MaxConcurrentExecutions: 2,
		ExecutionTimeout:        time.Second,
		RetryDelay:              10 * time.Millisecond,
		MaxRetries:              2,
		RetentionPeriod:         time.Hour,
	}, modes, bus)
	modes.SetDrainer(orders)

	riskMgr := risk.NewManager(risk.Config{
		InitialBalance: 10000,
		Rules:          risk.DefaultRules(),
	}, bus)

	signals := signal.NewProcessor(signal.DefaultConfig(), bus)

	eng := engine.New(engine.Config{
		TickInterval: 10 * time.Millisecond,
		StopGrace:    time.Second,
		TradeAmount:  1,
		Version:      "test",
	}, engine.Deps{
		Bus:     bus,
		Modes:   modes,
		Orders:  orders,
		Risk:    riskMgr,
		Signals: signals,
		Market:  cache,
		Metrics: monitor.NewSystemMetrics(),
	})

	if err := modes.SetMode(context.Background(), mode.ModePaper); err != nil {
		t.Fatalf("SetMode(paper): %v", err)
	}
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	hash, err := HashPassword("sesame")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	s := NewServer(Deps{
		Bus:       bus,
		Engine:    eng,
		Modes:     modes,
		Orders:    orders,
		RiskMgr:   riskMgr,
		Signals:   signals,
		Metrics:   monitor.NewSystemMetrics(),
		JWTSecret: "test-secret",
		Creds:     Credentials{Operator: "ops", PasswordHash: hash},
	})
	t.Cleanup(func() { _ = eng.Stop() })
	return s
}

func doRequest(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, s *Server) string {
	t.Helper()
	w := doRequest(t, s, http.MethodPost, "/api/auth/login", "", gin.H{
		"operator": "ops",
		"password": "sesame",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	if w := doRequest(t, s, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodPost, "/api/auth/login", "", gin.H{
		"operator": "ops",
		"password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	if w := doRequest(t, s, http.MethodGet, "/api/orders", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}
	if w := doRequest(t, s, http.MethodGet, "/api/orders", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d, want 401", w.Code)
	}
}

func TestEngineLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	// Pause before start is an invalid transition.
	if w := doRequest(t, s, http.MethodPost, "/api/engine/pause", token, nil); w.Code != http.StatusConflict {
		t.Fatalf("pause before start = %d, want 409", w.Code)
	}

	if w := doRequest(t, s, http.MethodPost, "/api/engine/start", token, nil); w.Code != http.StatusOK {
		t.Fatalf("start = %d: %s", w.Code, w.Body.String())
	}
	if w := doRequest(t, s, http.MethodPost, "/api/engine/start", token, nil); w.Code != http.StatusConflict {
		t.Fatalf("double start = %d, want 409", w.Code)
	}
	if w := doRequest(t, s, http.MethodPost, "/api/engine/pause", token, nil); w.Code != http.StatusOK {
		t.Fatalf("pause = %d", w.Code)
	}
	if w := doRequest(t, s, http.MethodPost, "/api/engine/resume", token, nil); w.Code != http.StatusOK {
		t.Fatalf("resume = %d", w.Code)
	}
	if w := doRequest(t, s, http.MethodPost, "/api/engine/stop", token, nil); w.Code != http.StatusOK {
		t.Fatalf("stop = %d", w.Code)
	}

	w := doRequest(t, s, http.MethodGet, "/api/system/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != "stopped" {
		t.Fatalf("engine state = %s, want stopped", st.State)
	}
}

func TestSubmitOrderFillsOnPaper(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	if w := doRequest(t, s, http.MethodPost, "/api/engine/start", token, nil); w.Code != http.StatusOK {
		t.Fatalf("start = %d", w.Code)
	}

	w := doRequest(t, s, http.MethodPost, "/api/orders", token, gin.H{
		"symbol": "BTC/USD",
		"side":   "buy",
		"amount": 1,
		"price":  100,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit = %d: %s", w.Code, w.Body.String())
	}
	var submitted order.Order
	if err := json.Unmarshal(w.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode order: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		w = doRequest(t, s, http.MethodGet, "/api/orders/"+submitted.ID, token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get order = %d", w.Code)
		}
		var got order.Order
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode order: %v", err)
		}
		if got.Status == order.StatusFilled {
			if got.TotalFee != 0.05 {
				t.Fatalf("fee = %v, want 0.05", got.TotalFee)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("order never filled, status %s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Terminal orders cannot be cancelled.
	if w := doRequest(t, s, http.MethodDelete, "/api/orders/"+submitted.ID, token, nil); w.Code != http.StatusConflict {
		t.Fatalf("cancel filled = %d, want 409", w.Code)
	}
}

func TestEmergencyStopEndpointBlocksOrders(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	if w := doRequest(t, s, http.MethodPost, "/api/risk/emergency-stop", token, gin.H{"reason": "drill"}); w.Code != http.StatusOK {
		t.Fatalf("trigger = %d", w.Code)
	}

	w := doRequest(t, s, http.MethodPost, "/api/orders", token, gin.H{
		"symbol": "BTC/USD",
		"side":   "buy",
		"amount": 1,
		"price":  100,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("submit while latched = %d, want 422", w.Code)
	}

	if w := doRequest(t, s, http.MethodDelete, "/api/risk/emergency-stop", token, nil); w.Code != http.StatusOK {
		t.Fatalf("clear = %d", w.Code)
	}
	w = doRequest(t, s, http.MethodPost, "/api/orders", token, gin.H{
		"symbol": "BTC/USD",
		"side":   "buy",
		"amount": 1,
		"price":  100,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit after clear = %d: %s", w.Code, w.Body.String())
	}
}

func TestOrderHistoryServesAuditRows(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	// No audit store wired.
	if w := doRequest(t, s, http.MethodGet, "/api/audit/orders", token, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("history without store = %d, want 503", w.Code)
	}

	database, err := db.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Now().UTC()
	if _, err := database.DB.Exec(`
		INSERT INTO orders (id, client_order_id, symbol, side, order_type, amount, price,
			filled_amount, average_price, total_fee, status, priority, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"o-1", "c-1", "BTC/USD", "buy", "market", 1.0, 100.0, 1.0, 100.0, 0.05, "filled", 1, 0, now, now); err != nil {
		t.Fatalf("seed order row: %v", err)
	}
	s.Audit = database

	w := doRequest(t, s, http.MethodGet, "/api/audit/orders?limit=10", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Orders []db.OrderRecord `json:"orders"`
		Count  int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if resp.Count != 1 || len(resp.Orders) != 1 {
		t.Fatalf("count = %d orders = %d, want 1/1", resp.Count, len(resp.Orders))
	}
	if resp.Orders[0].ID != "o-1" || resp.Orders[0].Status != "filled" {
		t.Errorf("unexpected row: %+v", resp.Orders[0])
	}
}

func TestSetModeRejectsUnknown(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	if w := doRequest(t, s, http.MethodPost, "/api/mode", token, gin.H{"mode": "turbo"}); w.Code != http.StatusBadRequest {
		t.Fatalf("set unknown mode = %d, want 400", w.Code)
	}
	if w := doRequest(t, s, http.MethodGet, "/api/mode", token, nil); w.Code != http.StatusOK {
		t.Fatalf("get mode = %d", w.Code)
	}
}
