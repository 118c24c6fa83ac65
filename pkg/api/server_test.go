package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trade-ledger/pkg/auth"
	"trade-ledger/pkg/cache/memory"
	"trade-ledger/pkg/ledger"
	"trade-ledger/pkg/quote"
	memstore "trade-ledger/pkg/store/memory"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	server   *Server
	handler  http.Handler
	registry *prometheus.Registry
	book     *quote.Book
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	quotesLayer := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "quotes"})
	sessionsLayer := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "sessions"})
	t.Cleanup(func() {
		quotesLayer.Close()
		sessionsLayer.Close()
	})

	book := quote.NewBook(quotesLayer, quote.BookConfig{})
	if err := book.Seed(ctx, time.Now()); err != nil {
		t.Fatal(err)
	}

	l := ledger.New(memstore.New(), book, ledger.Config{})
	sessions := auth.NewService(auth.NewMemoryUsers(), sessionsLayer, l, auth.Config{HashCost: bcrypt.MinCost})

	registry := prometheus.NewRegistry()
	config := DefaultServerConfig()
	config.Registerer = registry
	config.Gatherer = registry
	config.Status = func() map[string]string { return map[string]string{"quotes": "closed"} }

	s, err := NewServer(l, book, sessions, config)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return &testEnv{server: s, handler: s.Handler(), registry: registry, book: book}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var decoded map[string]interface{}
	json.Unmarshal(bytes.TrimSpace(w.Body.Bytes()), &decoded)
	return w, decoded
}

func (e *testEnv) register(t *testing.T, username string) string {
	t.Helper()
	w, body := e.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"`+username+`","password":"secret123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d, body %s", username, w.Code, w.Body.String())
	}
	return body["token"].(string)
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t)

	w, body := env.do(t, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("Unexpected health response %d %v", w.Code, body)
	}

	w, body = env.do(t, http.MethodGet, "/status", "", "")
	if w.Code != http.StatusOK || body["components"] == nil {
		t.Errorf("Unexpected status response %d %v", w.Code, body)
	}
}

func TestServer_RegisterLoginLogout(t *testing.T) {
	env := setupTestServer(t)

	w, body := env.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"alice","password":"secret123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if body["balance"] != "10000.00" {
		t.Errorf("Expected starting balance 10000.00, got %v", body["balance"])
	}

	w, body = env.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"alice","password":"secret123"}`)
	if w.Code != http.StatusConflict || body["reason"] != "UsernameTaken" {
		t.Errorf("Expected 409 UsernameTaken, got %d %v", w.Code, body)
	}

	w, _ = env.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"x","password":"1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid credentials shape, got %d", w.Code)
	}

	w, _ = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"wrong-one"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong password, got %d", w.Code)
	}

	w, body = env.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"alice","password":"secret123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on login, got %d", w.Code)
	}
	token := body["token"].(string)

	if w, _ := env.do(t, http.MethodGet, "/api/portfolio", token, ""); w.Code != http.StatusOK {
		t.Errorf("Expected portfolio with login token, got %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodPost, "/api/auth/logout", token, ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 on logout, got %d", w.Code)
	}
	if w, _ := env.do(t, http.MethodGet, "/api/portfolio", token, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 after logout, got %d", w.Code)
	}
}

func TestServer_RequiresSession(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{"/api/portfolio", "/api/transactions", "/api/statements"} {
		w, body := env.do(t, http.MethodGet, path, "", "")
		if w.Code != http.StatusUnauthorized || body["reason"] != "Unauthorized" {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
		w, _ = env.do(t, http.MethodGet, path, "00000000-0000-0000-0000-000000000000", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 for unknown token, got %d", path, w.Code)
		}
	}
}

func TestServer_Stocks(t *testing.T) {
	env := setupTestServer(t)

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stocks", nil))
	var quotes []quote.Quote
	if err := json.Unmarshal(w.Body.Bytes(), &quotes); err != nil {
		t.Fatalf("Decode stocks: %v", err)
	}
	if len(quotes) != len(quote.DefaultListings) {
		t.Errorf("Expected %d stocks, got %d", len(quote.DefaultListings), len(quotes))
	}

	w2, body := env.do(t, http.MethodGet, "/api/stocks/aapl", "", "")
	if w2.Code != http.StatusOK || body["symbol"] != "AAPL" || body["price"] != "175.45" {
		t.Errorf("Unexpected AAPL quote %d %v", w2.Code, body)
	}

	w2, body = env.do(t, http.MethodGet, "/api/stocks/ZZZZ", "", "")
	if w2.Code != http.StatusNotFound || body["reason"] != "UnknownSymbol" {
		t.Errorf("Expected 404 UnknownSymbol, got %d %v", w2.Code, body)
	}
}

func TestServer_Trade(t *testing.T) {
	env := setupTestServer(t)
	token := env.register(t, "trader")

	w, body := env.do(t, http.MethodPost, "/api/trade", token, `{"action":"buy","symbol":"AAPL","quantity":10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body["success"] != true || body["newBalance"] != "8245.50" {
		t.Errorf("Unexpected buy response %v", body)
	}
	tx := body["transaction"].(map[string]interface{})
	if tx["total"] != "1754.50" || tx["price"] != "175.45" {
		t.Errorf("Unexpected transaction %v", tx)
	}

	w, body = env.do(t, http.MethodPost, "/api/trade", token, `{"action":"SELL","symbol":"aapl","quantity":"5"}`)
	if w.Code != http.StatusOK || body["newBalance"] != "9122.75" {
		t.Errorf("Unexpected sell response %d %v", w.Code, body)
	}
	holdings := body["holdings"].(map[string]interface{})
	if holdings["AAPL"] != float64(5) {
		t.Errorf("Expected 5 AAPL left, got %v", holdings)
	}
}

func TestServer_TradeFailures(t *testing.T) {
	env := setupTestServer(t)
	token := env.register(t, "trader")

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantReason string
	}{
		{"insufficient funds", `{"action":"buy","symbol":"NVDA","quantity":100}`, http.StatusUnprocessableEntity, "InsufficientFunds"},
		{"insufficient holdings", `{"action":"sell","symbol":"MSFT","quantity":1}`, http.StatusUnprocessableEntity, "InsufficientHoldings"},
		{"unknown symbol", `{"action":"buy","symbol":"ZZZZ","quantity":1}`, http.StatusUnprocessableEntity, "UnknownSymbol"},
		{"negative quantity", `{"action":"buy","symbol":"AAPL","quantity":-3}`, http.StatusBadRequest, "InvalidQuantity"},
		{"fractional quantity", `{"action":"buy","symbol":"AAPL","quantity":1.5}`, http.StatusBadRequest, "InvalidQuantity"},
		{"non-numeric quantity", `{"action":"buy","symbol":"AAPL","quantity":"ten"}`, http.StatusBadRequest, "InvalidQuantity"},
		{"missing quantity", `{"action":"buy","symbol":"AAPL"}`, http.StatusBadRequest, "InvalidQuantity"},
		{"oversized quantity", `{"action":"buy","symbol":"AAPL","quantity":99999999999999999999}`, http.StatusBadRequest, "InvalidQuantity"},
		{"huge exponent quantity", `{"action":"buy","symbol":"AAPL","quantity":1e2000000000}`, http.StatusBadRequest, "InvalidQuantity"},
		{"huge negative exponent string", `{"action":"buy","symbol":"AAPL","quantity":"0e-2000000000"}`, http.StatusBadRequest, "InvalidQuantity"},
		{"overlong quantity string", `{"action":"buy","symbol":"AAPL","quantity":"000000000000000000000000000000000001"}`, http.StatusBadRequest, "InvalidQuantity"},
		{"bad action", `{"action":"short","symbol":"AAPL","quantity":1}`, http.StatusBadRequest, "InvalidRequest"},
		{"malformed body", `{"action":`, http.StatusBadRequest, "InvalidRequest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(t, http.MethodPost, "/api/trade", token, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if body["success"] != false || body["reason"] != tt.wantReason {
				t.Errorf("Expected reason %s, got %v", tt.wantReason, body)
			}
		})
	}

	_, body := env.do(t, http.MethodGet, "/api/portfolio", token, "")
	if body["balance"] != "10000.00" || len(body["positions"].([]interface{})) != 0 {
		t.Errorf("Failed trades changed the account: %v", body)
	}
}

func TestServer_TransactionsAndStatement(t *testing.T) {
	env := setupTestServer(t)
	token := env.register(t, "alice")

	for _, order := range []string{
		`{"action":"buy","symbol":"AAPL","quantity":10}`,
		`{"action":"buy","symbol":"MSFT","quantity":2}`,
		`{"action":"sell","symbol":"AAPL","quantity":5}`,
	} {
		if w, _ := env.do(t, http.MethodPost, "/api/trade", token, order); w.Code != http.StatusOK {
			t.Fatalf("Trade %s failed: %d", order, w.Code)
		}
	}

	w, body := env.do(t, http.MethodGet, "/api/transactions?limit=2", token, "")
	if w.Code != http.StatusOK || body["order"] != "desc" {
		t.Fatalf("Unexpected transactions response %d %v", w.Code, body)
	}
	txs := body["transactions"].([]interface{})
	if len(txs) != 2 || txs[0].(map[string]interface{})["action"] != "sell" {
		t.Errorf("Expected 2 most recent, sell first: %v", txs)
	}

	if w, _ := env.do(t, http.MethodGet, "/api/transactions?order=sideways", token, ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad order, got %d", w.Code)
	}

	w, body = env.do(t, http.MethodGet, "/api/statements", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Statement failed: %d", w.Code)
	}
	if body["username"] != "alice" || body["order"] != "asc" {
		t.Errorf("Unexpected statement header %v", body)
	}
	if body["balance"] != "8365.05" || body["portfolioValue"] != "1634.95" || body["totalValue"] != "10000.00" {
		t.Errorf("Unexpected statement totals %v", body)
	}
	txs = body["transactions"].([]interface{})
	if len(txs) != 3 || txs[0].(map[string]interface{})["symbol"] != "AAPL" {
		t.Errorf("Expected chronological history, got %v", txs)
	}

	_, body = env.do(t, http.MethodGet, "/api/statements?order=desc", token, "")
	txs = body["transactions"].([]interface{})
	if txs[0].(map[string]interface{})["action"] != "sell" {
		t.Errorf("Expected most recent first, got %v", txs[0])
	}
}

func TestServer_Metrics(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodGet, "/api/stocks/AAPL", "", "")
	env.do(t, http.MethodGet, "/api/stocks/MSFT", "", "")

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", w.Code)
	}
	out := w.Body.String()
	want := `trade_ledger_http_requests_total{endpoint="/api/stocks/{symbol}",method="GET",status="200"} 2`
	if !strings.Contains(out, want) {
		t.Errorf("Expected %q in metrics output:\n%s", want, out)
	}
}

func TestNewServer_SharedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	config := DefaultServerConfig()
	config.Registerer = registry
	config.Gatherer = registry

	if _, err := NewServer(nil, nil, nil, config); err != nil {
		t.Fatal(err)
	}
	if _, err := NewServer(nil, nil, nil, config); err != nil {
		t.Errorf("Second server on the same registry failed: %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		if got := bearerToken(req); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
