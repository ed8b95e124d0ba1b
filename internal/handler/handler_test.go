package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/miniswap/internal/domain"
	"github.com/efreitasn/miniswap/internal/engine"
	"github.com/efreitasn/miniswap/internal/registry"
	"github.com/efreitasn/miniswap/internal/service"
	"github.com/efreitasn/miniswap/internal/store"
)

const testTradeTimeout = time.Hour

// testEnv bundles all dependencies for handler integration tests.
type testEnv struct {
	router http.Handler
	reg    *registry.Memory
	hub    *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ledger, err := store.NewLedger(testTradeTimeout, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg := registry.NewMemory()
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	lc := engine.NewLifecycle(ledger, registry.Set{"memory": reg}, "operator",
		testTradeTimeout, service.NewNotifier(hub), nil)
	tradeSvc := service.NewTradeService(lc)
	router := NewRouter(tradeSvc, testTradeTimeout, hub, zap.NewNop())

	return &testEnv{router: router, reg: reg, hub: hub}
}

// doJSON sends a JSON request and returns the recorder.
func (env *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// doRaw sends a raw request with optional content-type override.
func (env *testEnv) doRaw(t *testing.T, method, path, contentType, rawBody string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(rawBody))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rr.Body.String())
	}
}

func assetBody(assetID string) map[string]any {
	return map[string]any{"registry": "memory", "asset_id": assetID}
}

func memoryRef(assetID string) domain.AssetRef {
	return domain.AssetRef{Registry: "memory", AssetID: assetID}
}

// propose creates a trade via the API and returns its id as a path string.
func (env *testEnv) propose(t *testing.T, from, to string) string {
	t.Helper()
	rr := env.doJSON(t, "POST", "/trades", map[string]any{"party": from, "to_party": to})
	if rr.Code != http.StatusCreated {
		t.Fatalf("propose: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	decodeJSON(t, rr, &resp)
	id, ok := resp["trade_id"].(float64)
	if !ok {
		t.Fatalf("propose: missing trade_id in %v", resp)
	}
	return strconv.FormatUint(uint64(id), 10)
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if rr.Code != wantStatus {
		t.Fatalf("expected status %d, got %d: %s", wantStatus, rr.Code, rr.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Error != wantCode {
		t.Errorf("got error code %q, want %q", resp.Error, wantCode)
	}
}

func TestFullTradeFlow(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Mint("a1", "alice")
	env.reg.Mint("b1", "bob")

	id := env.propose(t, "alice", "bob")

	agreeBody := map[string]any{
		"party":      "alice",
		"from_asset": assetBody("a1"),
		"to_asset":   assetBody("b1"),
	}
	rr := env.doJSON(t, "POST", "/trades/"+id+"/agree", agreeBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("first agree: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var tr map[string]any
	decodeJSON(t, rr, &tr)
	if tr["status"] != "proposed" || tr["from_agreed"] != true {
		t.Errorf("after first agree: got status %v from_agreed %v", tr["status"], tr["from_agreed"])
	}
	if tr["from_asset"] != nil {
		t.Errorf("assets bound after a single agreement: %v", tr["from_asset"])
	}

	agreeBody["party"] = "bob"
	rr = env.doJSON(t, "POST", "/trades/"+id+"/agree", agreeBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("second agree: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeJSON(t, rr, &tr)
	if tr["status"] != "agreed" {
		t.Errorf("after second agree: got status %v, want agreed", tr["status"])
	}
	from, _ := tr["from_asset"].(map[string]any)
	if from == nil || from["asset_id"] != "a1" {
		t.Errorf("after second agree: got from_asset %v, want a1", tr["from_asset"])
	}

	// Confirming without operator approval is rejected.
	rr = env.doJSON(t, "POST", "/trades/"+id+"/confirm", map[string]any{"party": "alice"})
	assertErrorCode(t, rr, http.StatusConflict, "approval_missing")

	env.reg.Approve("a1", "operator")
	env.reg.Approve("b1", "operator")

	rr = env.doJSON(t, "POST", "/trades/"+id+"/confirm", map[string]any{"party": "alice"})
	if rr.Code != http.StatusOK {
		t.Fatalf("first confirm: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeJSON(t, rr, &tr)
	if tr["status"] != "agreed" || tr["from_confirmed"] != true {
		t.Errorf("after first confirm: got status %v from_confirmed %v", tr["status"], tr["from_confirmed"])
	}

	rr = env.doJSON(t, "POST", "/trades/"+id+"/confirm", map[string]any{"party": "bob"})
	if rr.Code != http.StatusOK {
		t.Fatalf("second confirm: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeJSON(t, rr, &tr)
	if tr["status"] != "confirmed" {
		t.Errorf("after second confirm: got status %v, want confirmed", tr["status"])
	}

	// The assets actually changed hands.
	ctx := context.Background()
	if owner, _ := env.reg.OwnerOf(ctx, memoryRef("a1")); owner != "bob" {
		t.Errorf("got a1 owner %q, want bob", owner)
	}
	if owner, _ := env.reg.OwnerOf(ctx, memoryRef("b1")); owner != "alice" {
		t.Errorf("got b1 owner %q, want alice", owner)
	}
}

func TestProposeSelfTrade(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "POST", "/trades", map[string]any{"party": "alice", "to_party": "alice"})
	assertErrorCode(t, rr, http.StatusConflict, "self_trade_rejected")
}

func TestGetUnknownTrade(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/trades/42", nil)
	assertErrorCode(t, rr, http.StatusNotFound, "trade_not_found")
}

func TestBadTradeID(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/trades/abc", nil)
	assertErrorCode(t, rr, http.StatusBadRequest, "validation_error")
}

func TestBadContentType(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doRaw(t, "POST", "/trades", "text/plain", `{"party":"alice","to_party":"bob"}`)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestMalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doRaw(t, "POST", "/trades", "application/json", `{"party":`)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestUnknownField(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doRaw(t, "POST", "/trades", "application/json",
		`{"party":"alice","to_party":"bob","surprise":1}`)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestCancelByStranger(t *testing.T) {
	env := newTestEnv(t)
	id := env.propose(t, "alice", "bob")

	rr := env.doJSON(t, "DELETE", "/trades/"+id, map[string]any{"party": "carol"})
	assertErrorCode(t, rr, http.StatusForbidden, "unauthorized")

	rr = env.doJSON(t, "DELETE", "/trades/"+id, map[string]any{"party": "bob"})
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var tr map[string]any
	decodeJSON(t, rr, &tr)
	if tr["status"] != "cancelled" {
		t.Errorf("got status %v, want cancelled", tr["status"])
	}
}

func TestListOpenTrades(t *testing.T) {
	env := newTestEnv(t)
	env.propose(t, "alice", "bob")
	id := env.propose(t, "alice", "carol")

	rr := env.doJSON(t, "DELETE", "/trades/"+id, map[string]any{"party": "alice"})
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.doJSON(t, "GET", "/trades", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Trades []map[string]any `json:"trades"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Trades) != 1 {
		t.Fatalf("got %d open trades, want 1", len(resp.Trades))
	}
	if resp.Trades[0]["to_party"] != "bob" {
		t.Errorf("got to_party %v, want bob", resp.Trades[0]["to_party"])
	}
	if resp.Trades[0]["expires_at"] == "" {
		t.Error("missing expires_at")
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doJSON(t, "GET", "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("got status %q, want ok", resp["status"])
	}
}
