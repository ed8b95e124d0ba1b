package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efreitasn/miniswap/internal/domain"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClientCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("got %d clients, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsEvents(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialHub(t, srv)
	waitClientCount(t, env.hub, 1)

	env.hub.Deliver(domain.Event{
		Type:    domain.EventTradeProposed,
		TradeID: 5,
		At:      time.Now().UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var ev domain.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if ev.Type != domain.EventTradeProposed || ev.TradeID != 5 {
		t.Errorf("got event %+v, want trade.proposed for trade 5", ev)
	}
}

func TestHubEventsFlowFromAPI(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialHub(t, srv)
	waitClientCount(t, env.hub, 1)

	env.propose(t, "alice", "bob")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var ev domain.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if ev.Type != domain.EventTradeProposed {
		t.Errorf("got event %q, want %q", ev.Type, domain.EventTradeProposed)
	}
}

func TestHubDropsClosedClients(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialHub(t, srv)
	waitClientCount(t, env.hub, 1)

	conn.Close()
	waitClientCount(t, env.hub, 0)

	// Broadcasting with no clients is a no-op.
	env.hub.Deliver(domain.Event{Type: domain.EventTradeCancelled, TradeID: 1})
}
