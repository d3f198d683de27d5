// README: Websocket hub tests over a real httptest server.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

const waitTimeout = 2 * time.Second

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	var m wireMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestHubDeliversNoticesToPassenger(t *testing.T) {
	hub := NewHub(nil)
	ready := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServePassenger(w, r, "p1", func() { ready <- struct{}{} })
	}))
	defer srv.Close()

	conn := dial(t, srv)
	select {
	case <-ready:
	case <-time.After(waitTimeout):
		t.Fatal("connection never registered")
	}
	if hub.Connections("p1") != 1 {
		t.Fatalf("expected one connection, got %d", hub.Connections("p1"))
	}

	hub.Notify(context.Background(), "someone-else", ride.Notice{Kind: ride.NoticeDriverArrived})
	hub.Notify(context.Background(), "p1", ride.Notice{Kind: ride.NoticeDriverAssigned, Message: "on the way", Ride: ride.Ride{ID: "r1"}})

	m := readMessage(t, conn)
	if m.Type != "notice" {
		t.Fatalf("unexpected message type %q", m.Type)
	}
	var n ride.Notice
	if err := json.Unmarshal(m.Data, &n); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if n.Kind != ride.NoticeDriverAssigned || n.Ride.ID != "r1" {
		t.Fatalf("unexpected notice: %+v", n)
	}

	conn.Close()
	deadline := time.Now().Add(waitTimeout)
	for hub.Connections("p1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection not unregistered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type chanSource struct {
	ch chan []ride.Ride
}

func (s chanSource) SubscribeAvailable(context.Context) (<-chan []ride.Ride, error) {
	return s.ch, nil
}

func TestServeFeedStreamsSnapshots(t *testing.T) {
	src := chanSource{ch: make(chan []ride.Ride, 2)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = ServeFeed(w, r, src, nil)
	}))
	defer srv.Close()

	conn := dial(t, srv)
	src.ch <- []ride.Ride{{ID: "r2"}, {ID: "r1"}}
	src.ch <- []ride.Ride{{ID: "r2"}}

	for _, want := range [][]types.ID{{"r2", "r1"}, {"r2"}} {
		m := readMessage(t, conn)
		var list []ride.Ride
		if err := json.Unmarshal(m.Data, &list); err != nil {
			t.Fatalf("decode rides: %v", err)
		}
		if m.Type != "rides" || len(list) != len(want) {
			t.Fatalf("got %s %+v, want %v", m.Type, list, want)
		}
		for i := range want {
			if list[i].ID != want[i] {
				t.Fatalf("got %+v, want %v", list, want)
			}
		}
	}

	close(src.ch)
	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}
