// README: Websocket push: passenger ride notices and the live driver feed.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ridehail/internal/modules/ride"
	"ridehail/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
	readLimit  = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub holds the open passenger connections and implements ride.Notifier.
type Hub struct {
	mu         sync.Mutex
	passengers map[types.ID]map[*client]struct{}
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{passengers: make(map[types.ID]map[*client]struct{}), log: log}
}

// Notify fans the notice out to every connection of the passenger. Slow
// connections drop the notice rather than block the caller.
func (h *Hub) Notify(_ context.Context, passengerID types.ID, n ride.Notice) {
	b, err := json.Marshal(Message{Type: "notice", Data: n})
	if err != nil {
		h.log.Error("encode notice", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.passengers[passengerID] {
		select {
		case c.send <- b:
		default:
			h.log.Warn("dropping notice for slow connection", "passenger_id", passengerID, "kind", n.Kind)
		}
	}
}

// Connections reports how many sockets the passenger has open.
func (h *Hub) Connections(passengerID types.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.passengers[passengerID])
}

// ServePassenger upgrades the request and streams notices until the client
// goes away. onReady runs once the connection is registered.
func (h *Hub) ServePassenger(w http.ResponseWriter, r *http.Request, passengerID types.ID, onReady func()) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(passengerID, c)
	defer h.remove(passengerID, c)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	go func() {
		readUntilClosed(conn)
		cancel()
	}()
	if onReady != nil {
		onReady()
	}
	writeLoop(ctx, conn, c.send)
	return nil
}

func (h *Hub) add(id types.ID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.passengers[id]
	if set == nil {
		set = make(map[*client]struct{})
		h.passengers[id] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(id types.ID, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.passengers[id], c)
	if len(h.passengers[id]) == 0 {
		delete(h.passengers, id)
	}
}

// AvailableSource is the live pending-ride list (matching.Feed).
type AvailableSource interface {
	SubscribeAvailable(ctx context.Context) (<-chan []ride.Ride, error)
}

// ServeFeed streams the pending-ride list to a driver: the full list on
// connect, then on every change.
func ServeFeed(w http.ResponseWriter, r *http.Request, src AvailableSource, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	snapshots, err := src.SubscribeAvailable(ctx)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(Message{Type: "error", Data: "feed unavailable"})
		conn.Close()
		return err
	}
	go func() {
		readUntilClosed(conn)
		cancel()
	}()

	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		for list := range snapshots {
			b, err := json.Marshal(Message{Type: "rides", Data: list})
			if err != nil {
				log.Error("encode ride feed", "error", err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	writeLoop(ctx, conn, out)
	return nil
}

// writeLoop owns all writes on conn. It returns, closing conn, when ctx is
// done, in is closed, or a write fails.
func writeLoop(ctx context.Context, conn *websocket.Conn, in <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b, ok := <-in:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readUntilClosed discards client frames, keeping the pong deadline fresh,
// and returns when the connection fails or closes.
func readUntilClosed(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
