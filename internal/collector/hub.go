package collector

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AudioEvent is the JSON document pushed to subscribers for each accepted packet.
// Data is the raw little-endian payload, base64 encoded by encoding/json.
type AudioEvent struct {
	Type      string `json:"type"`
	DeviceID  string `json:"device_id"`
	Timestamp uint32 `json:"timestamp"`
	Sequence  uint32 `json:"sequence"`
	Data      []byte `json:"data"`
}

// Hub fans accepted audio out to WebSocket subscribers. Slow subscribers
// lose messages rather than stalling device sessions.
type Hub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*subscriber]struct{})}
}

// Handler serves the subscription endpoint at /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	return mux
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("collector.Hub.ServeWS upgrade failed")
		return
	}
	sub := &subscriber{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = ws.Close()
		return
	}
	h.clients[sub] = struct{}{}
	active := len(h.clients)
	h.mu.Unlock()
	log.Info().Str("remote", r.RemoteAddr).Int("subscribers", active).Msg("collector.Hub.ServeWS subscribed")

	go h.writePump(sub)
	h.readPump(sub)
}

// Publish queues ev for every subscriber.
func (h *Hub) Publish(ev AudioEvent) {
	ev.Type = "audio"
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("collector.Hub.Publish marshal")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.clients {
		select {
		case sub.send <- data:
		default:
			log.Warn().Str("device_id", ev.DeviceID).Uint32("sequence", ev.Sequence).Msg("collector.Hub.Publish subscriber buffer full, dropping")
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.clients))
	for sub := range h.clients {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.drop(sub)
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	delete(h.clients, sub)
	h.mu.Unlock()
	sub.once.Do(func() {
		close(sub.done)
		_ = sub.ws.Close()
	})
}

// readPump consumes control frames; subscribers have nothing to say.
func (h *Hub) readPump(sub *subscriber) {
	defer h.drop(sub)

	sub.ws.SetReadLimit(maxMessageSize)
	_ = sub.ws.SetReadDeadline(time.Now().Add(pongWait))
	sub.ws.SetPongHandler(func(string) error {
		return sub.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("collector.Hub.readPump read")
			}
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(sub)
	}()

	for {
		select {
		case <-sub.done:
			return
		case data := <-sub.send:
			_ = sub.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Msg("collector.Hub.writePump write")
				return
			}
		case <-ticker.C:
			_ = sub.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
