package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fazecat/signalpilot/Internal/events"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventHub fans pipeline events out to websocket clients. Only Run writes
// to client connections.
type EventHub struct {
	clients    map[*websocket.Conn]uint64
	broadcast  chan events.Event
	register   chan registration
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger
	dropped    int
}

// registration carries the replay source so the hub sends history and live
// events from the same goroutine
type registration struct {
	conn    *websocket.Conn
	history func(int) []events.Event
}

const replayLimit = 20

func NewEventHub(logger *logrus.Logger) *EventHub {
	return &EventHub{
		clients:    make(map[*websocket.Conn]uint64),
		broadcast:  make(chan events.Event, 256),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Publish never blocks the bus; events are dropped when the buffer is full
func (h *EventHub) Publish(e events.Event) {
	select {
	case h.broadcast <- e:
	default:
		h.mutex.Lock()
		h.dropped++
		h.mutex.Unlock()
	}
}

// Run serves the hub until ctx is cancelled, then closes every client
func (h *EventHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case reg := <-h.register:
			last, ok := h.replay(reg)
			if !ok {
				continue
			}
			h.mutex.Lock()
			h.clients[reg.conn] = last
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("clients", total).Debug("Websocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("clients", total).Debug("Websocket client disconnected")

		case e := <-h.broadcast:
			payload, err := json.Marshal(e)
			if err != nil {
				h.logger.WithError(err).Warn("Error marshaling event")
				continue
			}
			h.send(e.Seq, payload)
		}
	}
}

// replay writes recent history and returns the newest sequence sent.
// Events still queued in broadcast with a lower sequence are skipped later.
func (h *EventHub) replay(reg registration) (uint64, bool) {
	var last uint64
	if reg.history == nil {
		return last, true
	}
	for _, e := range reg.history(replayLimit) {
		reg.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := reg.conn.WriteJSON(e); err != nil {
			h.logger.WithError(err).Debug("Error replaying history to client")
			reg.conn.Close()
			return 0, false
		}
		last = e.Seq
	}
	return last, true
}

func (h *EventHub) send(seq uint64, payload []byte) {
	h.mutex.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client, last := range h.clients {
		if seq != 0 && seq <= last {
			continue
		}
		clients = append(clients, client)
		h.clients[client] = seq
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.WithError(err).Debug("Error sending event to client")
			h.mutex.Lock()
			delete(h.clients, client)
			h.mutex.Unlock()
			client.Close()
		}
	}
}

// HandleWebSocket upgrades the request; the hub replays recent history before live events
func (h *EventHub) HandleWebSocket(history func(int) []events.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.WithError(err).Warn("Error upgrading connection to WebSocket")
			return
		}

		select {
		case h.register <- registration{conn: conn, history: history}:
		case <-h.done:
			conn.Close()
			return
		}

		go func() {
			defer func() {
				select {
				case h.unregister <- conn:
				case <-h.done:
				}
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
						h.logger.WithError(err).Debug("WebSocket error")
					}
					return
				}
			}
		}()
	}
}

func (h *EventHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *EventHub) Dropped() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.dropped
}
