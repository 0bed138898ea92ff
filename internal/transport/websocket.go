package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/chainbench/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // same-origin or direct connection
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost connections (common for development)
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}

		return false
	},
}

// Event is one streamed run event.
type Event struct {
	Type    string      `json:"type"` // "run_started", "attempt", "run_completed"
	Payload interface{} `json:"payload"`
}

// EventServer streams run events to WebSocket clients. It implements
// scheduler.Listener so it can be registered on the scheduler directly.
type EventServer struct {
	logger *slog.Logger

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	events chan Event
	done   chan struct{}
}

// NewEventServer creates a new WebSocket event server.
func NewEventServer(logger *slog.Logger) *EventServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventServer{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler.
func (es *EventServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			es.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		es.clientsMu.Lock()
		es.clients[conn] = true
		total := len(es.clients)
		es.clientsMu.Unlock()

		es.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			es.clientsMu.Lock()
			delete(es.clients, conn)
			total := len(es.clients)
			es.clientsMu.Unlock()
			conn.Close()

			es.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Read messages (mainly for ping/pong)
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					es.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// Start begins the event broadcasting goroutine.
func (es *EventServer) Start() {
	go es.broadcastLoop()
}

// Stop stops the event server and closes all client connections.
func (es *EventServer) Stop() {
	close(es.done)

	es.clientsMu.Lock()
	for conn := range es.clients {
		conn.Close()
	}
	es.clients = make(map[*websocket.Conn]bool)
	es.clientsMu.Unlock()
}

// OnRunStarted implements scheduler.Listener.
func (es *EventServer) OnRunStarted(meta types.RunMeta) {
	es.publish(Event{Type: "run_started", Payload: meta})
}

// OnAttempt implements scheduler.Listener.
func (es *EventServer) OnAttempt(result types.AttemptResult) {
	es.publish(Event{Type: "attempt", Payload: result})
}

// OnRunCompleted implements scheduler.Listener.
func (es *EventServer) OnRunCompleted(summary types.RunSummary) {
	es.publish(Event{Type: "run_completed", Payload: summary})
}

// publish enqueues an event, dropping it when the buffer is full so a
// slow consumer never stalls the run.
func (es *EventServer) publish(ev Event) {
	select {
	case es.events <- ev:
	default:
		es.logger.Debug("Event buffer full, dropping event", slog.String("type", ev.Type))
	}
}

func (es *EventServer) broadcastLoop() {
	for {
		select {
		case <-es.done:
			return
		case ev := <-es.events:
			es.broadcast(ev)
		}
	}
}

// broadcast sends one event to all connected clients.
func (es *EventServer) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		es.logger.Error("Failed to marshal event", slog.String("error", err.Error()))
		return
	}

	es.clientsMu.RLock()
	defer es.clientsMu.RUnlock()

	for conn := range es.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			es.logger.Debug("Failed to write to WebSocket",
				slog.String("error", err.Error()),
			)
			// Will be cleaned up by the read loop
		}
	}
}

// ClientCount returns the number of connected clients.
func (es *EventServer) ClientCount() int {
	es.clientsMu.RLock()
	defer es.clientsMu.RUnlock()
	return len(es.clients)
}
