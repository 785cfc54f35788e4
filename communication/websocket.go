package communication

import (
	"context"
	"sync"
	"time"

	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/gorilla/websocket"
)

type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventSyncState       = "SYNC_STATE"
	EventUploadOutcome   = "UPLOAD_OUTCOME"
	EventRestoreOutcome  = "RESTORE_OUTCOME"
	EventProfileWiped    = "PROFILE_WIPED"
	broadcastQueueLength = 64

	// writeWait bounds a single write to a client.
	writeWait = 10 * time.Second
)

// WebSocketManager fans events out to every connected client.
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan WSEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	writeWait  time.Duration
	logger     tmlog.Logger
}

func NewWebSocketManager(logger tmlog.Logger) *WebSocketManager {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan WSEvent, broadcastQueueLength),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		writeWait:  writeWait,
		logger:     logger.With("module", "websocket"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (manager *WebSocketManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			manager.mu.Lock()
			for client := range manager.clients {
				client.Close()
				delete(manager.clients, client)
			}
			manager.mu.Unlock()
			return

		case client := <-manager.register:
			manager.mu.Lock()
			manager.clients[client] = true
			manager.mu.Unlock()

		case client := <-manager.unregister:
			manager.mu.Lock()
			if _, ok := manager.clients[client]; ok {
				delete(manager.clients, client)
				client.Close()
			}
			manager.mu.Unlock()

		case event := <-manager.broadcast:
			manager.send(event)
		}
	}
}

// send writes event to every client. Only Run writes to registered
// connections, so the writes happen outside the lock. A client that cannot
// take the event within writeWait is dropped.
func (manager *WebSocketManager) send(event WSEvent) {
	manager.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(manager.clients))
	for client := range manager.clients {
		clients = append(clients, client)
	}
	manager.mu.RUnlock()

	var failed []*websocket.Conn
	for _, client := range clients {
		_ = client.SetWriteDeadline(time.Now().Add(manager.writeWait))
		if err := client.WriteJSON(event); err != nil {
			manager.logger.Error("WebSocket write failed", "err", err)
			failed = append(failed, client)
		}
	}
	if len(failed) == 0 {
		return
	}
	manager.mu.Lock()
	for _, client := range failed {
		if _, ok := manager.clients[client]; ok {
			delete(manager.clients, client)
			client.Close()
		}
	}
	manager.mu.Unlock()
}

// BroadcastEvent queues an event. When the queue is full the event is
// dropped; state events are superseded by the next one anyway.
func (manager *WebSocketManager) BroadcastEvent(eventType string, payload interface{}) {
	select {
	case manager.broadcast <- WSEvent{Type: eventType, Payload: payload}:
	default:
		manager.logger.Debug("Dropping websocket event, queue full", "type", eventType)
	}
}

func (manager *WebSocketManager) Register() chan<- *websocket.Conn {
	return manager.register
}

func (manager *WebSocketManager) Unregister() chan<- *websocket.Conn {
	return manager.unregister
}

// ClientCount reports the number of connected clients.
func (manager *WebSocketManager) ClientCount() int {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return len(manager.clients)
}
