package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSMessage represents a command from the client
type WSMessage struct {
	Action      string         `json:"action"`
	RoomID      string         `json:"room_id,omitempty"`
	TargetID    string         `json:"target_id,omitempty"`
	WitchAction string         `json:"witch_action,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Channel     string         `json:"channel,omitempty"`
	Text        string         `json:"text,omitempty"`
	AvatarRef   string         `json:"avatar_ref,omitempty"`
	Players     []AIPlayerSpec `json:"players,omitempty"`
}

// Client represents a websocket connection with user info
type Client struct {
	conn     *websocket.Conn
	userID   string
	username string
	writeMu  sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

func (c *Client) sendRaw(message []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// WebSocket hub for delivering events to connected clients
type Hub struct {
	reg    *Registry
	auth   *AuthService
	logger *AppLogger

	clients    map[*websocket.Conn]*Client
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup

	// set after construction; the engine needs a Notifier to be built
	engineMu sync.RWMutex
	engine   *Engine
}

func newHub(reg *Registry, auth *AuthService, logger *AppLogger) *Hub {
	return &Hub{
		reg:        reg,
		auth:       auth,
		logger:     logger,
		clients:    make(map[*websocket.Conn]*Client),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// attachEngine breaks the hub/engine construction cycle: the engine is built
// with the hub as its Notifier, then handed back here for disconnect handling.
func (h *Hub) attachEngine(e *Engine) {
	h.engineMu.Lock()
	h.engine = e
	h.engineMu.Unlock()
}

func (h *Hub) getEngine() *Engine {
	h.engineMu.RLock()
	defer h.engineMu.RUnlock()
	return h.engine
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

// Send delivers an event to every connection bound to userID. Delivery to a
// disconnected user is silently dropped; the session layer owns liveness.
func (h *Hub) Send(userID string, event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		log.Printf("Event marshal error (%s): %v", event.Type, err)
		return
	}
	client, ok := h.reg.ResolveChannel(userID)
	if !ok {
		return
	}
	h.logger.LogWSMessage("OUT", client.username, string(message))
	if err := client.sendRaw(message); err != nil {
		log.Printf("WebSocket write error to user %s: %v", userID, err)
	}
}

// Broadcast delivers an event to every connected client.
func (h *Hub) Broadcast(event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		log.Printf("Event marshal error (%s): %v", event.Type, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, client := range h.clients {
		if err := client.sendRaw(message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			conn.Close()
		}
	}
}

func (h *Hub) run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (user %s: %s). Total: %d", client.userID, client.username, total)
			h.logger.DebugLog("hub.register", "User '%s' (%s) connected via WebSocket", client.username, client.userID)

		case conn := <-h.unregister:
			var gone *Client
			h.mu.Lock()
			client, ok := h.clients[conn]
			if ok {
				delete(h.clients, conn)
				conn.Close()
				gone = client
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total: %d", total)
			// Departure runs after releasing the mutex: LeaveRoom broadcasts
			// through Send, which resolves channels under the registry lock.
			if gone != nil {
				h.dropClient(gone)
			}
		}
	}
}

// dropClient unbinds the session and removes the user from their room. A
// displaced connection no longer owns the session, so its departure is a no-op.
func (h *Hub) dropClient(client *Client) {
	if current, ok := h.reg.ResolveChannel(client.userID); !ok || current != client {
		h.logger.DebugLog("hub.unregister", "User '%s' was displaced by a newer session", client.username)
		return
	}
	h.reg.UnbindSession(client.userID, client)
	engine := h.getEngine()
	if engine == nil {
		return
	}
	if room, ok := h.reg.roomOf(client.userID); ok {
		if err := engine.LeaveRoom(room.ID, client.userID); err != nil {
			h.logger.DebugLog("hub.unregister", "Leave on disconnect failed for '%s': %v", client.username, err)
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, username, err := h.auth.getUserFromSession(r)
	if err != nil {
		h.logger.DebugLog("handleWebSocket", "Rejected WebSocket connection - not logged in")
		http.Error(w, "Not logged in", http.StatusUnauthorized)
		return
	}

	h.logger.DebugLog("handleWebSocket", "User '%s' (%s) initiating WebSocket connection", username, userID)

	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for user %s (%s): %v", userID, username, err)
		return
	}

	client := &Client{conn: conn, userID: userID, username: username}
	// Second session for the same account displaces the first.
	if displaced := h.reg.BindSession(userID, username, client); displaced != nil {
		h.logger.DebugLog("handleWebSocket", "User '%s' opened a second session, closing the first", username)
		displaced.sendRaw(mustMarshalEvent(Event{Type: EventSystem, Data: map[string]string{
			"message": "Signed in from another session.",
		}}))
		displaced.conn.Close()
	}
	h.register <- client

	// Handle messages and disconnection
	go func() {
		defer func() {
			h.unregister <- conn
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.logger.LogWSMessage("IN", username, string(message))
			if engine := h.getEngine(); engine != nil {
				handleWSMessage(engine, client, message)
			}
		}
	}()
}

func mustMarshalEvent(event Event) []byte {
	data, err := json.Marshal(event)
	if err != nil {
		return []byte(`{"type":"error"}`)
	}
	return data
}
