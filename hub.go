package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSEvent is a message pushed to spectators
type WSEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Client represents a websocket connection watching one session
type Client struct {
	conn       *websocket.Conn
	sessionKey string
	writeMu    sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

// Hub tracks spectator connections and pushes game events to them
type Hub struct {
	clients    map[*websocket.Conn]*Client
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

// Publish sends an event to every connection of the session.
func (h *Hub) Publish(sessionKey, event string, payload any) {
	message, err := json.Marshal(WSEvent{Type: event, Data: payload})
	if err != nil {
		logError("Hub.Publish: marshal "+event, err)
		return
	}
	h.sendToSession(sessionKey, message)
}

func (h *Hub) sendToSession(sessionKey string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.sessionKey != sessionKey {
			continue
		}
		LogWSMessage("OUT", sessionKey, string(message))

		// Serialize writes to each connection
		client.writeMu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, message)
		client.writeMu.Unlock()

		if err != nil {
			log.Printf("WebSocket write error to session %s: %v", shortKey(sessionKey), err)
		}
	}
}

func (h *Hub) connectionCount(sessionKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.sessionKey == sessionKey {
			n++
		}
	}
	return n
}

// start launches the hub goroutine; stop waits for it.
func (h *Hub) start() {
	h.wg.Add(1)
	go h.run()
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected. Total: %d", total)
			DebugLog("hub.register", "Session %s connected via WebSocket", shortKey(client.sessionKey))

		case conn := <-h.unregister:
			h.mu.Lock()
			client, ok := h.clients[conn]
			if ok {
				delete(h.clients, conn)
				conn.Close()
				DebugLog("hub.unregister", "Session %s disconnected", shortKey(client.sessionKey))
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total: %d", total)
		}
	}
}

func (a *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionKey := a.resolveSession(r)
	if sessionKey == "" {
		DebugLog("handleWebSocket", "Rejected WebSocket connection - no session")
		writeError(w, http.StatusUnauthorized, ErrNotAuthenticated.Error())
		return
	}

	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for session %s: %v", shortKey(sessionKey), err)
		return
	}

	DebugLog("handleWebSocket", "WebSocket upgraded successfully for session %s", shortKey(sessionKey))
	client := &Client{conn: conn, sessionKey: sessionKey}
	a.hub.register <- client

	// Spectators only listen; anything they send is logged and dropped
	go func() {
		defer func() {
			a.hub.unregister <- conn
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			LogWSMessage("IN", sessionKey, string(message))
		}
	}()
}
