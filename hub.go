package main

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxConnsPerIP = 5
)

// SessionIdleTimeout drops sessions with no inbound traffic. Variable so
// tests can shorten it.
var SessionIdleTimeout = 60 * time.Second

// Hub manages all connected clients and owns the shared game subsystems
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int

	db         *DB
	auth       *Auth
	store      *EntityStore
	bots       *BotController
	tracker    *EventTracker
	balancer   *BalancerLink
	game       *Game
	dispatcher *Dispatcher
	cfg        *Config

	// accepting gates client admission on the load-balancer link state
	accepting atomic.Bool

	regionMu    sync.Mutex
	region      Region
	serverIndex atomic.Int32

	// Online authenticated users: username -> *Client
	onlineMu    sync.RWMutex
	onlineUsers map[string]*Client
}

// NewHub creates a Hub wired to the shared subsystems
func NewHub(cfg *Config, db *DB, store *EntityStore, bots *BotController, tracker *EventTracker) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		ipConns:     make(map[string]int),
		db:          db,
		auth:        NewAuth(db),
		store:       store,
		bots:        bots,
		tracker:     tracker,
		cfg:         cfg,
		onlineUsers: make(map[string]*Client),
	}
	h.dispatcher = NewDispatcher(h)
	return h
}

// SetAccepting toggles client admission; demoting the balancer link
// turns it off
func (h *Hub) SetAccepting(ok bool) {
	h.accepting.Store(ok)
}

// Accepting reports whether new clients are admitted
func (h *Hub) Accepting() bool {
	return h.accepting.Load()
}

// SetRegion records the region assigned by the load balancer
func (h *Hub) SetRegion(r Region) {
	h.regionMu.Lock()
	h.region = r
	h.regionMu.Unlock()
}

// SetServerIndex records the region index assigned by the load balancer
func (h *Hub) SetServerIndex(idx int) {
	h.serverIndex.Store(int32(idx))
}

// ServerIndex returns the assigned region index
func (h *Hub) ServerIndex() int {
	return int(h.serverIndex.Load())
}

// Region returns the assigned region
func (h *Hub) Region() Region {
	h.regionMu.Lock()
	defer h.regionMu.Unlock()
	return h.region
}

func (h *Hub) CanAccept(ip string) bool {
	if !h.Accepting() {
		return false
	}
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.cfg.MaxPlayers {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

			// The connection handler spawned the entity before handing
			// the client over, so entityID is already settled here.
			h.tracker.Track(EvtSessionStart, client.sessionID, "")

			client.SendJSON(Envelope{T: MsgWelcome, Data: WelcomeMsg{
				ID:        client.entityID,
				SessionID: client.sessionID,
				Region:    h.ServerIndex(),
			}})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

			// Entity, grid cell and pending delta go in one operation
			if client.entityID != 0 {
				h.store.Delete(client.entityID)
			}
			if client.username != "" {
				h.SetOffline(client.username)
			}
			h.tracker.Track(EvtSessionEnd, client.sessionID, "")
		}
	}
}

// PruneIdle disconnects sessions without traffic for longer than
// SessionIdleTimeout; the unregister path removes their entities
func (h *Hub) PruneIdle() {
	cutoff := time.Now().Add(-SessionIdleTimeout).UnixNano()

	h.mu.RLock()
	var stale []*Client
	for c := range h.clients {
		if c.lastSeen.Load() < cutoff {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		c.conn.Close()
	}
}

// BroadcastBinary sends a binary frame to every connected client
func (h *Hub) BroadcastBinary(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.SendBinary(data)
	}
}

// BroadcastJSON sends an envelope to every connected client
func (h *Hub) BroadcastJSON(msg Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.SendJSON(msg)
	}
}

// SetOnline marks an authenticated user as online
func (h *Hub) SetOnline(username string, client *Client) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	h.onlineUsers[username] = client
}

// SetOffline removes an authenticated user from online tracking
func (h *Hub) SetOffline(username string) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	delete(h.onlineUsers, username)
}

// IsOnline checks if a user is online
func (h *Hub) IsOnline(username string) bool {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	_, ok := h.onlineUsers[username]
	return ok
}

func (h *Hub) tick() uint64 {
	if h.game == nil {
		return 0
	}
	return h.game.Tick()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
