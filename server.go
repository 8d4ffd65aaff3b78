package main

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetupRoutes configures HTTP routes
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !hub.Accepting() {
			http.Error(w, "awaiting load balancer", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "ok region=%d players=%d\n", hub.ServerIndex(), hub.ClientCount())
	})

	// WebSocket endpoint; closed until the load-balancer link confirms
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "not accepting connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip)

		// Spawn the player entity before the pumps start, so the first
		// inbound message already dispatches against a live entity and
		// nothing else writes entityID once the reader is running.
		rg := hub.Region()
		client.entityID = hub.store.CreatePlayer((rg.MinX+rg.MaxX)/2, (rg.MinY+rg.MaxY)/2)
		client.touch()
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	return mux
}
