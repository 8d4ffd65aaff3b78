package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func shortHandshakeTimeout(t *testing.T) {
	t.Helper()
	prev := handshakeTimeout
	handshakeTimeout = 200 * time.Millisecond
	t.Cleanup(func() { handshakeTimeout = prev })
}

func testLink(t *testing.T, cfg *Config) *BalancerLink {
	t.Helper()
	return &BalancerLink{cfg: cfg, stopc: make(chan struct{})}
}

func udpListener(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("udp listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	return pc
}

func sendBroadcast(t *testing.T, to net.Addr, payload string) {
	t.Helper()
	conn, err := net.Dial("udp", to.String())
	if err != nil {
		t.Fatalf("udp dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("udp send: %v", err)
	}
}

// fakeControlServer accepts one TCP connection, checks the handshake
// acknowledgement and answers with the given confirmation line.
func fakeControlServer(t *testing.T, confirmation string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("tcp listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		if strings.TrimSpace(line) != HandshakeAcknowledge {
			return
		}
		fmt.Fprintf(conn, "%s\n", confirmation)
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestHandshakeReachesConfirmed(t *testing.T) {
	shortHandshakeTimeout(t)
	cfg := DefaultConfig()
	cfg.LoadBalancerPort = fakeControlServer(t, ConnectionConfirmed)

	pc := udpListener(t)
	l := testLink(t, cfg)
	sendBroadcast(t, pc.LocalAddr(), HandshakeRequest)

	if err := l.Discover(pc); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if l.State() != LinkConfirmed {
		t.Fatalf("state = %s, want CONFIRMED", l.State())
	}
	l.reset()
}

func TestMalformedBroadcastDoesNotAdvance(t *testing.T) {
	shortHandshakeTimeout(t)
	cfg := DefaultConfig()

	pc := udpListener(t)
	l := testLink(t, cfg)
	sendBroadcast(t, pc.LocalAddr(), "SYNC_HANDSHAKE_v1")
	sendBroadcast(t, pc.LocalAddr(), "garbage")

	go func() {
		time.Sleep(100 * time.Millisecond)
		l.Stop()
	}()
	err := l.Discover(pc)
	if !errors.Is(err, errLinkStopped) {
		t.Fatalf("discover err = %v, want stop", err)
	}
	if l.State() != LinkDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED", l.State())
	}
}

func TestFailedDialResetsToDisconnected(t *testing.T) {
	shortHandshakeTimeout(t)
	cfg := DefaultConfig()
	// Grab a port with no listener behind it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg.LoadBalancerPort = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	pc := udpListener(t)
	l := testLink(t, cfg)
	sendBroadcast(t, pc.LocalAddr(), HandshakeRequest)

	go func() {
		time.Sleep(300 * time.Millisecond)
		l.Stop()
	}()
	if err := l.Discover(pc); !errors.Is(err, errLinkStopped) {
		t.Fatalf("discover err = %v, want stop", err)
	}
	if l.State() != LinkDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED after failed dial", l.State())
	}
	if l.conn != nil {
		t.Fatal("stale socket retained after reset")
	}
}

func TestWrongConfirmationResets(t *testing.T) {
	shortHandshakeTimeout(t)
	cfg := DefaultConfig()
	cfg.LoadBalancerPort = fakeControlServer(t, "CONNECTION_REFUSED")

	pc := udpListener(t)
	l := testLink(t, cfg)
	sendBroadcast(t, pc.LocalAddr(), HandshakeRequest)

	go func() {
		time.Sleep(300 * time.Millisecond)
		l.Stop()
	}()
	if err := l.Discover(pc); !errors.Is(err, errLinkStopped) {
		t.Fatalf("discover err = %v, want stop", err)
	}
	if l.State() != LinkDisconnected {
		t.Fatalf("state = %s, want DISCONNECTED after bad confirmation", l.State())
	}
}

// pipeControl wires the link's control connection to an in-memory pipe
// and runs a scripted responder on the far end
func pipeControl(t *testing.T, l *BalancerLink, respond func(req lbRequest) interface{}) {
	t.Helper()
	client, server := net.Pipe()
	l.conn = client
	l.br = bufio.NewReader(client)
	l.setState(LinkConfirmed)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	go func() {
		sc := bufio.NewScanner(server)
		for sc.Scan() {
			var req lbRequest
			var raw struct {
				T string          `json:"t"`
				D json.RawMessage `json:"d"`
			}
			if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
				return
			}
			req.T = raw.T
			resp, _ := json.Marshal(map[string]interface{}{"t": raw.T, "d": respond(req)})
			server.Write(append(resp, '\n'))
		}
	}()
}

func TestSteadyExchangeCachesProfiles(t *testing.T) {
	shortHandshakeTimeout(t)
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := newTestStore()
	bots := NewBotController(store, BuildSpatialIndex(nil), cfg)
	tracker := NewEventTracker(db)
	defer tracker.Close()
	hub := NewHub(cfg, db, store, bots, tracker)

	l := testLink(t, cfg)
	l.hub = hub
	l.store = store
	l.bots = bots
	l.db = db
	l.tracker = tracker

	var tags []string
	pipeControl(t, l, func(req lbRequest) interface{} {
		tags = append(tags, req.T)
		switch req.T {
		case LBCachePlayerData:
			return []CachedProfile{{Username: "wanderer", Health: 80, Currency: 340, HomeServer: 3}}
		default:
			return true
		}
	})

	l.EnqueueRegistration("newcomer")
	l.EnqueueAuth("wanderer")
	if err := l.exchange(); err != nil {
		t.Fatalf("exchange: %v", err)
	}

	want := []string{LBRegisterUser, LBAuthenticateUser, LBCachePlayerData, LBSendServerInfo}
	if len(tags) != len(want) {
		t.Fatalf("exchange sent %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Fatalf("exchange sent %v, want %v", tags, want)
		}
	}

	p, ok := store.Profile("wanderer")
	if !ok || p.Health != 80 || p.HomeServer != 3 {
		t.Fatalf("profile not cached: %+v ok=%v", p, ok)
	}
	saved, err := db.GetCachedProfile("wanderer")
	if err != nil || saved == nil || saved.Currency != 340 {
		t.Fatalf("profile not persisted: %+v err=%v", saved, err)
	}

	// Queues drain on a successful exchange
	l.pendMu.Lock()
	pending := len(l.pendingRegs) + len(l.pendingAuths)
	l.pendMu.Unlock()
	if pending != 0 {
		t.Fatalf("%d relays still pending", pending)
	}
}

func TestRequestServerIndexAndBounds(t *testing.T) {
	shortHandshakeTimeout(t)
	l := testLink(t, DefaultConfig())
	pipeControl(t, l, func(req lbRequest) interface{} {
		switch req.T {
		case LBGetServerIndex:
			return 2
		case LBGetRegionBoundaries:
			return RegionBoundsMsg{Width: 2000, Height: 2000}
		}
		return nil
	})

	idx, err := l.requestServerIndex()
	if err != nil || idx != 2 {
		t.Fatalf("server index = %d, err %v", idx, err)
	}
	bounds, err := l.requestRegionBoundaries()
	if err != nil || bounds.Width != 2000 || bounds.Height != 2000 {
		t.Fatalf("bounds = %+v, err %v", bounds, err)
	}
	r := RegionForIndex(idx, bounds.Width, bounds.Height)
	if r.MinX != 2000 || r.MinY != 0 {
		t.Fatalf("region origin (%f, %f), want (2000, 0)", r.MinX, r.MinY)
	}
}
