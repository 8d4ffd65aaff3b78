package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	steadyInterval = 100 * time.Millisecond
	retryDelay     = time.Second
)

// handshakeTimeout bounds every discovery read and control-link
// round-trip. Variable so tests can shorten it.
var handshakeTimeout = 4 * time.Second

var errLinkStopped = errors.New("balancer link stopped")

// LinkState is the load-balancer link lifecycle state
type LinkState int32

const (
	LinkDisconnected LinkState = iota
	LinkHandshaking
	LinkAckSent
	LinkConfirmed
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "DISCONNECTED"
	case LinkHandshaking:
		return "HANDSHAKING"
	case LinkAckSent:
		return "ACK_SENT"
	case LinkConfirmed:
		return "CONFIRMED"
	default:
		return "UNKNOWN"
	}
}

// BalancerLink discovers the load balancer over UDP broadcast, completes
// the versioned handshake, then holds a persistent TCP control link.
// Every link error demotes straight back to DISCONNECTED and discovery
// restarts on a fresh socket.
type BalancerLink struct {
	cfg     *Config
	game    *Game
	hub     *Hub
	bots    *BotController
	store   *EntityStore
	db      *DB
	tracker *EventTracker

	state atomic.Int32

	conn net.Conn
	br   *bufio.Reader

	pendMu       sync.Mutex
	pendingRegs  []string
	pendingAuths []string

	stopc    chan struct{}
	stopOnce sync.Once
}

func NewBalancerLink(cfg *Config, game *Game, hub *Hub, bots *BotController, store *EntityStore, db *DB, tracker *EventTracker) *BalancerLink {
	l := &BalancerLink{
		cfg:     cfg,
		game:    game,
		hub:     hub,
		bots:    bots,
		store:   store,
		db:      db,
		tracker: tracker,
		stopc:   make(chan struct{}),
	}
	hub.balancer = l
	return l
}

// State returns the current link state
func (l *BalancerLink) State() LinkState {
	return LinkState(l.state.Load())
}

func (l *BalancerLink) setState(s LinkState) {
	l.state.Store(int32(s))
}

// Stop terminates the link loop
func (l *BalancerLink) Stop() {
	l.stopOnce.Do(func() { close(l.stopc) })
}

func (l *BalancerLink) stopped() bool {
	select {
	case <-l.stopc:
		return true
	default:
		return false
	}
}

// EnqueueRegistration relays a new account to the balancer on the next
// steady-state exchange
func (l *BalancerLink) EnqueueRegistration(username string) {
	l.pendMu.Lock()
	l.pendingRegs = append(l.pendingRegs, username)
	l.pendMu.Unlock()
}

// EnqueueAuth relays a successful login to the balancer on the next
// steady-state exchange
func (l *BalancerLink) EnqueueAuth(username string) {
	l.pendMu.Lock()
	l.pendingAuths = append(l.pendingAuths, username)
	l.pendMu.Unlock()
}

// Run cycles discovery -> handshake -> steady state until stopped
func (l *BalancerLink) Run() {
	for !l.stopped() {
		pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", l.cfg.BroadcastPort))
		if err != nil {
			log.Printf("balancer: broadcast listen: %v", err)
			l.sleep(retryDelay)
			continue
		}
		err = l.Discover(pc)
		pc.Close()
		if err != nil {
			if !errors.Is(err, errLinkStopped) {
				log.Printf("balancer: discovery: %v", err)
			}
			continue
		}

		if err := l.onConfirmed(); err != nil {
			log.Printf("balancer: post-handshake setup: %v", err)
			l.demote()
			continue
		}

		if err := l.steadyLoop(); err != nil {
			if !errors.Is(err, errLinkStopped) {
				log.Printf("balancer: link lost: %v", err)
			}
		}
		l.demote()
	}
}

func (l *BalancerLink) sleep(d time.Duration) {
	select {
	case <-l.stopc:
	case <-time.After(d):
	}
}

// Discover listens for the balancer's broadcast and runs the handshake.
// Returns nil once the link reaches CONFIRMED. Malformed packets and
// failed handshakes drop the state back to DISCONNECTED and listening
// continues.
func (l *BalancerLink) Discover(pc net.PacketConn) error {
	buf := make([]byte, 1024)
	for {
		if l.stopped() {
			return errLinkStopped
		}
		pc.SetReadDeadline(time.Now().Add(handshakeTimeout))
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}

		payload := strings.TrimSpace(string(buf[:n]))
		if payload != HandshakeRequest {
			log.Printf("balancer: ignoring packet from %s: %q", addr, payload)
			l.setState(LinkDisconnected)
			continue
		}

		l.setState(LinkHandshaking)
		if err := l.connect(addr); err != nil {
			log.Printf("balancer: handshake with %s failed: %v", addr, err)
			l.reset()
			continue
		}
		return nil
	}
}

// connect dials the balancer's control port, acknowledges the handshake
// and waits for confirmation
func (l *BalancerLink) connect(addr net.Addr) error {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return err
	}
	conn, err := net.DialTimeout("tcp",
		net.JoinHostPort(host, strconv.Itoa(l.cfg.LoadBalancerPort)), handshakeTimeout)
	if err != nil {
		return err
	}
	l.conn = conn
	l.br = bufio.NewReader(conn)

	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if _, err := fmt.Fprintf(conn, "%s\n", HandshakeAcknowledge); err != nil {
		return err
	}
	l.setState(LinkAckSent)

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	line, err := l.br.ReadString('\n')
	if err != nil {
		return err
	}
	if strings.TrimSpace(line) != ConnectionConfirmed {
		return fmt.Errorf("unexpected confirmation %q", strings.TrimSpace(line))
	}
	l.setState(LinkConfirmed)
	return nil
}

// reset closes any half-open socket and drops back to DISCONNECTED. The
// next attempt always starts from a fresh connection.
func (l *BalancerLink) reset() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
		l.br = nil
	}
	l.setState(LinkDisconnected)
}

// onConfirmed pulls the region assignment, spawns the bot population
// and opens the server to clients
func (l *BalancerLink) onConfirmed() error {
	idx, err := l.requestServerIndex()
	if err != nil {
		return err
	}
	bounds, err := l.requestRegionBoundaries()
	if err != nil {
		return err
	}
	region := RegionForIndex(idx, bounds.Width, bounds.Height)

	l.hub.SetServerIndex(idx)
	l.hub.SetRegion(region)
	l.bots.SetRegion(region)
	if l.bots.Count() == 0 {
		l.bots.SpawnBots(l.cfg.BotCount)
	}

	l.game.SetActive(true)
	l.hub.SetAccepting(true)
	l.tracker.Track(EvtHandshake, "", fmt.Sprintf("region=%d", idx))
	log.Printf("balancer: link confirmed, serving region %d (%gx%g)",
		idx, bounds.Width, bounds.Height)
	return nil
}

// demote tears the link down and halts client admission and simulation
func (l *BalancerLink) demote() {
	if l.State() == LinkConfirmed {
		l.tracker.Track(EvtHandshakeLost, "", "")
	}
	l.reset()
	l.game.SetActive(false)
	l.hub.SetAccepting(false)
}

// steadyLoop exchanges control traffic with the balancer every 100ms
func (l *BalancerLink) steadyLoop() error {
	ticker := time.NewTicker(steadyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopc:
			return errLinkStopped
		case <-ticker.C:
			if err := l.exchange(); err != nil {
				return err
			}
		}
	}
}

// exchange drains pending account relays, refreshes the cross-server
// profile cache and reports server load
func (l *BalancerLink) exchange() error {
	l.pendMu.Lock()
	regs := l.pendingRegs
	auths := l.pendingAuths
	l.pendingRegs = nil
	l.pendingAuths = nil
	l.pendMu.Unlock()

	for _, username := range regs {
		if _, err := l.request(LBRegisterUser, map[string]string{"username": username}); err != nil {
			return err
		}
	}
	for _, username := range auths {
		if _, err := l.request(LBAuthenticateUser, map[string]string{"username": username}); err != nil {
			return err
		}
	}

	raw, err := l.request(LBCachePlayerData, nil)
	if err != nil {
		return err
	}
	if len(raw) > 0 {
		var profiles []CachedProfile
		if err := json.Unmarshal(raw, &profiles); err != nil {
			return fmt.Errorf("cache payload: %w", err)
		}
		for _, p := range profiles {
			l.store.CacheProfile(p)
			if err := l.db.UpsertCachedProfile(p); err != nil {
				log.Printf("balancer: profile cache persist: %v", err)
			}
		}
	}

	_, err = l.request(LBSendServerInfo, ServerInfoMsg{
		ServerIndex: l.hub.ServerIndex(),
		Players:     l.store.PlayerCount(),
		Bots:        l.bots.Count(),
	})
	return err
}

// request performs one newline-delimited JSON request/response on the
// control link
func (l *BalancerLink) request(tag string, payload interface{}) (json.RawMessage, error) {
	if l.conn == nil {
		return nil, errors.New("no control link")
	}
	data, err := json.Marshal(lbRequest{T: tag, D: payload})
	if err != nil {
		return nil, err
	}
	l.conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if _, err := l.conn.Write(append(data, '\n')); err != nil {
		return nil, err
	}

	l.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	line, err := l.br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	var resp lbResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, fmt.Errorf("response for %s: %w", tag, err)
	}
	return resp.D, nil
}

func (l *BalancerLink) requestServerIndex() (int, error) {
	raw, err := l.request(LBGetServerIndex, nil)
	if err != nil {
		return 0, err
	}
	var idx int
	if err := json.Unmarshal(raw, &idx); err != nil {
		return 0, fmt.Errorf("server index payload: %w", err)
	}
	return idx, nil
}

func (l *BalancerLink) requestRegionBoundaries() (RegionBoundsMsg, error) {
	raw, err := l.request(LBGetRegionBoundaries, nil)
	if err != nil {
		return RegionBoundsMsg{}, err
	}
	var bounds RegionBoundsMsg
	if err := json.Unmarshal(raw, &bounds); err != nil {
		return RegionBoundsMsg{}, fmt.Errorf("region bounds payload: %w", err)
	}
	return bounds, nil
}
