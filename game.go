package main

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Game runs the fixed-rate authoritative tick loop. Simulation only
// advances while the load-balancer link is confirmed; the loop itself
// keeps running so activation resumes cleanly.
type Game struct {
	hub   *Hub
	store *EntityStore
	bots  *BotController
	cfg   *Config

	tick    atomic.Uint64
	active  atomic.Bool
	chatSeq int

	stopc    chan struct{}
	stopOnce sync.Once
}

func NewGame(cfg *Config, hub *Hub, store *EntityStore, bots *BotController) *Game {
	g := &Game{
		hub:   hub,
		store: store,
		bots:  bots,
		cfg:   cfg,
		stopc: make(chan struct{}),
	}
	hub.game = g
	return g
}

// Tick returns the current tick number
func (g *Game) Tick() uint64 {
	return g.tick.Load()
}

// SetActive gates simulation on the balancer link state
func (g *Game) SetActive(ok bool) {
	g.active.Store(ok)
}

// Active reports whether the simulation is advancing
func (g *Game) Active() bool {
	return g.active.Load()
}

// Run drives the tick loop at the configured rate. The next deadline is
// scheduled from the previous deadline rather than from now, so a slow
// tick delays the next one without bursting to catch up.
func (g *Game) Run() {
	interval := time.Second / time.Duration(g.cfg.TickRate)
	next := time.Now().Add(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-g.stopc:
			return
		case <-timer.C:
		}

		g.Step()

		next = next.Add(interval)
		d := time.Until(next)
		if d < 0 {
			// Overran the deadline: resynchronize, never burst
			next = time.Now().Add(interval)
			d = interval
		}
		timer.Reset(d)
	}
}

// Stop terminates the tick loop
func (g *Game) Stop() {
	g.stopOnce.Do(func() { close(g.stopc) })
}

// Step advances the world by one tick. Exposed so tests can drive the
// loop deterministically.
func (g *Game) Step() {
	g.tick.Add(1)

	// Session bookkeeping, not simulation: idle connections must not
	// pile up while the balancer link is down.
	g.hub.PruneIdle()

	if !g.active.Load() {
		return
	}

	g.bots.Tick()
	g.flushDeltas()
	g.broadcastChat()
}

// flushDeltas drains the accumulated per-entity changes and broadcasts
// them as one msgpack frame
func (g *Game) flushDeltas() {
	deltas := g.store.FlushDeltas()
	if len(deltas) == 0 {
		return
	}
	frame := DeltaFrame{
		Tick:    g.tick.Load(),
		Changes: make(map[int]map[string]any, len(deltas)),
	}
	for id, d := range deltas {
		frame.Changes[id] = d
	}
	data, err := msgpack.Marshal(&frame)
	if err != nil {
		log.Printf("delta frame marshal: %v", err)
		return
	}
	g.hub.BroadcastBinary(data)
}

// broadcastChat pushes chat lines appended since the previous tick
func (g *Game) broadcastChat() {
	lines, seq := g.store.ChatSince(g.chatSeq)
	g.chatSeq = seq
	for _, line := range lines {
		g.hub.BroadcastJSON(Envelope{T: MsgChatBroadcast, Data: line})
	}
}
