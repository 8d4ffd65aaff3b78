package main

import (
	"log"
	"sync"
	"time"
)

// Event types for server activity tracking
const (
	EvtSessionStart  = "session_start"
	EvtSessionEnd    = "session_end"
	EvtBotSpawn      = "bot_spawn"
	EvtBotDeath      = "bot_death"
	EvtHandshake     = "lb_handshake"
	EvtHandshakeLost = "lb_link_lost"
	EvtChat          = "chat"
)

// ServerEvent represents a single trackable event
type ServerEvent struct {
	Type      string
	SessionID string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
}

// EventTracker handles event tracking with batched background writes
type EventTracker struct {
	db     *DB
	events chan ServerEvent
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewEventTracker creates and starts the background writer
func NewEventTracker(db *DB) *EventTracker {
	t := &EventTracker{
		db:     db,
		events: make(chan ServerEvent, 1024),
		stop:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writer()
	return t
}

// Track enqueues an event for async persistence (non-blocking)
func (t *EventTracker) Track(evtType, sessionID, data string) {
	select {
	case t.events <- ServerEvent{
		Type:      evtType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// Channel full, drop event rather than blocking the tick loop
	}
}

// Close flushes pending events and stops the writer
func (t *EventTracker) Close() {
	close(t.stop)
	t.wg.Wait()
}

// writer batches events and flushes them every few seconds
func (t *EventTracker) writer() {
	defer t.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var batch []ServerEvent
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := t.db.InsertEvents(batch); err != nil {
			log.Printf("event flush error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-t.events:
			batch = append(batch, e)
			if len(batch) >= 256 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-t.stop:
			for {
				select {
				case e := <-t.events:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}
