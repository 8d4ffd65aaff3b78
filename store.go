package main

import (
	"sort"
	"sync"
)

// EntityKind distinguishes players from server-driven bots
type EntityKind int

const (
	KindPlayer EntityKind = 0
	KindBot    EntityKind = 1
)

// EntityRecord is the authoritative live state of one entity. The store
// owns record lifetime; callers only ever see copies.
type EntityRecord struct {
	ID         int
	X, Y       float64
	Angle      float64
	Health     int
	Kind       EntityKind
	Aggressive bool
	Moving     bool
	Engaged    bool
	TargetX    float64
	TargetY    float64
}

// Delta is the set of changed fields for one entity since the last flush
type Delta map[string]any

// ChatLine is one chat message kept in the bounded history
type ChatLine struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// CachedProfile is cross-server player data pushed by the load balancer
type CachedProfile struct {
	Username   string `json:"username"`
	Health     int    `json:"health"`
	Currency   int    `json:"currency"`
	HomeServer int    `json:"home_server"`
}

const maxChatHistory = 100

// EntityStore is the single synchronized owner of all mutable game
// state. State is guarded by one lock per access group rather than one
// global lock; any operation spanning groups acquires them in the fixed
// order positional -> delta -> credential -> chat -> counter, so callers
// cannot introduce lock-order bugs by construction.
type EntityStore struct {
	// positional group: entity records and the player grid move together
	posMu    sync.Mutex
	entities map[int]*EntityRecord
	grid     *PlayerGrid

	// delta accumulation group
	deltaMu sync.Mutex
	deltas  map[int]Delta

	// credential group: cross-server cached profiles
	credMu   sync.Mutex
	profiles map[string]CachedProfile

	// chat group
	chatMu    sync.Mutex
	chat      []ChatLine
	chatTotal int

	// counter group
	seqMu        sync.Mutex
	nextPlayerID int
	nextBotID    int
}

// NewEntityStore creates a store backed by the given player grid
func NewEntityStore(grid *PlayerGrid) *EntityStore {
	return &EntityStore{
		entities:     make(map[int]*EntityRecord),
		grid:         grid,
		deltas:       make(map[int]Delta),
		profiles:     make(map[string]CachedProfile),
		nextPlayerID: 1,
		nextBotID:    -1,
	}
}

// CreatePlayer allocates a positive monotonic id and inserts a player
// record at (x, y)
func (s *EntityStore) CreatePlayer(x, y float64) int {
	s.seqMu.Lock()
	id := s.nextPlayerID
	s.nextPlayerID++
	s.seqMu.Unlock()

	s.insert(&EntityRecord{ID: id, X: x, Y: y, Health: 100, Kind: KindPlayer})
	return id
}

// CreateBot allocates a negative id, so bot ids never alias player ids,
// and inserts a bot record at (x, y)
func (s *EntityStore) CreateBot(x, y float64, aggressive bool) int {
	s.seqMu.Lock()
	id := s.nextBotID
	s.nextBotID--
	s.seqMu.Unlock()

	s.insert(&EntityRecord{ID: id, X: x, Y: y, Health: 100, Kind: KindBot, Aggressive: aggressive})
	return id
}

func (s *EntityStore) insert(rec *EntityRecord) {
	s.posMu.Lock()
	s.entities[rec.ID] = rec
	s.grid.AddOrUpdate(rec.ID, rec.X, rec.Y)

	s.deltaMu.Lock()
	s.deltas[rec.ID] = Delta{
		"x": rec.X, "y": rec.Y, "health": rec.Health,
		"kind": int(rec.Kind), "aggressive": rec.Aggressive,
	}
	s.deltaMu.Unlock()
	s.posMu.Unlock()
}

// Get returns a copy of the record for id
func (s *EntityStore) Get(id int) (EntityRecord, bool) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	rec, ok := s.entities[id]
	if !ok {
		return EntityRecord{}, false
	}
	return *rec, true
}

// Mutate applies fn to the record under the positional lock, resyncs the
// grid if the position changed, and queues a delta for every field fn
// changed, all as one logical step. The whole read-modify-write holds
// the lock, so concurrent readers never see a torn record.
func (s *EntityStore) Mutate(id int, fn func(*EntityRecord)) bool {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	rec, ok := s.entities[id]
	if !ok {
		return false
	}
	before := *rec
	fn(rec)
	rec.ID = before.ID // id and kind are not mutable
	rec.Kind = before.Kind

	if rec.X != before.X || rec.Y != before.Y {
		s.grid.AddOrUpdate(id, rec.X, rec.Y)
	}

	d := diffRecords(&before, rec)
	if len(d) > 0 {
		s.deltaMu.Lock()
		s.mergeDelta(id, d)
		s.deltaMu.Unlock()
	}
	return true
}

// diffRecords returns the changed fields between two records
func diffRecords(before, after *EntityRecord) Delta {
	d := Delta{}
	if after.X != before.X {
		d["x"] = after.X
	}
	if after.Y != before.Y {
		d["y"] = after.Y
	}
	if after.Angle != before.Angle {
		d["angle"] = after.Angle
	}
	if after.Health != before.Health {
		d["health"] = after.Health
	}
	if after.Aggressive != before.Aggressive {
		d["aggressive"] = after.Aggressive
	}
	if after.Moving != before.Moving {
		d["moving"] = after.Moving
	}
	if after.Engaged != before.Engaged {
		d["engaged"] = after.Engaged
	}
	if after.TargetX != before.TargetX {
		d["target_x"] = after.TargetX
	}
	if after.TargetY != before.TargetY {
		d["target_y"] = after.TargetY
	}
	return d
}

// mergeDelta folds fields into the pending delta for id.
// Caller holds deltaMu.
func (s *EntityStore) mergeDelta(id int, d Delta) {
	pending, ok := s.deltas[id]
	if !ok {
		pending = Delta{}
		s.deltas[id] = pending
	}
	for k, v := range d {
		pending[k] = v
	}
}

// QueueDelta appends a single field to an entity's pending delta without
// touching the record, e.g. transient combat events
func (s *EntityStore) QueueDelta(id int, field string, value any) {
	s.deltaMu.Lock()
	s.mergeDelta(id, Delta{field: value})
	s.deltaMu.Unlock()
}

// Delete removes the entity from the store, the grid and the pending
// deltas in one operation, and queues a removal notice for broadcast
func (s *EntityStore) Delete(id int) bool {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return false
	}
	delete(s.entities, id)
	s.grid.Remove(id)

	s.deltaMu.Lock()
	s.deltas[id] = Delta{"removed": true}
	s.deltaMu.Unlock()
	return true
}

// FlushDeltas returns all accumulated deltas and starts a fresh
// accumulation window
func (s *EntityStore) FlushDeltas() map[int]Delta {
	s.deltaMu.Lock()
	defer s.deltaMu.Unlock()
	if len(s.deltas) == 0 {
		return nil
	}
	out := s.deltas
	s.deltas = make(map[int]Delta)
	return out
}

// Nearby returns copies of entities within radius r of (x, y), exact
// distance, using the grid as broad phase. Position reads happen in the
// same lock scope as the grid query, so the result is never torn.
func (s *EntityStore) Nearby(x, y, r float64) []EntityRecord {
	s.posMu.Lock()
	defer s.posMu.Unlock()

	var result []EntityRecord
	for _, id := range s.grid.QueryRadius(x, y, r) {
		rec, ok := s.entities[id]
		if !ok {
			continue
		}
		if DistanceSq(x, y, rec.X, rec.Y) <= r*r {
			result = append(result, *rec)
		}
	}
	return result
}

// NearestPlayer returns the closest live player entity within radius r
// of (x, y)
func (s *EntityStore) NearestPlayer(x, y, r float64) (EntityRecord, bool) {
	var best EntityRecord
	bestD2 := r * r
	found := false
	for _, rec := range s.Nearby(x, y, r) {
		if rec.Kind != KindPlayer || rec.Health <= 0 {
			continue
		}
		d2 := DistanceSq(x, y, rec.X, rec.Y)
		if d2 <= bestD2 {
			bestD2 = d2
			best = rec
			found = true
		}
	}
	return best, found
}

// Snapshot returns copies of all records ordered by id
func (s *EntityStore) Snapshot() []EntityRecord {
	s.posMu.Lock()
	result := make([]EntityRecord, 0, len(s.entities))
	for _, rec := range s.entities {
		result = append(result, *rec)
	}
	s.posMu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Count returns the number of live entities
func (s *EntityStore) Count() int {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	return len(s.entities)
}

// PlayerCount returns the number of live player entities
func (s *EntityStore) PlayerCount() int {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	n := 0
	for _, rec := range s.entities {
		if rec.Kind == KindPlayer {
			n++
		}
	}
	return n
}

// AppendChat adds a line to the bounded chat history
func (s *EntityStore) AppendChat(line ChatLine) {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	s.chat = append(s.chat, line)
	s.chatTotal++
	if len(s.chat) > maxChatHistory {
		s.chat = s.chat[len(s.chat)-maxChatHistory:]
	}
}

// ChatSince returns the lines appended after sequence seq, bounded by
// the retained history, plus the new sequence. The tick loop uses this
// to broadcast chat without handlers blocking on the broadcast.
func (s *EntityStore) ChatSince(seq int) ([]ChatLine, int) {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	if seq >= s.chatTotal {
		return nil, s.chatTotal
	}
	n := s.chatTotal - seq
	if n > len(s.chat) {
		n = len(s.chat)
	}
	out := make([]ChatLine, n)
	copy(out, s.chat[len(s.chat)-n:])
	return out, s.chatTotal
}

// RecentChat returns up to n most recent chat lines
func (s *EntityStore) RecentChat(n int) []ChatLine {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	if n > len(s.chat) {
		n = len(s.chat)
	}
	out := make([]ChatLine, n)
	copy(out, s.chat[len(s.chat)-n:])
	return out
}

// CacheProfile stores cross-server player data from the load balancer
func (s *EntityStore) CacheProfile(p CachedProfile) {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	s.profiles[p.Username] = p
}

// Profile returns the cached cross-server profile for username
func (s *EntityStore) Profile(username string) (CachedProfile, bool) {
	s.credMu.Lock()
	defer s.credMu.Unlock()
	p, ok := s.profiles[username]
	return p, ok
}
