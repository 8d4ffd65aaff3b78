package main

import (
	"log"
	"math"
	"math/rand"
	"sync"
)

const (
	BotSpeed           = 120.0 // units/s
	BotWeaponRange     = 250.0 // engage when a player is this close
	BotAggroChance     = 0.5   // fraction of spawned bots that chase players
	SpawnMinSeparation = 100.0
	BotPathTimeout     = 10.0 // seconds before a waypoint is abandoned
)

// BotState is the behavioral state of one bot
type BotState int

const (
	BotIdle BotState = iota
	BotMoving
	BotEngaged
)

// Bot holds per-bot behavioral sub-state. Position and health live in
// the entity store; the controller only keeps the id and its FSM data.
type Bot struct {
	ID            int
	State         BotState
	WaypointX     float64
	WaypointY     float64
	TargetID      int
	PathTicksLeft int
}

// BotController owns the bot state machines and drives their per-tick
// movement and combat decisions against the spatial index and the
// entity store
type BotController struct {
	store *EntityStore
	index *SpatialIndex
	cfg   *Config
	rng   *rand.Rand

	mu     sync.Mutex
	bots   map[int]*Bot
	region Region
}

// NewBotController creates a controller with no bots
func NewBotController(store *EntityStore, index *SpatialIndex, cfg *Config) *BotController {
	return &BotController{
		store: store,
		index: index,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(rand.Int63())),
		bots:  make(map[int]*Bot),
	}
}

// SetRegion assigns the region bots spawn and roam in
func (bc *BotController) SetRegion(r Region) {
	bc.mu.Lock()
	bc.region = r
	bc.mu.Unlock()
}

// Count returns the number of live bots
func (bc *BotController) Count() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.bots)
}

// GenerateSpawnPositions produces up to n candidate positions uniformly
// inside region, rejecting a candidate only when it is within
// SpawnMinSeparation of an accepted position in BOTH axes. Total
// attempts are capped at 10*n, so a cramped region yields fewer than n
// positions instead of blocking.
func GenerateSpawnPositions(n int, region Region, rng *rand.Rand) [][2]float64 {
	var positions [][2]float64
	maxAttempts := n * 10
	for attempts := 0; len(positions) < n && attempts < maxAttempts; attempts++ {
		x, y := region.RandomPoint(rng)
		rejected := false
		for _, p := range positions {
			if math.Abs(x-p[0]) < SpawnMinSeparation && math.Abs(y-p[1]) < SpawnMinSeparation {
				rejected = true
				break
			}
		}
		if !rejected {
			positions = append(positions, [2]float64{x, y})
		}
	}
	return positions
}

// SpawnBots creates up to n bots in the assigned region and returns how
// many were actually placed
func (bc *BotController) SpawnBots(n int) int {
	bc.mu.Lock()
	region := bc.region
	bc.mu.Unlock()

	positions := GenerateSpawnPositions(n, region, bc.rng)
	if len(positions) < n {
		log.Printf("bot spawn budget exhausted: placed %d of %d", len(positions), n)
	}

	for _, p := range positions {
		aggressive := bc.rng.Float64() < BotAggroChance
		id := bc.store.CreateBot(p[0], p[1], aggressive)
		bc.mu.Lock()
		bc.bots[id] = &Bot{ID: id}
		bc.mu.Unlock()
	}
	return len(positions)
}

// RemoveAll deletes every bot from the controller and the store
func (bc *BotController) RemoveAll() {
	bc.mu.Lock()
	ids := make([]int, 0, len(bc.bots))
	for id := range bc.bots {
		ids = append(ids, id)
	}
	bc.bots = make(map[int]*Bot)
	bc.mu.Unlock()

	for _, id := range ids {
		bc.store.Delete(id)
	}
}

// Tick advances every bot one simulation step. Dead bots are reaped
// here, which keeps the controller the single owner of bot lifetime.
func (bc *BotController) Tick() {
	bc.mu.Lock()
	bots := make([]*Bot, 0, len(bc.bots))
	for _, b := range bc.bots {
		bots = append(bots, b)
	}
	region := bc.region
	bc.mu.Unlock()

	for _, b := range bots {
		rec, ok := bc.store.Get(b.ID)
		if !ok || rec.Health <= 0 {
			bc.reap(b.ID, ok)
			continue
		}
		switch b.State {
		case BotIdle:
			bc.tickIdle(b, rec, region)
		case BotMoving:
			bc.tickMoving(b, rec)
		case BotEngaged:
			bc.tickEngaged(b, rec)
		}
	}
}

func (bc *BotController) reap(id int, inStore bool) {
	if inStore {
		bc.store.Delete(id)
	}
	bc.mu.Lock()
	delete(bc.bots, id)
	bc.mu.Unlock()
}

// tickIdle picks the next waypoint: the nearest hostile inside the
// aggro radius for aggressive bots, otherwise a random point in region
func (bc *BotController) tickIdle(b *Bot, rec EntityRecord, region Region) {
	b.TargetID = 0
	if rec.Aggressive {
		if target, ok := bc.store.NearestPlayer(rec.X, rec.Y, bc.cfg.BotSpawnRadius); ok {
			b.WaypointX, b.WaypointY = target.X, target.Y
			b.TargetID = target.ID
		}
	}
	if b.TargetID == 0 {
		b.WaypointX, b.WaypointY = region.RandomPoint(bc.rng)
	}

	b.State = BotMoving
	b.PathTicksLeft = int(BotPathTimeout * float64(bc.cfg.TickRate))
	bc.store.Mutate(b.ID, func(r *EntityRecord) {
		r.Moving = true
		r.TargetX = b.WaypointX
		r.TargetY = b.WaypointY
	})
}

// tickMoving advances toward the waypoint, consulting the spatial index
// so the step never enters a colliding tile. The position commit goes
// through the store, which updates record and grid in one step.
func (bc *BotController) tickMoving(b *Bot, rec EntityRecord) {
	if target, ok := bc.store.NearestPlayer(rec.X, rec.Y, BotWeaponRange); ok {
		b.State = BotEngaged
		b.TargetID = target.ID
		bc.store.Mutate(b.ID, func(r *EntityRecord) {
			r.Moving = false
			r.Engaged = true
		})
		return
	}

	b.PathTicksLeft--
	if b.PathTicksLeft <= 0 {
		bc.halt(b)
		return
	}

	step := BotSpeed / float64(bc.cfg.TickRate)
	dx := b.WaypointX - rec.X
	dy := b.WaypointY - rec.Y
	dist := math.Sqrt(dx*dx + dy*dy)
	if dist <= step {
		bc.arrive(b)
		return
	}

	dirX, dirY := dx/dist, dy/dist
	nx, ny := rec.X+dirX*step, rec.Y+dirY*step
	if bc.blocked(nx, ny) {
		// Path around: try a perpendicular sidestep either way, halt if
		// both are blocked too.
		px, py := -dirY, dirX
		switch {
		case !bc.blocked(rec.X+px*step, rec.Y+py*step):
			nx, ny = rec.X+px*step, rec.Y+py*step
		case !bc.blocked(rec.X-px*step, rec.Y-py*step):
			nx, ny = rec.X-px*step, rec.Y-py*step
		default:
			bc.halt(b)
			return
		}
	}

	angle := math.Atan2(ny-rec.Y, nx-rec.X)
	bc.store.Mutate(b.ID, func(r *EntityRecord) {
		r.X = nx
		r.Y = ny
		r.Angle = angle
	})
}

// tickEngaged computes the firing solution against the target's current
// position and enqueues a combat delta
func (bc *BotController) tickEngaged(b *Bot, rec EntityRecord) {
	target, ok := bc.store.Get(b.TargetID)
	if !ok || target.Health <= 0 || Distance(rec.X, rec.Y, target.X, target.Y) > BotWeaponRange {
		b.State = BotMoving
		b.TargetID = 0
		b.PathTicksLeft = int(BotPathTimeout * float64(bc.cfg.TickRate))
		bc.store.Mutate(b.ID, func(r *EntityRecord) {
			r.Engaged = false
			r.Moving = true
		})
		return
	}

	angle := math.Atan2(target.Y-rec.Y, target.X-rec.X)
	bc.store.Mutate(b.ID, func(r *EntityRecord) {
		r.Angle = angle
		r.TargetX = target.X
		r.TargetY = target.Y
	})
	bc.store.QueueDelta(b.ID, "weapon_fire", []float64{rec.X, rec.Y, target.X, target.Y})
}

// blocked reports whether a position is too close to static collision
// geometry. An empty index blocks nothing.
func (bc *BotController) blocked(x, y float64) bool {
	_, dist, ok := bc.index.Nearest(x, y)
	return ok && dist < bc.cfg.MapCollisionRadius
}

func (bc *BotController) halt(b *Bot) {
	b.State = BotIdle
	bc.store.Mutate(b.ID, func(r *EntityRecord) {
		r.Moving = false
	})
}

func (bc *BotController) arrive(b *Bot) {
	wx, wy := b.WaypointX, b.WaypointY
	b.State = BotIdle
	bc.store.Mutate(b.ID, func(r *EntityRecord) {
		r.X = wx
		r.Y = wy
		r.Moving = false
	})
}
