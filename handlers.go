package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
)

var (
	errUnknownTag = errors.New("unknown message tag")
	errBadPayload = errors.New("malformed payload")
)

// HandlerFunc processes one decoded client message
type HandlerFunc func(c *Client, data json.RawMessage) error

// Dispatcher routes incoming client messages by tag. The handler table
// is built once at startup and checked against the closed tag set, so a
// tag without a handler (or a handler for a tag that no longer exists)
// fails at boot instead of at runtime.
type Dispatcher struct {
	hub      *Hub
	handlers map[string]HandlerFunc
}

// NewDispatcher builds the handler table for all client message tags
func NewDispatcher(hub *Hub) *Dispatcher {
	d := &Dispatcher{hub: hub}
	d.handlers = map[string]HandlerFunc{
		MsgPlayerMovement:      d.handleMovement,
		MsgWeaponFire:          d.handleWeaponFire,
		MsgHealthUpdate:        d.handleHealthUpdate,
		MsgPowerActivation:     d.handlePowerActivation,
		MsgViewAngle:           d.handleViewAngle,
		MsgUserLogin:           d.handleLogin,
		MsgUserRegistration:    d.handleRegistration,
		MsgCurrencyUpdate:      d.handleCurrencyUpdate,
		MsgAmmunitionUpdate:    d.handleAmmunitionUpdate,
		MsgInventoryAction:     d.handleInventoryAction,
		MsgExplosiveActivation: d.handleExplosiveActivation,
		MsgChatMessage:         d.handleChat,
		MsgBotDamage:           d.handleBotDamage,
		MsgDataRequest:         d.handleDataRequest,
		MsgFullDataRequest:     d.handleFullDataRequest,
	}
	if err := d.validate(); err != nil {
		log.Fatalf("dispatcher: %v", err)
	}
	return d
}

// validate checks the handler table covers exactly the known tag set
func (d *Dispatcher) validate() error {
	seen := make(map[string]bool, len(knownClientTags))
	for _, tag := range knownClientTags {
		if _, ok := d.handlers[tag]; !ok {
			return fmt.Errorf("no handler registered for %s", tag)
		}
		seen[tag] = true
	}
	for tag := range d.handlers {
		if !seen[tag] {
			return fmt.Errorf("handler registered for unknown tag %s", tag)
		}
	}
	return nil
}

// Dispatch decodes the envelope and runs the handler for its tag
func (d *Dispatcher) Dispatch(c *Client, raw []byte) error {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	h, ok := d.handlers[env.T]
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownTag, env.T)
	}
	return h(c, env.D)
}

func decode(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

func (d *Dispatcher) handleMovement(c *Client, data json.RawMessage) error {
	var msg MovementMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	if math.IsNaN(msg.X) || math.IsNaN(msg.Y) || math.IsInf(msg.X, 0) || math.IsInf(msg.Y, 0) {
		return errBadPayload
	}
	// Re-applying the same position yields an empty diff, so duplicate
	// movement messages queue nothing.
	d.hub.store.Mutate(c.entityID, func(rec *EntityRecord) {
		rec.X = msg.X
		rec.Y = msg.Y
		rec.Moving = msg.Moving
	})
	return nil
}

func (d *Dispatcher) handleViewAngle(c *Client, data json.RawMessage) error {
	var msg ViewAngleMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	d.hub.store.Mutate(c.entityID, func(rec *EntityRecord) {
		rec.Angle = NormalizeAngle(msg.Angle)
	})
	return nil
}

func (d *Dispatcher) handleHealthUpdate(c *Client, data json.RawMessage) error {
	var msg HealthUpdateMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	d.hub.store.Mutate(c.entityID, func(rec *EntityRecord) {
		rec.Health = ClampInt(msg.Health, 0, 100)
	})
	return nil
}

func (d *Dispatcher) handleWeaponFire(c *Client, data json.RawMessage) error {
	var msg WeaponFireMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	shooter, ok := d.hub.store.Get(c.entityID)
	if !ok {
		return nil
	}
	w := GetWeaponDef(msg.WeaponID)

	// The fire event itself is broadcast with the next delta flush
	d.hub.store.QueueDelta(c.entityID, "weapon_fire", []float64{
		shooter.X, shooter.Y, msg.ToX, msg.ToY,
	})

	if msg.TargetID == 0 || msg.TargetID == c.entityID {
		return nil
	}
	target, ok := d.hub.store.Get(msg.TargetID)
	if !ok || target.Health <= 0 {
		return nil
	}
	if Distance(shooter.X, shooter.Y, target.X, target.Y) > w.Range {
		return nil
	}
	d.hub.store.Mutate(msg.TargetID, func(rec *EntityRecord) {
		rec.Health -= w.Damage
		if rec.Health < 0 {
			rec.Health = 0
		}
	})
	return nil
}

func (d *Dispatcher) handleBotDamage(c *Client, data json.RawMessage) error {
	var msg BotDamageMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	// Only bot entities accept client-reported damage
	if msg.BotID >= 0 || msg.Damage <= 0 {
		return nil
	}
	d.hub.store.Mutate(msg.BotID, func(rec *EntityRecord) {
		rec.Health -= msg.Damage
		if rec.Health < 0 {
			rec.Health = 0
		}
	})
	return nil
}

func (d *Dispatcher) handlePowerActivation(c *Client, data json.RawMessage) error {
	var msg PowerActivationMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	d.hub.store.QueueDelta(c.entityID, "power", msg.Power)
	return nil
}

func (d *Dispatcher) handleCurrencyUpdate(c *Client, data json.RawMessage) error {
	var msg CurrencyUpdateMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	if c.username != "" {
		if err := d.hub.db.AddCurrency(c.username, msg.Amount); err != nil {
			log.Printf("currency update for %s: %v", c.username, err)
		}
	}
	d.hub.store.QueueDelta(c.entityID, "currency", msg.Amount)
	return nil
}

func (d *Dispatcher) handleAmmunitionUpdate(c *Client, data json.RawMessage) error {
	var msg AmmunitionUpdateMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	w := GetWeaponDef(msg.WeaponID)
	ammo := ClampInt(msg.Ammo, 0, w.MaxAmmo)
	d.hub.store.QueueDelta(c.entityID, "ammo", []int{w.Identifier, ammo})
	return nil
}

func (d *Dispatcher) handleInventoryAction(c *Client, data json.RawMessage) error {
	var msg InventoryActionMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	d.hub.store.QueueDelta(c.entityID, "inventory", map[string]any{
		"slot": msg.Slot, "action": msg.Action,
	})
	return nil
}

func (d *Dispatcher) handleExplosiveActivation(c *Client, data json.RawMessage) error {
	var msg ExplosiveActivationMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	d.hub.store.QueueDelta(c.entityID, "explosive", []float64{msg.X, msg.Y, msg.Radius})
	return nil
}

func (d *Dispatcher) handleChat(c *Client, data json.RawMessage) error {
	var msg ChatMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	if len(text) > 200 {
		text = text[:200]
	}
	from := c.username
	if from == "" {
		from = fmt.Sprintf("guest-%d", c.entityID)
	}
	// Appended here, broadcast on the next tick
	d.hub.store.AppendChat(ChatLine{From: from, Text: text})
	d.hub.tracker.Track(EvtChat, c.sessionID, from)
	return nil
}

func (d *Dispatcher) handleLogin(c *Client, data json.RawMessage) error {
	var msg CredentialsMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	id, token, err := d.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.SendJSON(Envelope{T: MsgAuthResponse, Data: AuthResponseMsg{OK: false, Error: err.Error()}})
		return nil
	}
	c.authAccountID = id
	c.username = msg.Username
	d.hub.SetOnline(msg.Username, c)
	if d.hub.balancer != nil {
		d.hub.balancer.EnqueueAuth(msg.Username)
	}
	c.SendJSON(Envelope{T: MsgAuthResponse, Data: AuthResponseMsg{
		OK: true, Token: token, Username: msg.Username,
	}})
	return nil
}

func (d *Dispatcher) handleRegistration(c *Client, data json.RawMessage) error {
	var msg CredentialsMsg
	if err := decode(data, &msg); err != nil {
		return err
	}
	id, token, err := d.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.SendJSON(Envelope{T: MsgAuthResponse, Data: AuthResponseMsg{OK: false, Error: err.Error()}})
		return nil
	}
	c.authAccountID = id
	c.username = msg.Username
	d.hub.SetOnline(msg.Username, c)
	if d.hub.balancer != nil {
		d.hub.balancer.EnqueueRegistration(msg.Username)
	}
	c.SendJSON(Envelope{T: MsgAuthResponse, Data: AuthResponseMsg{
		OK: true, Token: token, Username: msg.Username,
	}})
	return nil
}

func (d *Dispatcher) handleDataRequest(c *Client, data json.RawMessage) error {
	self, ok := d.hub.store.Get(c.entityID)
	var entities []EntityState
	if ok {
		for _, rec := range d.hub.store.Nearby(self.X, self.Y, 2*d.hub.cfg.GridCellSize) {
			entities = append(entities, entityState(rec))
		}
	}
	c.SendJSON(Envelope{T: MsgDataResponse, Data: DataResponseMsg{
		Entities: entities,
		Chat:     d.hub.store.RecentChat(20),
		Tick:     d.hub.tick(),
	}})
	return nil
}

func (d *Dispatcher) handleFullDataRequest(c *Client, data json.RawMessage) error {
	snap := d.hub.store.Snapshot()
	entities := make([]EntityState, 0, len(snap))
	for _, rec := range snap {
		entities = append(entities, entityState(rec))
	}
	c.SendJSON(Envelope{T: MsgFullDataResponse, Data: DataResponseMsg{
		Entities: entities,
		Chat:     d.hub.store.RecentChat(maxChatHistory),
		Tick:     d.hub.tick(),
	}})
	return nil
}

func entityState(rec EntityRecord) EntityState {
	return EntityState{
		ID: rec.ID, X: rec.X, Y: rec.Y,
		Angle: rec.Angle, Health: rec.Health, Kind: int(rec.Kind),
	}
}
