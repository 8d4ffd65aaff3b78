package main

import "encoding/json"

// Client -> Server message tags
const (
	MsgPlayerMovement      = "PLAYER_MOVEMENT"
	MsgWeaponFire          = "WEAPON_FIRE"
	MsgHealthUpdate        = "HEALTH_UPDATE"
	MsgPowerActivation     = "POWER_ACTIVATION"
	MsgViewAngle           = "VIEW_ANGLE"
	MsgUserLogin           = "USER_LOGIN"
	MsgUserRegistration    = "USER_REGISTRATION"
	MsgCurrencyUpdate      = "CURRENCY_UPDATE"
	MsgAmmunitionUpdate    = "AMMUNITION_UPDATE"
	MsgInventoryAction     = "INVENTORY_ACTION"
	MsgExplosiveActivation = "EXPLOSIVE_ACTIVATION"
	MsgChatMessage         = "CHAT_MESSAGE"
	MsgBotDamage           = "BOT_DAMAGE"
	MsgDataRequest         = "DATA_REQUEST"
	MsgFullDataRequest     = "FULL_DATA_REQUEST"
)

// Server -> Client message tags
const (
	MsgWelcome          = "WELCOME"
	MsgStateDelta       = "STATE_DELTA" // msgpack binary frame
	MsgDataResponse     = "DATA_RESPONSE"
	MsgFullDataResponse = "FULL_DATA_RESPONSE"
	MsgAuthResponse     = "AUTH_RESPONSE"
	MsgChatBroadcast    = "CHAT_BROADCAST"
	MsgError            = "ERROR"
)

// Load balancer control tags (persistent TCP link)
const (
	LBGetServerIndex      = "GET_SERVER_INDEX"
	LBGetRegionBoundaries = "GET_REGION_BOUNDARIES"
	LBSendServerInfo      = "SEND_SERVER_INFO"
	LBRegisterUser        = "REGISTER_USER"
	LBAuthenticateUser    = "AUTHENTICATE_USER"
	LBCachePlayerData     = "CACHE_PLAYER_DATA"
)

// Load balancer handshake strings (UDP broadcast discovery)
const (
	HandshakeRequest     = "SYNC_HANDSHAKE_v2"
	HandshakeAcknowledge = "SYNC_ACK_v2"
	ConnectionConfirmed  = "CONNECTION_ESTABLISHED"
)

// knownClientTags is the closed set of client message tags. The
// dispatcher registry is validated against it at startup.
var knownClientTags = []string{
	MsgPlayerMovement, MsgWeaponFire, MsgHealthUpdate, MsgPowerActivation,
	MsgViewAngle, MsgUserLogin, MsgUserRegistration, MsgCurrencyUpdate,
	MsgAmmunitionUpdate, MsgInventoryAction, MsgExplosiveActivation,
	MsgChatMessage, MsgBotDamage, MsgDataRequest, MsgFullDataRequest,
}

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// MovementMsg is a client position/intent update
type MovementMsg struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Moving bool    `json:"moving"`
}

// WeaponFireMsg reports a shot against a target entity
type WeaponFireMsg struct {
	WeaponID int     `json:"weapon"`
	TargetID int     `json:"target"`
	ToX      float64 `json:"tx"`
	ToY      float64 `json:"ty"`
}

// HealthUpdateMsg is a client-reported health value
type HealthUpdateMsg struct {
	Health int `json:"health"`
}

// PowerActivationMsg reports a power-up use
type PowerActivationMsg struct {
	Power int `json:"power"`
}

// ViewAngleMsg is the client's facing direction in radians
type ViewAngleMsg struct {
	Angle float64 `json:"angle"`
}

// CredentialsMsg carries login or registration credentials
type CredentialsMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CurrencyUpdateMsg adjusts the player's currency balance
type CurrencyUpdateMsg struct {
	Amount int `json:"amount"`
}

// AmmunitionUpdateMsg reports remaining ammunition for a weapon
type AmmunitionUpdateMsg struct {
	WeaponID int `json:"weapon"`
	Ammo     int `json:"ammo"`
}

// InventoryActionMsg selects or moves an inventory slot
type InventoryActionMsg struct {
	Slot   int    `json:"slot"`
	Action string `json:"action"`
}

// ExplosiveActivationMsg reports a detonation at a position
type ExplosiveActivationMsg struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// ChatMsg is a chat line from a client
type ChatMsg struct {
	Text string `json:"text"`
}

// BotDamageMsg is a client-reported hit on a bot
type BotDamageMsg struct {
	BotID  int `json:"bot"`
	Damage int `json:"damage"`
}

// WelcomeMsg is sent when a client's entity is created
type WelcomeMsg struct {
	ID        int    `json:"id"`
	SessionID string `json:"sid"`
	Region    int    `json:"region"`
}

// AuthResponseMsg answers USER_LOGIN / USER_REGISTRATION
type AuthResponseMsg struct {
	OK       bool   `json:"ok"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EntityState is one entity in a FULL_DATA_RESPONSE snapshot
type EntityState struct {
	ID     int     `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Angle  float64 `json:"angle"`
	Health int     `json:"health"`
	Kind   int     `json:"kind"`
}

// DataResponseMsg answers a pull-style DATA_REQUEST
type DataResponseMsg struct {
	Entities []EntityState `json:"entities"`
	Chat     []ChatLine    `json:"chat,omitempty"`
	Tick     uint64        `json:"tick"`
}

// ErrorMsg sends an error to the client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// DeltaFrame is the msgpack-encoded per-tick broadcast
type DeltaFrame struct {
	Tick    uint64                 `msgpack:"tick"`
	Changes map[int]map[string]any `msgpack:"changes"`
}

// lbRequest is one newline-delimited JSON request on the balancer link
type lbRequest struct {
	T string      `json:"t"`
	D interface{} `json:"d,omitempty"`
}

// lbResponse is one newline-delimited JSON response from the balancer
type lbResponse struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// ServerInfoMsg is reported to the load balancer in steady state
type ServerInfoMsg struct {
	ServerIndex int `json:"server"`
	Players     int `json:"players"`
	Bots        int `json:"bots"`
}

// RegionBoundsMsg is the region assignment payload from the balancer
type RegionBoundsMsg struct {
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}
