package model

import "encoding/json"

// MessageType is the discriminator of a relay envelope
type MessageType string

const (
	// Outbound system messages
	MessageConnected           MessageType = "connected"
	MessagePlayerJoined        MessageType = "player_joined"
	MessagePlayerLeft          MessageType = "player_left"
	MessageGameLoaded          MessageType = "game_loaded"
	MessageSessionStatusChange MessageType = "session_status_change"

	// Relayed messages
	MessagePlayerInput      MessageType = "player_input"       // player -> server
	MessagePlayerInputEvent MessageType = "player_input_event" // server -> host
	MessageGameStateUpdate  MessageType = "game_state_update"  // host -> server
	MessageGameState        MessageType = "game_state"         // server -> players
)

// PlayerLeftReasonDisconnected is sent when a player's socket goes away
const PlayerLeftReasonDisconnected = "disconnected"

// Envelope is the wire format of every relay message
type Envelope struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// InboundEnvelope defers payload decoding until the type is known
type InboundEnvelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeMessage builds the JSON text frame for a message
func EncodeMessage(t MessageType, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Type: t, Payload: payload})
}

// ConnectedPayload acknowledges a successful upgrade
type ConnectedPayload struct {
	SessionID SessionID `json:"sessionId"`
	Role      string    `json:"role"`
	PlayerID  PlayerID  `json:"playerId,omitempty"`
}

// JoinedPlayer is the public view of a player in relay messages
type JoinedPlayer struct {
	ID          PlayerID `json:"id"`
	DisplayName string   `json:"displayName"`
	AvatarURL   *string  `json:"avatarUrl"`
}

// PlayerJoinedPayload announces a new player
type PlayerJoinedPayload struct {
	Player JoinedPlayer `json:"player"`
}

// PlayerLeftPayload announces a player's socket closing
type PlayerLeftPayload struct {
	PlayerID PlayerID `json:"playerId"`
	Reason   string   `json:"reason"`
}

// HostGameLoadedPayload is the host's variant of game_loaded
type HostGameLoadedPayload struct {
	GameID         GameID        `json:"gameId"`
	GameVersionID  GameVersionID `json:"gameVersionId"`
	GameScreenCode string        `json:"gameScreenCode"`
}

// PlayerGameLoadedPayload is the players' variant of game_loaded
type PlayerGameLoadedPayload struct {
	GameID               GameID        `json:"gameId"`
	GameVersionID        GameVersionID `json:"gameVersionId"`
	ControllerScreenCode string        `json:"controllerScreenCode"`
}

// SessionStatusChangePayload announces a lifecycle transition
type SessionStatusChangePayload struct {
	Status         SessionStatus `json:"status"`
	PreviousStatus SessionStatus `json:"previousStatus"`
}

// PlayerInputPayload is what a player sends with player_input
type PlayerInputPayload struct {
	InputType json.RawMessage `json:"inputType"`
	Data      json.RawMessage `json:"data"`
}

// PlayerInputEventPayload is what the host receives for a player's input
type PlayerInputEventPayload struct {
	PlayerID  PlayerID        `json:"playerId"`
	InputType json.RawMessage `json:"inputType"`
	Data      json.RawMessage `json:"data"`
}
