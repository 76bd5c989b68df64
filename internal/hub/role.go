package hub

import "github.com/mcoot/partyrelay/internal/model"

type roleKind uint8

const (
	roleHost roleKind = iota + 1
	rolePlayer
)

// ClientRole identifies a connection within a session. It is a comparable
// value so it can be used directly as a map key.
type ClientRole struct {
	kind     roleKind
	playerID model.PlayerID
}

// Host returns the role of the session's host display
func Host() ClientRole {
	return ClientRole{kind: roleHost}
}

// Player returns the role of the given player's device
func Player(id model.PlayerID) ClientRole {
	return ClientRole{kind: rolePlayer, playerID: id}
}

// IsHost reports whether the role is the host
func (r ClientRole) IsHost() bool {
	return r.kind == roleHost
}

// IsPlayer reports whether the role is a player
func (r ClientRole) IsPlayer() bool {
	return r.kind == rolePlayer
}

// PlayerID returns the player's id, or "" for the host
func (r ClientRole) PlayerID() model.PlayerID {
	return r.playerID
}

// Name returns the wire name of the role ("host" or "player")
func (r ClientRole) Name() string {
	switch r.kind {
	case roleHost:
		return "host"
	case rolePlayer:
		return "player"
	default:
		return "unknown"
	}
}

func (r ClientRole) String() string {
	if r.kind == rolePlayer {
		return "player:" + string(r.playerID)
	}
	return r.Name()
}
