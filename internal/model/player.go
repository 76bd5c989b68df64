package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// PlayerID uniquely identifies a player within the system
type PlayerID string

// ConnectionStatus tracks whether a player's device is attached to the relay
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// MaxDisplayNameLength is the longest accepted display name, in characters
const MaxDisplayNameLength = 100

// Player is a participant that joined a session
// A player row is created once at join time; reconnects update it in place
type Player struct {
	ID               PlayerID
	SessionID        SessionID
	UserID           *UserID // nil for anonymous guests
	DisplayName      string
	AvatarURL        *string
	ConnectionStatus ConnectionStatus
	CreatedAt        time.Time
	LeftAt           *time.Time
}

// IsActive reports whether the player still occupies a seat in the session
func (p *Player) IsActive() bool {
	return p.LeftAt == nil
}

// IsGuest reports whether the player is not linked to a user account
func (p *Player) IsGuest() bool {
	return p.UserID == nil
}

// Clone returns a deep copy of the player
func (p *Player) Clone() *Player {
	c := *p
	if p.UserID != nil {
		id := *p.UserID
		c.UserID = &id
	}
	if p.AvatarURL != nil {
		u := *p.AvatarURL
		c.AvatarURL = &u
	}
	if p.LeftAt != nil {
		t := *p.LeftAt
		c.LeftAt = &t
	}
	return &c
}

// NormalizeDisplayName trims the name and checks its length
func NormalizeDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 || n > MaxDisplayNameLength {
		return "", ErrInvalidDisplayName
	}
	return trimmed, nil
}

// CountActive returns how many players have not left
func CountActive(players []*Player) int {
	n := 0
	for _, p := range players {
		if p.IsActive() {
			n++
		}
	}
	return n
}

// FilterActive returns the players that have not left
func FilterActive(players []*Player) []*Player {
	active := make([]*Player, 0, len(players))
	for _, p := range players {
		if p.IsActive() {
			active = append(active, p)
		}
	}
	return active
}
