package model

import (
	"strings"
	"time"
)

// SessionID uniquely identifies a session
type SessionID string

// SessionCode is the short human-enterable code used to join a session
type SessionCode string

// UserID identifies an authenticated user (host or linked player)
type UserID string

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionStatusLobby   SessionStatus = "lobby"   // Accepting joins, no game loaded
	SessionStatusPlaying SessionStatus = "playing" // Game loaded, joins still accepted
	SessionStatusEnded   SessionStatus = "ended"   // Terminal
)

const (
	// DefaultMaxPlayers is used when a session is created without a capacity
	DefaultMaxPlayers = 8
	// MinMaxPlayers and MaxMaxPlayers bound the session capacity
	MinMaxPlayers = 1
	MaxMaxPlayers = 32
)

// Session is one party-game gathering owned by a host
type Session struct {
	ID            SessionID
	Code          SessionCode
	Status        SessionStatus
	HostID        UserID
	GameID        *GameID
	GameVersionID *GameVersionID
	MaxPlayers    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	EndedAt       *time.Time
}

// IsEnded reports whether the session reached its terminal state
func (s *Session) IsEnded() bool {
	return s.Status == SessionStatusEnded
}

// IsHost reports whether the given user owns the session
func (s *Session) IsHost(userID UserID) bool {
	return userID != "" && s.HostID == userID
}

// Clone returns a deep copy of the session
func (s *Session) Clone() *Session {
	c := *s
	if s.GameID != nil {
		id := *s.GameID
		c.GameID = &id
	}
	if s.GameVersionID != nil {
		id := *s.GameVersionID
		c.GameVersionID = &id
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// ClampMaxPlayers applies the default capacity and bounds it to [1,32]
func ClampMaxPlayers(requested *int) int {
	if requested == nil {
		return DefaultMaxPlayers
	}
	return min(max(*requested, MinMaxPlayers), MaxMaxPlayers)
}

// NormalizeSessionCode trims and uppercases a user-supplied code
func NormalizeSessionCode(code string) SessionCode {
	return SessionCode(strings.ToUpper(strings.TrimSpace(code)))
}
