package response

import (
	"time"

	"github.com/mcoot/partyrelay/internal/model"
)

// Player represents a player in API responses
type Player struct {
	ID               string     `json:"id"`
	DisplayName      string     `json:"displayName"`
	AvatarURL        *string    `json:"avatarUrl"`
	ConnectionStatus string     `json:"connectionStatus"`
	CreatedAt        time.Time  `json:"createdAt"`
	LeftAt           *time.Time `json:"leftAt,omitempty"`
}

// PlayerFromModel converts a model.Player to a response Player
func PlayerFromModel(p *model.Player) Player {
	return Player{
		ID:               string(p.ID),
		DisplayName:      p.DisplayName,
		AvatarURL:        p.AvatarURL,
		ConnectionStatus: string(p.ConnectionStatus),
		CreatedAt:        p.CreatedAt,
		LeftAt:           p.LeftAt,
	}
}

// PlayersFromModel converts a player list, never returning nil
func PlayersFromModel(players []*model.Player) []Player {
	out := make([]Player, len(players))
	for i, p := range players {
		out[i] = PlayerFromModel(p)
	}
	return out
}

// Session represents a session in API responses
type Session struct {
	ID            string     `json:"id"`
	SessionCode   string     `json:"sessionCode"`
	Status        string     `json:"status"`
	HostID        string     `json:"hostId"`
	GameID        *string    `json:"gameId"`
	GameVersionID *string    `json:"gameVersionId"`
	MaxPlayers    int        `json:"maxPlayers"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	EndedAt       *time.Time `json:"endedAt"`
	Players       []Player   `json:"players"`
}

// SessionFromModel converts a session and its players
func SessionFromModel(s *model.Session, players []*model.Player) Session {
	var gameID, versionID *string
	if s.GameID != nil {
		id := string(*s.GameID)
		gameID = &id
	}
	if s.GameVersionID != nil {
		id := string(*s.GameVersionID)
		versionID = &id
	}

	return Session{
		ID:            string(s.ID),
		SessionCode:   string(s.Code),
		Status:        string(s.Status),
		HostID:        string(s.HostID),
		GameID:        gameID,
		GameVersionID: versionID,
		MaxPlayers:    s.MaxPlayers,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		EndedAt:       s.EndedAt,
		Players:       PlayersFromModel(players),
	}
}

// SessionSummary is the short session view returned on join
type SessionSummary struct {
	ID          string `json:"id"`
	SessionCode string `json:"sessionCode"`
	Status      string `json:"status"`
	HostID      string `json:"hostId"`
}

// SessionSummaryFromModel converts a session to its summary
func SessionSummaryFromModel(s *model.Session) SessionSummary {
	return SessionSummary{
		ID:          string(s.ID),
		SessionCode: string(s.Code),
		Status:      string(s.Status),
		HostID:      string(s.HostID),
	}
}

// JoinResponse is the response after joining a session
type JoinResponse struct {
	Player  Player         `json:"player"`
	Session SessionSummary `json:"session"`
}

// LoadGameResponse is the response after loading a game
type LoadGameResponse struct {
	SessionID     string `json:"sessionId"`
	GameID        string `json:"gameId"`
	GameVersionID string `json:"gameVersionId"`
	Status        string `json:"status"`
}

// Health is the health check response
type Health struct {
	Status  string `json:"status"`
	Storage string `json:"storage,omitempty"`
}
