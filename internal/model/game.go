package model

import "time"

// GameID identifies a catalogue game
type GameID string

// GameVersionID identifies a specific build of a game
type GameVersionID string

// GameStatus is the publication state of a catalogue game
type GameStatus string

const (
	GameStatusDraft     GameStatus = "draft"
	GameStatusPublished GameStatus = "published"
	GameStatusArchived  GameStatus = "archived"
)

// Game is a catalogue entry that a host can load into a session
type Game struct {
	ID                 GameID
	Title              string
	Status             GameStatus
	PublishedVersionID *GameVersionID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsPublished reports whether the game may be loaded into sessions
func (g *Game) IsPublished() bool {
	return g.Status == GameStatusPublished
}

// GameVersion holds the screen code shipped to hosts and players
type GameVersion struct {
	ID                   GameVersionID
	GameID               GameID
	VersionNumber        int
	GameScreenCode       string // runs on the host display
	ControllerScreenCode string // runs on player devices
	CreatedAt            time.Time
}
