package storage

import (
	"context"

	"github.com/mcoot/partyrelay/internal/model"
)

// Storage defines the interface for data persistence
//
// Implementations return copies: mutating a returned value never changes
// stored state until it is passed back to an Update/Save method.
type Storage interface {
	// Session operations

	// CreateSession inserts a new session. It fails with model.ErrSessionCodeInUse
	// when another non-ended session already holds the code.
	CreateSession(ctx context.Context, session *model.Session) error
	UpdateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)
	// GetSessionByCode prefers the non-ended holder of a code, then the newest session.
	GetSessionByCode(ctx context.Context, code model.SessionCode) (*model.Session, error)
	ActiveSessionCodeExists(ctx context.Context, code model.SessionCode) (bool, error)

	// Player operations
	SavePlayer(ctx context.Context, player *model.Player) error
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)
	// ListPlayers returns every player of a session, oldest first.
	ListPlayers(ctx context.Context, sessionID model.SessionID) ([]*model.Player, error)

	// Game catalogue operations
	SaveGame(ctx context.Context, game *model.Game) error
	GetGame(ctx context.Context, id model.GameID) (*model.Game, error)
	SaveGameVersion(ctx context.Context, version *model.GameVersion) error
	GetGameVersion(ctx context.Context, id model.GameVersionID) (*model.GameVersion, error)
	// LatestGameVersion returns the version with the highest version number.
	LatestGameVersion(ctx context.Context, gameID model.GameID) (*model.GameVersion, error)

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
	// Close releases backend resources
	Close() error
}
