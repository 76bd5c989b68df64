package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	sessions       map[model.SessionID]*model.Session
	codeIndex      map[model.SessionCode][]model.SessionID // creation order
	players        map[model.PlayerID]*model.Player
	sessionPlayers map[model.SessionID][]model.PlayerID // join order
	games          map[model.GameID]*model.Game
	versions       map[model.GameVersionID]*model.GameVersion
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		sessions:       make(map[model.SessionID]*model.Session),
		codeIndex:      make(map[model.SessionCode][]model.SessionID),
		players:        make(map[model.PlayerID]*model.Player),
		sessionPlayers: make(map[model.SessionID][]model.PlayerID),
		games:          make(map[model.GameID]*model.Game),
		versions:       make(map[model.GameVersionID]*model.GameVersion),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Session operations

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeCodeHolderLocked(session.Code) != nil {
		return model.ErrSessionCodeInUse
	}
	s.sessions[session.ID] = session.Clone()
	s.codeIndex[session.Code] = append(s.codeIndex[session.Code], session.ID)
	return nil
}

func (s *Storage) UpdateSession(ctx context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return model.ErrSessionNotFound
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *Storage) GetSessionByCode(ctx context.Context, code model.SessionCode) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session := s.activeCodeHolderLocked(code); session != nil {
		return session.Clone(), nil
	}
	ids := s.codeIndex[code]
	if len(ids) == 0 {
		return nil, model.ErrSessionNotFound
	}
	return s.sessions[ids[len(ids)-1]].Clone(), nil
}

func (s *Storage) ActiveSessionCodeExists(ctx context.Context, code model.SessionCode) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeCodeHolderLocked(code) != nil, nil
}

// activeCodeHolderLocked returns the non-ended session holding code, if any
func (s *Storage) activeCodeHolderLocked(code model.SessionCode) *model.Session {
	for _, id := range s.codeIndex[code] {
		if session := s.sessions[id]; !session.IsEnded() {
			return session
		}
	}
	return nil
}

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[player.ID]; !ok {
		s.sessionPlayers[player.SessionID] = append(s.sessionPlayers[player.SessionID], player.ID)
	}
	s.players[player.ID] = player.Clone()
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	return player.Clone(), nil
}

func (s *Storage) ListPlayers(ctx context.Context, sessionID model.SessionID) ([]*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sessionPlayers[sessionID]
	players := make([]*model.Player, 0, len(ids))
	for _, id := range ids {
		players = append(players, s.players[id].Clone())
	}
	return players, nil
}

// Game catalogue operations

func (s *Storage) SaveGame(ctx context.Context, game *model.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := *game
	if game.PublishedVersionID != nil {
		id := *game.PublishedVersionID
		g.PublishedVersionID = &id
	}
	s.games[game.ID] = &g
	return nil
}

func (s *Storage) GetGame(ctx context.Context, id model.GameID) (*model.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	game, ok := s.games[id]
	if !ok {
		return nil, model.ErrGameNotFound
	}
	g := *game
	return &g, nil
}

func (s *Storage) SaveGameVersion(ctx context.Context, version *model.GameVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *version
	s.versions[version.ID] = &v
	return nil
}

func (s *Storage) GetGameVersion(ctx context.Context, id model.GameVersionID) (*model.GameVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.versions[id]
	if !ok {
		return nil, model.ErrGameVersionNotFound
	}
	v := *version
	return &v, nil
}

func (s *Storage) LatestGameVersion(ctx context.Context, gameID model.GameID) (*model.GameVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var candidates []*model.GameVersion
	for _, v := range s.versions {
		if v.GameID == gameID {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return nil, model.ErrGameVersionNotFound
	}
	latest := slices.MaxFunc(candidates, func(a, b *model.GameVersion) int {
		return a.VersionNumber - b.VersionNumber
	})
	v := *latest
	return &v, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return nil
}

func (s *Storage) Close() error {
	return nil
}
