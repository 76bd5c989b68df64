package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mcoot/partyrelay/internal/dependencies/clock"
	"github.com/mcoot/partyrelay/internal/dependencies/random"
	"github.com/mcoot/partyrelay/internal/metrics"
	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/storage"
)

// Notifier delivers lifecycle messages to a session's live connections
type Notifier interface {
	SendToHost(sessionID model.SessionID, msg []byte) int
	Broadcast(sessionID model.SessionID, msg []byte) int
	BroadcastToPlayers(sessionID model.SessionID, msg []byte) int
	RemoveSession(sessionID model.SessionID)
}

// Controller manages the session state machine and player membership
type Controller struct {
	storage  storage.Storage
	notifier Notifier
	codes    *CodeAllocator
	locks    *sessionLocks
	clock    clock.Clock
	random   random.Random
	logger   *slog.Logger
}

// NewController creates a new session Controller
func NewController(
	storage storage.Storage,
	notifier Notifier,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		storage:  storage,
		notifier: notifier,
		codes:    NewCodeAllocator(storage, random),
		locks:    newSessionLocks(),
		clock:    clock,
		random:   random,
		logger:   logger.With(slog.String("component", "session")),
	}
}

// CreateSession creates a new lobby session owned by hostID
func (c *Controller) CreateSession(ctx context.Context, hostID model.UserID, maxPlayers *int) (*model.Session, error) {
	now := c.clock.Now()
	session := &model.Session{
		ID:         model.SessionID(c.random.ID()),
		Status:     model.SessionStatusLobby,
		HostID:     hostID,
		MaxPlayers: model.ClampMaxPlayers(maxPlayers),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// A concurrent create can take the code between allocation and insert
	for range MaxCodeAttempts {
		code, err := c.codes.Allocate(ctx)
		if err != nil {
			return nil, err
		}
		session.Code = code

		err = c.storage.CreateSession(ctx, session)
		if errors.Is(err, model.ErrSessionCodeInUse) {
			metrics.CodeCollisions.Inc()
			continue
		}
		if err != nil {
			return nil, err
		}

		metrics.SessionsCreated.Inc()
		c.logger.Info("session created",
			slog.String("session_id", string(session.ID)),
			slog.String("code", string(session.Code)),
			slog.String("host_id", string(hostID)),
			slog.Int("max_players", session.MaxPlayers))
		return session, nil
	}
	return nil, model.ErrCodeSpaceExhausted
}

// GetSession retrieves a session by id
func (c *Controller) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	return c.storage.GetSession(ctx, id)
}

// GetSessionByCode retrieves a session by join code, with its active players
func (c *Controller) GetSessionByCode(ctx context.Context, code string) (*model.Session, []*model.Player, error) {
	session, err := c.storage.GetSessionByCode(ctx, model.NormalizeSessionCode(code))
	if err != nil {
		return nil, nil, err
	}

	players, err := c.storage.ListPlayers(ctx, session.ID)
	if err != nil {
		return nil, nil, err
	}
	return session, model.FilterActive(players), nil
}

// JoinSession adds a new player to the session with the given code
func (c *Controller) JoinSession(ctx context.Context, code string, displayName string, avatarURL *string) (*model.Player, *model.Session, error) {
	found, err := c.storage.GetSessionByCode(ctx, model.NormalizeSessionCode(code))
	if err != nil {
		return nil, nil, err
	}

	unlock := c.locks.lock(found.ID)
	defer unlock()

	// Re-read under the lock so status and capacity are current
	session, err := c.storage.GetSession(ctx, found.ID)
	if err != nil {
		return nil, nil, err
	}
	if session.IsEnded() {
		return nil, nil, model.ErrSessionEnded
	}

	players, err := c.storage.ListPlayers(ctx, session.ID)
	if err != nil {
		return nil, nil, err
	}
	if model.CountActive(players) >= session.MaxPlayers {
		return nil, nil, model.ErrSessionFull
	}

	name, err := model.NormalizeDisplayName(displayName)
	if err != nil {
		return nil, nil, err
	}

	player := &model.Player{
		ID:               model.PlayerID(c.random.ID()),
		SessionID:        session.ID,
		DisplayName:      name,
		AvatarURL:        avatarURL,
		ConnectionStatus: model.ConnectionStatusConnected,
		CreatedAt:        c.clock.Now(),
	}
	if err := c.storage.SavePlayer(ctx, player); err != nil {
		return nil, nil, err
	}

	metrics.PlayersJoined.Inc()
	c.logger.Info("player joined",
		slog.String("session_id", string(session.ID)),
		slog.String("player_id", string(player.ID)),
		slog.Int("active_players", model.CountActive(players)+1))

	c.broadcast(session.ID, model.MessagePlayerJoined, model.PlayerJoinedPayload{
		Player: model.JoinedPlayer{
			ID:          player.ID,
			DisplayName: player.DisplayName,
			AvatarURL:   player.AvatarURL,
		},
	})

	return player, session, nil
}

// ListPlayers returns every player that ever joined the session, oldest first
func (c *Controller) ListPlayers(ctx context.Context, sessionID model.SessionID) ([]*model.Player, error) {
	if _, err := c.storage.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.storage.ListPlayers(ctx, sessionID)
}

// LoadGame selects a published game for the session and moves it to playing
func (c *Controller) LoadGame(ctx context.Context, sessionID model.SessionID, callerID model.UserID, gameID model.GameID) (*model.Session, *model.GameVersion, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	session, err := c.storage.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !session.IsHost(callerID) {
		return nil, nil, model.ErrNotHost
	}
	if session.IsEnded() {
		return nil, nil, model.ErrSessionEnded
	}

	game, err := c.storage.GetGame(ctx, gameID)
	if err != nil {
		return nil, nil, err
	}
	if !game.IsPublished() {
		return nil, nil, model.ErrGameNotPublished
	}

	version, err := c.resolveVersion(ctx, game)
	if err != nil {
		return nil, nil, err
	}

	previous := session.Status
	session.Status = model.SessionStatusPlaying
	session.GameID = &game.ID
	session.GameVersionID = &version.ID
	session.UpdatedAt = c.clock.Now()
	if err := c.storage.UpdateSession(ctx, session); err != nil {
		return nil, nil, err
	}

	metrics.GamesLoaded.Inc()
	c.logger.Info("game loaded",
		slog.String("session_id", string(session.ID)),
		slog.String("game_id", string(game.ID)),
		slog.String("game_version_id", string(version.ID)))

	c.sendToHost(session.ID, model.MessageGameLoaded, model.HostGameLoadedPayload{
		GameID:         game.ID,
		GameVersionID:  version.ID,
		GameScreenCode: version.GameScreenCode,
	})
	c.broadcastToPlayers(session.ID, model.MessageGameLoaded, model.PlayerGameLoadedPayload{
		GameID:               game.ID,
		GameVersionID:        version.ID,
		ControllerScreenCode: version.ControllerScreenCode,
	})
	c.broadcast(session.ID, model.MessageSessionStatusChange, model.SessionStatusChangePayload{
		Status:         session.Status,
		PreviousStatus: previous,
	})

	return session, version, nil
}

// resolveVersion picks the published version, falling back to the latest one
func (c *Controller) resolveVersion(ctx context.Context, game *model.Game) (*model.GameVersion, error) {
	if game.PublishedVersionID != nil {
		version, err := c.storage.GetGameVersion(ctx, *game.PublishedVersionID)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, model.ErrGameVersionNotFound) {
			return nil, err
		}
	}
	return c.storage.LatestGameVersion(ctx, game.ID)
}

// EndSession moves the session to ended and closes its connections
func (c *Controller) EndSession(ctx context.Context, sessionID model.SessionID, callerID model.UserID) error {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	session, err := c.storage.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsHost(callerID) {
		return model.ErrNotHost
	}
	if session.IsEnded() {
		return model.ErrSessionAlreadyEnded
	}

	now := c.clock.Now()
	previous := session.Status
	session.Status = model.SessionStatusEnded
	session.EndedAt = &now
	session.UpdatedAt = now
	if err := c.storage.UpdateSession(ctx, session); err != nil {
		return err
	}

	metrics.SessionsEnded.Inc()
	c.logger.Info("session ended",
		slog.String("session_id", string(session.ID)),
		slog.String("code", string(session.Code)))

	c.broadcast(session.ID, model.MessageSessionStatusChange, model.SessionStatusChangePayload{
		Status:         session.Status,
		PreviousStatus: previous,
	})
	c.notifier.RemoveSession(session.ID)
	return nil
}

// ConnectPlayer marks a player of the session as connected
func (c *Controller) ConnectPlayer(ctx context.Context, sessionID model.SessionID, playerID model.PlayerID) (*model.Player, error) {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	player, err := c.storage.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if player.SessionID != sessionID {
		return nil, model.ErrPlayerNotInSession
	}

	player.ConnectionStatus = model.ConnectionStatusConnected
	player.LeftAt = nil
	if err := c.storage.SavePlayer(ctx, player); err != nil {
		return nil, err
	}

	c.logger.Debug("player connected",
		slog.String("session_id", string(sessionID)),
		slog.String("player_id", string(playerID)))
	return player, nil
}

// DisconnectPlayer marks a player as disconnected and records when they left
func (c *Controller) DisconnectPlayer(ctx context.Context, sessionID model.SessionID, playerID model.PlayerID) error {
	unlock := c.locks.lock(sessionID)
	defer unlock()

	player, err := c.storage.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	if player.SessionID != sessionID {
		return model.ErrPlayerNotInSession
	}

	now := c.clock.Now()
	player.ConnectionStatus = model.ConnectionStatusDisconnected
	player.LeftAt = &now
	if err := c.storage.SavePlayer(ctx, player); err != nil {
		return err
	}

	c.logger.Debug("player disconnected",
		slog.String("session_id", string(sessionID)),
		slog.String("player_id", string(playerID)))
	return nil
}

// Notification helpers

func (c *Controller) encode(sessionID model.SessionID, t model.MessageType, payload any) []byte {
	msg, err := model.EncodeMessage(t, payload)
	if err != nil {
		c.logger.Error("failed to encode message",
			slog.String("session_id", string(sessionID)),
			slog.String("type", string(t)),
			slog.Any("error", err))
		return nil
	}
	metrics.MessagesRelayed.WithLabelValues(string(t)).Inc()
	return msg
}

func (c *Controller) sendToHost(sessionID model.SessionID, t model.MessageType, payload any) {
	if msg := c.encode(sessionID, t, payload); msg != nil {
		c.notifier.SendToHost(sessionID, msg)
	}
}

func (c *Controller) broadcast(sessionID model.SessionID, t model.MessageType, payload any) {
	if msg := c.encode(sessionID, t, payload); msg != nil {
		c.notifier.Broadcast(sessionID, msg)
	}
}

func (c *Controller) broadcastToPlayers(sessionID model.SessionID, t model.MessageType, payload any) {
	if msg := c.encode(sessionID, t, payload); msg != nil {
		c.notifier.BroadcastToPlayers(sessionID, msg)
	}
}
