// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/storage"
)

// Suite runs backend-agnostic storage tests against the storage built by New
type Suite struct {
	suite.Suite
	New func(t *testing.T) storage.Storage

	storage storage.Storage
	ctx     context.Context
	now     time.Time
}

func (s *Suite) SetupTest() {
	s.storage = s.New(s.T())
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *Suite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
}

func (s *Suite) newSession(id model.SessionID, code model.SessionCode) *model.Session {
	return &model.Session{
		ID:         id,
		Code:       code,
		Status:     model.SessionStatusLobby,
		HostID:     "host-1",
		MaxPlayers: model.DefaultMaxPlayers,
		CreatedAt:  s.now,
		UpdatedAt:  s.now,
	}
}

func (s *Suite) newPlayer(id model.PlayerID, sessionID model.SessionID, offset time.Duration) *model.Player {
	return &model.Player{
		ID:               id,
		SessionID:        sessionID,
		DisplayName:      fmt.Sprintf("Player %s", id),
		ConnectionStatus: model.ConnectionStatusDisconnected,
		CreatedAt:        s.now.Add(offset),
	}
}

// Session tests

func (s *Suite) TestCreateAndGetSession() {
	session := s.newSession("s1", "ABCDE")
	s.Require().NoError(s.storage.CreateSession(s.ctx, session))

	got, err := s.storage.GetSession(s.ctx, "s1")
	s.Require().NoError(err)
	s.Equal(session.Code, got.Code)
	s.Equal(model.SessionStatusLobby, got.Status)
	s.Equal(model.UserID("host-1"), got.HostID)
	s.Equal(model.DefaultMaxPlayers, got.MaxPlayers)
	s.True(session.CreatedAt.Equal(got.CreatedAt))
	s.Nil(got.GameID)
	s.Nil(got.EndedAt)
}

func (s *Suite) TestGetSessionNotFound() {
	_, err := s.storage.GetSession(s.ctx, "missing")
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *Suite) TestCreateSessionRejectsActiveCode() {
	s.Require().NoError(s.storage.CreateSession(s.ctx, s.newSession("s1", "ABCDE")))

	err := s.storage.CreateSession(s.ctx, s.newSession("s2", "ABCDE"))
	s.ErrorIs(err, model.ErrSessionCodeInUse)
}

func (s *Suite) TestEndedSessionReleasesCode() {
	first := s.newSession("s1", "ABCDE")
	s.Require().NoError(s.storage.CreateSession(s.ctx, first))

	ended := s.now.Add(time.Minute)
	first.Status = model.SessionStatusEnded
	first.EndedAt = &ended
	s.Require().NoError(s.storage.UpdateSession(s.ctx, first))

	exists, err := s.storage.ActiveSessionCodeExists(s.ctx, "ABCDE")
	s.Require().NoError(err)
	s.False(exists)

	second := s.newSession("s2", "ABCDE")
	second.CreatedAt = s.now.Add(2 * time.Minute)
	s.Require().NoError(s.storage.CreateSession(s.ctx, second))

	got, err := s.storage.GetSessionByCode(s.ctx, "ABCDE")
	s.Require().NoError(err)
	s.Equal(model.SessionID("s2"), got.ID)
}

func (s *Suite) TestGetSessionByCodeReturnsEndedSession() {
	session := s.newSession("s1", "ABCDE")
	s.Require().NoError(s.storage.CreateSession(s.ctx, session))
	session.Status = model.SessionStatusEnded
	s.Require().NoError(s.storage.UpdateSession(s.ctx, session))

	got, err := s.storage.GetSessionByCode(s.ctx, "ABCDE")
	s.Require().NoError(err)
	s.Equal(model.SessionID("s1"), got.ID)
	s.True(got.IsEnded())
}

func (s *Suite) TestGetSessionByCodeNotFound() {
	_, err := s.storage.GetSessionByCode(s.ctx, "ZZZZZ")
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *Suite) TestActiveSessionCodeExists() {
	s.Require().NoError(s.storage.CreateSession(s.ctx, s.newSession("s1", "ABCDE")))

	exists, err := s.storage.ActiveSessionCodeExists(s.ctx, "ABCDE")
	s.Require().NoError(err)
	s.True(exists)

	exists, err = s.storage.ActiveSessionCodeExists(s.ctx, "FGHJK")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *Suite) TestUpdateSession() {
	session := s.newSession("s1", "ABCDE")
	s.Require().NoError(s.storage.CreateSession(s.ctx, session))

	gameID := model.GameID("g1")
	versionID := model.GameVersionID("v1")
	session.Status = model.SessionStatusPlaying
	session.GameID = &gameID
	session.GameVersionID = &versionID
	session.UpdatedAt = s.now.Add(time.Minute)
	s.Require().NoError(s.storage.UpdateSession(s.ctx, session))

	got, err := s.storage.GetSession(s.ctx, "s1")
	s.Require().NoError(err)
	s.Equal(model.SessionStatusPlaying, got.Status)
	s.Require().NotNil(got.GameID)
	s.Equal(gameID, *got.GameID)
	s.Require().NotNil(got.GameVersionID)
	s.Equal(versionID, *got.GameVersionID)
	s.True(session.UpdatedAt.Equal(got.UpdatedAt))
}

func (s *Suite) TestUpdateSessionNotFound() {
	err := s.storage.UpdateSession(s.ctx, s.newSession("missing", "ABCDE"))
	s.ErrorIs(err, model.ErrSessionNotFound)
}

func (s *Suite) TestReturnedSessionIsACopy() {
	s.Require().NoError(s.storage.CreateSession(s.ctx, s.newSession("s1", "ABCDE")))

	got, err := s.storage.GetSession(s.ctx, "s1")
	s.Require().NoError(err)
	got.Status = model.SessionStatusEnded

	again, err := s.storage.GetSession(s.ctx, "s1")
	s.Require().NoError(err)
	s.Equal(model.SessionStatusLobby, again.Status)
}

// Player tests

func (s *Suite) TestSaveAndGetPlayer() {
	userID := model.UserID("user-1")
	avatar := "https://example.com/a.png"
	player := s.newPlayer("p1", "s1", 0)
	player.UserID = &userID
	player.AvatarURL = &avatar

	s.Require().NoError(s.storage.SavePlayer(s.ctx, player))

	got, err := s.storage.GetPlayer(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(player.DisplayName, got.DisplayName)
	s.Equal(model.SessionID("s1"), got.SessionID)
	s.Require().NotNil(got.UserID)
	s.Equal(userID, *got.UserID)
	s.Require().NotNil(got.AvatarURL)
	s.Equal(avatar, *got.AvatarURL)
	s.True(got.IsActive())
}

func (s *Suite) TestGetPlayerNotFound() {
	_, err := s.storage.GetPlayer(s.ctx, "missing")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *Suite) TestSavePlayerUpdatesInPlace() {
	player := s.newPlayer("p1", "s1", 0)
	s.Require().NoError(s.storage.SavePlayer(s.ctx, player))

	left := s.now.Add(time.Minute)
	player.ConnectionStatus = model.ConnectionStatusConnected
	player.LeftAt = &left
	s.Require().NoError(s.storage.SavePlayer(s.ctx, player))

	got, err := s.storage.GetPlayer(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(model.ConnectionStatusConnected, got.ConnectionStatus)
	s.Require().NotNil(got.LeftAt)
	s.True(left.Equal(*got.LeftAt))

	players, err := s.storage.ListPlayers(s.ctx, "s1")
	s.Require().NoError(err)
	s.Len(players, 1)
}

func (s *Suite) TestListPlayersOldestFirst() {
	s.Require().NoError(s.storage.SavePlayer(s.ctx, s.newPlayer("p1", "s1", 0)))
	s.Require().NoError(s.storage.SavePlayer(s.ctx, s.newPlayer("p2", "s1", time.Second)))
	s.Require().NoError(s.storage.SavePlayer(s.ctx, s.newPlayer("p3", "s1", 2*time.Second)))
	s.Require().NoError(s.storage.SavePlayer(s.ctx, s.newPlayer("other", "s2", 0)))

	players, err := s.storage.ListPlayers(s.ctx, "s1")
	s.Require().NoError(err)
	s.Require().Len(players, 3)
	s.Equal(model.PlayerID("p1"), players[0].ID)
	s.Equal(model.PlayerID("p2"), players[1].ID)
	s.Equal(model.PlayerID("p3"), players[2].ID)
}

func (s *Suite) TestListPlayersEmpty() {
	players, err := s.storage.ListPlayers(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Empty(players)
}

// Game catalogue tests

func (s *Suite) TestSaveAndGetGame() {
	versionID := model.GameVersionID("v1")
	game := &model.Game{
		ID:                 "g1",
		Title:              "Quiz",
		Status:             model.GameStatusPublished,
		PublishedVersionID: &versionID,
		CreatedAt:          s.now,
		UpdatedAt:          s.now,
	}
	s.Require().NoError(s.storage.SaveGame(s.ctx, game))

	got, err := s.storage.GetGame(s.ctx, "g1")
	s.Require().NoError(err)
	s.Equal("Quiz", got.Title)
	s.True(got.IsPublished())
	s.Require().NotNil(got.PublishedVersionID)
	s.Equal(versionID, *got.PublishedVersionID)
}

func (s *Suite) TestGetGameNotFound() {
	_, err := s.storage.GetGame(s.ctx, "missing")
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *Suite) TestGameVersions() {
	s.Require().NoError(s.storage.SaveGame(s.ctx, &model.Game{ID: "g1", Title: "Quiz", Status: model.GameStatusDraft}))
	for i := 1; i <= 3; i++ {
		s.Require().NoError(s.storage.SaveGameVersion(s.ctx, &model.GameVersion{
			ID:                   model.GameVersionID(fmt.Sprintf("v%d", i)),
			GameID:               "g1",
			VersionNumber:        i,
			GameScreenCode:       fmt.Sprintf("host-%d", i),
			ControllerScreenCode: fmt.Sprintf("ctrl-%d", i),
			CreatedAt:            s.now,
		}))
	}

	got, err := s.storage.GetGameVersion(s.ctx, "v2")
	s.Require().NoError(err)
	s.Equal("host-2", got.GameScreenCode)
	s.Equal("ctrl-2", got.ControllerScreenCode)

	latest, err := s.storage.LatestGameVersion(s.ctx, "g1")
	s.Require().NoError(err)
	s.Equal(model.GameVersionID("v3"), latest.ID)
	s.Equal(3, latest.VersionNumber)
}

func (s *Suite) TestGameVersionNotFound() {
	_, err := s.storage.GetGameVersion(s.ctx, "missing")
	s.ErrorIs(err, model.ErrGameVersionNotFound)

	_, err = s.storage.LatestGameVersion(s.ctx, "missing")
	s.ErrorIs(err, model.ErrGameVersionNotFound)
}

func (s *Suite) TestPing() {
	s.NoError(s.storage.Ping(s.ctx))
}
