package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/partyrelay/internal/dependencies/mocks"
	"github.com/mcoot/partyrelay/internal/hub"
	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/services/auth"
	"github.com/mcoot/partyrelay/internal/services/session"
	"github.com/mcoot/partyrelay/internal/storage/memory"
	"github.com/mcoot/partyrelay/internal/testutil"
)

type RouterSuite struct {
	suite.Suite
	storage    *memory.Storage
	registry   *hub.Registry
	controller *session.Controller
	auth       *auth.Service
	random     *mocks.MockRandom
	router     *Router
	server     *httptest.Server
	ctx        context.Context
	cancel     context.CancelFunc

	session   *model.Session
	hostToken string
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := testutil.NopLogger()
	clock := mocks.NewMockClock(time.Now().UTC())
	random := mocks.NewMockRandom()
	s.random = random

	s.storage = memory.New()
	s.registry = hub.NewRegistry(logger)
	s.controller = session.NewController(s.storage, s.registry, clock, random, logger)

	authCfg := auth.DefaultConfig()
	authCfg.Secret = "test-secret"
	authService, err := auth.New(authCfg, clock, random)
	s.Require().NoError(err)
	s.auth = authService

	s.router = NewRouter(s.controller, s.registry, s.auth, DefaultConfig(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		sessionID := model.SessionID(r.PathValue("id"))
		role, err := s.router.Authorize(r.Context(), sessionID, ParamsFromRequest(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.router.Serve(w, r, sessionID, role)
	})
	s.server = httptest.NewServer(mux)
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)

	random.QueueString("ABCDE")
	s.session, err = s.controller.CreateSession(s.ctx, "host-1", nil)
	s.Require().NoError(err)

	s.hostToken, _, err = s.auth.IssueAccessToken("host-1", "host")
	s.Require().NoError(err)
}

func (s *RouterSuite) TearDownTest() {
	s.registry.CloseAll()
	s.server.Close()
	s.cancel()
}

func (s *RouterSuite) wsURL(params url.Values) string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/sessions/" + string(s.session.ID) + "/ws?" + params.Encode()
}

func (s *RouterSuite) dial(params url.Values) *websocket.Conn {
	conn, _, err := websocket.Dial(s.ctx, s.wsURL(params), nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// connectHost dials as the host and consumes the connected ack
func (s *RouterSuite) connectHost() *websocket.Conn {
	conn := s.dial(url.Values{"role": {"host"}, "token": {s.hostToken}})
	env := s.read(conn)
	s.Require().Equal(model.MessageConnected, env.Type)
	s.JSONEq(`{"sessionId":"`+string(s.session.ID)+`","role":"host"}`, string(env.Payload))
	return conn
}

// connectPlayer dials as the player and consumes the connected ack
func (s *RouterSuite) connectPlayer(playerID model.PlayerID) *websocket.Conn {
	conn := s.dial(url.Values{"role": {"player"}, "playerId": {string(playerID)}})
	env := s.read(conn)
	s.Require().Equal(model.MessageConnected, env.Type)
	s.JSONEq(`{"sessionId":"`+string(s.session.ID)+`","role":"player","playerId":"`+string(playerID)+`"}`, string(env.Payload))
	return conn
}

func (s *RouterSuite) join(name string) *model.Player {
	player, _, err := s.controller.JoinSession(s.ctx, string(s.session.Code), name, nil)
	s.Require().NoError(err)
	return player
}

func (s *RouterSuite) read(conn *websocket.Conn) model.InboundEnvelope {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	var env model.InboundEnvelope
	s.Require().NoError(wsjson.Read(ctx, conn, &env))
	return env
}

func (s *RouterSuite) send(conn *websocket.Conn, raw string) {
	s.Require().NoError(conn.Write(s.ctx, websocket.MessageText, []byte(raw)))
}

// readCloseStatus reads until the server closes the socket
func (s *RouterSuite) readCloseStatus(conn *websocket.Conn) websocket.StatusCode {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

// expectNothing fails if conn receives a frame within a short window.
// The connection is unusable afterwards.
func (s *RouterSuite) expectNothing(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(s.ctx, 200*time.Millisecond)
	defer cancel()
	_, data, err := conn.Read(ctx)
	s.Require().Error(err, "unexpected frame: %s", data)
}

// hookedSessions runs afterConnect once, right after the first successful ConnectPlayer
type hookedSessions struct {
	Sessions
	once         sync.Once
	afterConnect func(ctx context.Context)
}

func (h *hookedSessions) ConnectPlayer(ctx context.Context, sessionID model.SessionID, playerID model.PlayerID) (*model.Player, error) {
	player, err := h.Sessions.ConnectPlayer(ctx, sessionID, playerID)
	if err == nil {
		h.once.Do(func() { h.afterConnect(ctx) })
	}
	return player, err
}

func (s *RouterSuite) useHook(afterConnect func(ctx context.Context)) {
	sessions := &hookedSessions{Sessions: s.controller, afterConnect: afterConnect}
	s.router = NewRouter(sessions, s.registry, s.auth, DefaultConfig(), testutil.NopLogger())
}

func (s *RouterSuite) TestPlayerInputReachesHost() {
	alice := s.join("Alice")
	bob := s.join("Bob")
	host := s.connectHost()
	pa := s.connectPlayer(alice.ID)
	pb := s.connectPlayer(bob.ID)

	s.send(pa, `{"type":"player_input","payload":{"inputType":"tap","data":{"x":1}}}`)

	env := s.read(host)
	s.Equal(model.MessagePlayerInputEvent, env.Type)
	s.JSONEq(`{"playerId":"`+string(alice.ID)+`","inputType":"tap","data":{"x":1}}`, string(env.Payload))

	// Other players never see it
	s.expectNothing(pb)
}

func (s *RouterSuite) TestNonObjectPlayerInputIsRelayed() {
	player := s.join("Alice")
	host := s.connectHost()
	p := s.connectPlayer(player.ID)

	s.send(p, `{"type":"player_input","payload":[1]}`)
	s.send(p, `{"type":"player_input","payload":"jump"}`)
	s.send(p, `{"type":"player_input"}`)

	for range 3 {
		env := s.read(host)
		s.Equal(model.MessagePlayerInputEvent, env.Type)
		s.JSONEq(`{"playerId":"`+string(player.ID)+`","inputType":null,"data":null}`, string(env.Payload))
	}
}

func (s *RouterSuite) TestSessionEndedDuringUpgradeClosesConnection() {
	player := s.join("Alice")
	s.useHook(func(ctx context.Context) {
		s.NoError(s.controller.EndSession(ctx, s.session.ID, "host-1"))
	})

	p := s.connectPlayer(player.ID)
	s.Equal(StatusSessionEnded, s.readCloseStatus(p))
	s.Eventually(func() bool { return s.registry.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func (s *RouterSuite) TestStaleDisconnectDuringUpgradeIsOverridden() {
	player := s.join("Alice")
	// An older connection's disconnect lands between Authorize and Register
	s.useHook(func(ctx context.Context) {
		s.NoError(s.controller.DisconnectPlayer(ctx, s.session.ID, player.ID))
	})

	s.connectPlayer(player.ID)

	stored, err := s.storage.GetPlayer(s.ctx, player.ID)
	s.Require().NoError(err)
	s.Equal(model.ConnectionStatusConnected, stored.ConnectionStatus)
	s.Nil(stored.LeftAt)
	s.True(s.registry.IsConnected(s.session.ID, hub.Player(player.ID)))
}

func (s *RouterSuite) TestGameStateReachesAllPlayers() {
	alice := s.join("Alice")
	bob := s.join("Bob")
	host := s.connectHost()
	pa := s.connectPlayer(alice.ID)
	pb := s.connectPlayer(bob.ID)

	s.send(host, `{"type":"game_state_update","payload":{"round":2,"scores":[1,2]}}`)

	for _, conn := range []*websocket.Conn{pa, pb} {
		env := s.read(conn)
		s.Equal(model.MessageGameState, env.Type)
		s.JSONEq(`{"round":2,"scores":[1,2]}`, string(env.Payload))
	}
}

func (s *RouterSuite) TestIgnoredMessagesAreDropped() {
	player := s.join("Alice")
	host := s.connectHost()
	p := s.connectPlayer(player.ID)

	s.send(p, `not json`)
	s.send(p, `{"type":"game_state_update","payload":{}}`)
	s.send(p, `{"type":"something_else","payload":{}}`)
	s.Require().NoError(p.Write(s.ctx, websocket.MessageBinary, []byte{0x01}))
	s.send(host, `{"type":"player_input","payload":{}}`)
	s.send(p, `{"type":"player_input","payload":{"inputType":"ok"}}`)

	// The only thing the host sees is the valid input
	env := s.read(host)
	s.Equal(model.MessagePlayerInputEvent, env.Type)
	s.JSONEq(`{"playerId":"`+string(player.ID)+`","inputType":"ok","data":null}`, string(env.Payload))

	// The connection survived the junk
	s.send(host, `{"type":"game_state_update","payload":"still here"}`)
	env = s.read(p)
	s.Equal(model.MessageGameState, env.Type)
	s.JSONEq(`"still here"`, string(env.Payload))
}

func (s *RouterSuite) TestPlayerDisconnectBroadcastsPlayerLeft() {
	player := s.join("Alice")
	host := s.connectHost()
	p := s.connectPlayer(player.ID)

	s.Require().NoError(p.Close(websocket.StatusNormalClosure, "bye"))

	env := s.read(host)
	s.Equal(model.MessagePlayerLeft, env.Type)
	s.JSONEq(`{"playerId":"`+string(player.ID)+`","reason":"disconnected"}`, string(env.Payload))

	stored, err := s.storage.GetPlayer(s.ctx, player.ID)
	s.Require().NoError(err)
	s.Equal(model.ConnectionStatusDisconnected, stored.ConnectionStatus)
	s.NotNil(stored.LeftAt)
	s.False(s.registry.IsConnected(s.session.ID, hub.Player(player.ID)))
}

func (s *RouterSuite) TestReconnectMarksPlayerConnected() {
	player := s.join("Alice")
	host := s.connectHost()
	p := s.connectPlayer(player.ID)
	s.Require().NoError(p.Close(websocket.StatusNormalClosure, ""))
	s.Equal(model.MessagePlayerLeft, s.read(host).Type)

	s.connectPlayer(player.ID)

	stored, err := s.storage.GetPlayer(s.ctx, player.ID)
	s.Require().NoError(err)
	s.Equal(model.ConnectionStatusConnected, stored.ConnectionStatus)
	s.Nil(stored.LeftAt)
}

func (s *RouterSuite) TestDuplicatePlayerConnectionReplacesOld() {
	player := s.join("Alice")
	host := s.connectHost()
	first := s.connectPlayer(player.ID)
	second := s.connectPlayer(player.ID)

	s.Equal(StatusReplaced, s.readCloseStatus(first))

	// No player_left for the replaced socket; the next host message is the new socket's input
	s.send(second, `{"type":"player_input","payload":{"inputType":"tap"}}`)
	env := s.read(host)
	s.Equal(model.MessagePlayerInputEvent, env.Type)

	stored, err := s.storage.GetPlayer(s.ctx, player.ID)
	s.Require().NoError(err)
	s.Equal(model.ConnectionStatusConnected, stored.ConnectionStatus)
}

func (s *RouterSuite) TestEndSessionClosesConnections() {
	player := s.join("Alice")
	host := s.connectHost()
	p := s.connectPlayer(player.ID)

	s.Require().NoError(s.controller.EndSession(s.ctx, s.session.ID, "host-1"))

	for _, conn := range []*websocket.Conn{host, p} {
		env := s.read(conn)
		s.Equal(model.MessageSessionStatusChange, env.Type)
		s.JSONEq(`{"status":"ended","previousStatus":"lobby"}`, string(env.Payload))
		s.Equal(StatusSessionEnded, s.readCloseStatus(conn))
	}
	s.Equal(0, s.registry.SessionCount())
}

func (s *RouterSuite) TestShutdownClosesConnections() {
	host := s.connectHost()
	s.registry.CloseAll()
	s.Equal(StatusShutdown, s.readCloseStatus(host))
}

func (s *RouterSuite) TestAuthorize() {
	alice := s.join("Alice")

	s.random.QueueString("FGHJK")
	other, err := s.controller.CreateSession(s.ctx, "host-2", nil)
	s.Require().NoError(err)
	s.random.QueueString("KMNPQ")
	ended, err := s.controller.CreateSession(s.ctx, "host-1", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.controller.EndSession(s.ctx, ended.ID, "host-1"))

	otherToken, _, err := s.auth.IssueAccessToken("host-2", "host")
	s.Require().NoError(err)

	tests := []struct {
		name      string
		sessionID model.SessionID
		params    Params
		wantRole  hub.ClientRole
		wantErr   error
	}{
		{"host", s.session.ID, Params{Role: "host", Token: s.hostToken}, hub.Host(), nil},
		{"player", s.session.ID, Params{Role: "player", PlayerID: alice.ID}, hub.Player(alice.ID), nil},
		{"unknown session", "missing", Params{Role: "host", Token: s.hostToken}, hub.ClientRole{}, model.ErrSessionNotFound},
		{"ended session", ended.ID, Params{Role: "host", Token: s.hostToken}, hub.ClientRole{}, model.ErrSessionEnded},
		{"host without token", s.session.ID, Params{Role: "host"}, hub.ClientRole{}, auth.ErrMissingToken},
		{"host with bad token", s.session.ID, Params{Role: "host", Token: "garbage"}, hub.ClientRole{}, auth.ErrInvalidToken},
		{"someone else's session", s.session.ID, Params{Role: "host", Token: otherToken}, hub.ClientRole{}, model.ErrNotHost},
		{"player without id", s.session.ID, Params{Role: "player"}, hub.ClientRole{}, model.ErrPlayerIDRequired},
		{"unknown player", s.session.ID, Params{Role: "player", PlayerID: "ghost"}, hub.ClientRole{}, model.ErrPlayerNotFound},
		{"player of another session", other.ID, Params{Role: "player", PlayerID: alice.ID}, hub.ClientRole{}, model.ErrPlayerNotInSession},
		{"bad role", s.session.ID, Params{Role: "spectator"}, hub.ClientRole{}, model.ErrInvalidRole},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			role, err := s.router.Authorize(s.ctx, tt.sessionID, tt.params)
			if tt.wantErr != nil {
				s.ErrorIs(err, tt.wantErr)
				return
			}
			s.Require().NoError(err)
			s.Equal(tt.wantRole, role)
		})
	}
}

func (s *RouterSuite) TestRejectedUpgradeIsNotAWebsocket() {
	_, resp, err := websocket.Dial(s.ctx, s.wsURL(url.Values{"role": {"host"}}), nil)
	s.Require().Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *RouterSuite) TestParamsFromRequestReadsBearerHeader() {
	r := httptest.NewRequest(http.MethodGet, "/ws?role=host", nil)
	r.Header.Set("Authorization", "Bearer abc")
	s.Equal(Params{Role: "host", Token: "abc"}, ParamsFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws?role=player&playerId=p1&token=xyz", nil)
	s.Equal(Params{Role: "player", PlayerID: "p1", Token: "xyz"}, ParamsFromRequest(r))
}

func TestDisconnectReason(t *testing.T) {
	replaced := hub.NewOutbox()
	replaced.Close(hub.ReasonReplaced)
	shutdown := hub.NewOutbox()
	shutdown.Close(hub.ReasonShutdown)
	ended := hub.NewOutbox()
	ended.Close(hub.ReasonSessionEnded)

	tests := []struct {
		name   string
		err    error
		outbox *hub.Outbox
		want   string
	}{
		{"replaced", errOutboxClosed, replaced, "replaced"},
		{"shutdown", errOutboxClosed, shutdown, "shutdown"},
		{"session ended", errOutboxClosed, ended, "session_ended"},
		{"client closed", websocket.CloseError{Code: websocket.StatusNormalClosure}, nil, "client_closed"},
		{"client error", websocket.CloseError{Code: websocket.StatusProtocolError}, nil, "client_error"},
		{"ping timeout", context.DeadlineExceeded, nil, "ping_timeout"},
		{"network", errors.New("boom"), nil, "network"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, disconnectReason(tt.err, tt.outbox))
		})
	}
}
