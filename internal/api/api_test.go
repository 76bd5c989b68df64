package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/partyrelay/internal/api"
	"github.com/mcoot/partyrelay/internal/api/apierr"
	"github.com/mcoot/partyrelay/internal/api/response"
	"github.com/mcoot/partyrelay/internal/factory"
	"github.com/mcoot/partyrelay/internal/metrics"
	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/testutil"
)

const testCatalogue = `{"games": [
  {"id": "quiz", "title": "Quiz", "status": "published",
   "versions": [{"id": "quiz-1", "versionNumber": 1, "gameScreenCode": "screen", "controllerScreenCode": "pad"}]},
  {"id": "wip", "title": "WIP", "status": "draft", "versions": []}
]}`

// testServer creates a test server with all dependencies
type testServer struct {
	handler   http.Handler
	app       *factory.TestApp
	hostToken string
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	app := factory.NewTestApp()
	t.Cleanup(func() { _ = app.Close() })

	_, err := app.CatalogService.Load(t.Context(), strings.NewReader(testCatalogue))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	router := api.NewRouter(api.RouterConfig{
		Logger:      testutil.NopLogger(),
		AuthService: app.AuthService,
		Sessions:    app.SessionController,
		Relay:       app.Relay,
		Storage:     app.Storage,
		Gatherer:    reg,
		CORSOrigins: []string{"https://screen.example"},
	})

	return &testServer{
		handler:   router,
		app:       app,
		hostToken: app.HostToken("host-1"),
	}
}

func (ts *testServer) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) createSession(t *testing.T, body any) response.Session {
	t.Helper()
	rr := ts.request(http.MethodPost, "/api/v1/sessions", body, ts.hostToken)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var s response.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	return s
}

func (ts *testServer) join(t *testing.T, code, name string) response.JoinResponse {
	t.Helper()
	rr := ts.request(http.MethodPost, "/api/v1/sessions/"+code+"/join", map[string]string{"displayName": name}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp response.JoinResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp apierr.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp.Error.Code
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestHealthCheckReportsStorageFailure(t *testing.T) {
	app := factory.NewTestApp()
	router := api.NewRouter(api.RouterConfig{
		Logger:      testutil.NopLogger(),
		AuthService: app.AuthService,
		Sessions:    app.SessionController,
		Relay:       app.Relay,
		Storage:     failingPinger{},
		Gatherer:    prometheus.NewRegistry(),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createSession(t, nil)

	rr := ts.request(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "partyrelay_sessions_created_total")
	assert.Contains(t, rr.Body.String(), `route="/api/v1/sessions"`)
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)
	ts.app.MockRandom.QueueString("QWERT")

	s := ts.createSession(t, map[string]int{"maxPlayers": 4})

	assert.Equal(t, "QWERT", s.SessionCode)
	assert.Equal(t, "lobby", s.Status)
	assert.Equal(t, "host-1", s.HostID)
	assert.Equal(t, 4, s.MaxPlayers)
	assert.NotNil(t, s.Players)
	assert.Empty(t, s.Players)
}

func TestCreateSessionDefaultsWithEmptyBody(t *testing.T) {
	ts := newTestServer(t)

	s := ts.createSession(t, nil)
	assert.Equal(t, model.DefaultMaxPlayers, s.MaxPlayers)
}

func TestCreateSessionRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/sessions", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apierr.CodeUnauthorized, errorCode(t, rr))

	rr = ts.request(http.MethodPost, "/api/v1/sessions", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, apierr.CodeUnauthorized, errorCode(t, rr))
}

func TestGetSessionByCode(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, nil)
	alice := ts.join(t, s.SessionCode, "Alice")
	ts.join(t, s.SessionCode, "Bob")
	require.NoError(t, ts.app.SessionController.DisconnectPlayer(t.Context(), model.SessionID(s.ID), model.PlayerID(alice.Player.ID)))

	rr := ts.request(http.MethodGet, "/api/v1/sessions/"+strings.ToLower(s.SessionCode), nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got response.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, s.ID, got.ID)
	require.Len(t, got.Players, 1)
	assert.Equal(t, "Bob", got.Players[0].DisplayName)
}

func TestGetSessionNotFound(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/sessions/ZZZZZ", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodeSessionNotFound, errorCode(t, rr))
}

func TestJoinSession(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, nil)

	avatar := "https://cdn.example/a.png"
	rr := ts.request(http.MethodPost, "/api/v1/sessions/"+s.SessionCode+"/join",
		map[string]any{"displayName": "  Alice  ", "avatarUrl": avatar}, "")
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp response.JoinResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Alice", resp.Player.DisplayName)
	require.NotNil(t, resp.Player.AvatarURL)
	assert.Equal(t, avatar, *resp.Player.AvatarURL)
	assert.Equal(t, "connected", resp.Player.ConnectionStatus)
	assert.Equal(t, response.SessionSummary{
		ID:          s.ID,
		SessionCode: s.SessionCode,
		Status:      "lobby",
		HostID:      "host-1",
	}, resp.Session)
}

func TestJoinSessionCapacity(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, map[string]int{"maxPlayers": 1})
	ts.join(t, s.SessionCode, "Alice")

	rr := ts.request(http.MethodPost, "/api/v1/sessions/"+s.SessionCode+"/join", map[string]string{"displayName": "Bob"}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeSessionFull, errorCode(t, rr))
}

func TestJoinSessionErrors(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, nil)

	rr := ts.request(http.MethodPost, "/api/v1/sessions/"+s.SessionCode+"/join", map[string]string{"displayName": "   "}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidDisplayName, errorCode(t, rr))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+s.SessionCode+"/join", strings.NewReader("{"))
	bad := httptest.NewRecorder()
	ts.handler.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, apierr.CodeInvalidRequest, errorCode(t, bad))

	rr = ts.request(http.MethodPost, "/api/v1/sessions/NOPE1/join", map[string]string{"displayName": "Alice"}, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.request(http.MethodPost, "/api/v1/sessions/"+s.ID+"/end", nil, ts.hostToken)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request(http.MethodPost, "/api/v1/sessions/"+s.SessionCode+"/join", map[string]string{"displayName": "Alice"}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeSessionEnded, errorCode(t, rr))
}

func TestListPlayers(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, nil)
	ts.join(t, s.SessionCode, "Alice")
	ts.app.MockClock.Advance(time.Second)
	ts.join(t, s.SessionCode, "Bob")

	rr := ts.request(http.MethodGet, "/api/v1/sessions/"+s.ID+"/players", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var players []response.Player
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &players))
	require.Len(t, players, 2)
	assert.Equal(t, "Alice", players[0].DisplayName)
	assert.Equal(t, "Bob", players[1].DisplayName)

	rr = ts.request(http.MethodGet, "/api/v1/sessions/missing/players", nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEndSession(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, nil)

	rr := ts.request(http.MethodPost, "/api/v1/sessions/"+s.ID+"/end", nil, ts.app.HostToken("someone-else"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, apierr.CodeNotHost, errorCode(t, rr))

	rr = ts.request(http.MethodPost, "/api/v1/sessions/"+s.ID+"/end", nil, ts.hostToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request(http.MethodPost, "/api/v1/sessions/"+s.ID+"/end", nil, ts.hostToken)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeSessionAlreadyEnded, errorCode(t, rr))

	rr = ts.request(http.MethodPost, "/api/v1/sessions/missing/end", nil, ts.hostToken)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.request(http.MethodPost, "/api/v1/sessions/"+s.ID+"/end", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoadGame(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, nil)

	rr := ts.request(http.MethodPost, "/api/v1/sessions/"+s.ID+"/game", map[string]string{"gameId": "quiz"}, ts.hostToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"sessionId":"`+s.ID+`","gameId":"quiz","gameVersionId":"quiz-1","status":"playing"}`, rr.Body.String())
}

func TestLoadGameErrors(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, nil)
	path := "/api/v1/sessions/" + s.ID + "/game"

	tests := []struct {
		name       string
		body       any
		token      string
		wantStatus int
		wantCode   string
	}{
		{"no token", map[string]string{"gameId": "quiz"}, "", http.StatusUnauthorized, apierr.CodeUnauthorized},
		{"not host", map[string]string{"gameId": "quiz"}, ts.app.HostToken("other"), http.StatusForbidden, apierr.CodeNotHost},
		{"missing game id", map[string]string{}, ts.hostToken, http.StatusBadRequest, apierr.CodeInvalidRequest},
		{"unknown game", map[string]string{"gameId": "chess"}, ts.hostToken, http.StatusNotFound, apierr.CodeGameNotFound},
		{"draft game", map[string]string{"gameId": "wip"}, ts.hostToken, http.StatusBadRequest, apierr.CodeGameNotPublished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.request(http.MethodPost, path, tt.body, tt.token)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rr))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://screen.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://screen.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebsocketThroughRouter(t *testing.T) {
	ts := newTestServer(t)
	s := ts.createSession(t, nil)
	alice := ts.join(t, s.SessionCode, "Alice")

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + s.ID + "/ws"

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	host, _, err := websocket.Dial(ctx, base+"?role=host&token="+ts.hostToken, nil)
	require.NoError(t, err)
	defer host.CloseNow()

	player, _, err := websocket.Dial(ctx, base+"?role=player&playerId="+alice.Player.ID, nil)
	require.NoError(t, err)
	defer player.CloseNow()

	var env model.InboundEnvelope
	require.NoError(t, wsjson.Read(ctx, host, &env))
	assert.Equal(t, model.MessageConnected, env.Type)
	require.NoError(t, wsjson.Read(ctx, player, &env))
	assert.Equal(t, model.MessageConnected, env.Type)

	require.NoError(t, wsjson.Write(ctx, player, map[string]any{
		"type":    "player_input",
		"payload": map[string]any{"inputType": "buzz"},
	}))
	require.NoError(t, wsjson.Read(ctx, host, &env))
	assert.Equal(t, model.MessagePlayerInputEvent, env.Type)

	// Rejected upgrades answer with the usual error body
	_, resp, err := websocket.Dial(ctx, base+"?role=host", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, base+"?role=spectator", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
