package e2e_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/partyrelay/internal/api"
	"github.com/mcoot/partyrelay/internal/factory"
	"github.com/mcoot/partyrelay/internal/logger"
	"github.com/mcoot/partyrelay/internal/services/auth"
)

const testSecret = "e2e-secret"

const testGames = `{"games": [
  {"id": "quiz", "title": "Quiz Night", "status": "published", "publishedVersion": "quiz-2",
   "versions": [
     {"id": "quiz-1", "versionNumber": 1, "gameScreenCode": "screen-1", "controllerScreenCode": "pad-1"},
     {"id": "quiz-2", "versionNumber": 2, "gameScreenCode": "screen-2", "controllerScreenCode": "pad-2"}
   ]},
  {"id": "draft", "title": "Unfinished", "status": "draft",
   "versions": [{"id": "draft-1", "versionNumber": 1, "gameScreenCode": "s", "controllerScreenCode": "c"}]}
]}`

// cliRunner manages CLI binary execution
type cliRunner struct {
	binaryPath string
	serverURL  string
	tokenFile  string
}

func newCLIRunner(t *testing.T, serverURL string) *cliRunner {
	t.Helper()

	// Find project root (where go.mod is)
	projectRoot := findProjectRoot(t)

	// Build the CLI binary
	binaryPath := filepath.Join(projectRoot, "bin", "partyctl-test")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/partyctl")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build CLI: %s", string(output))

	// Create temp token file
	tokenFile := filepath.Join(t.TempDir(), "token")

	return &cliRunner{
		binaryPath: binaryPath,
		serverURL:  serverURL,
		tokenFile:  tokenFile,
	}
}

func (r *cliRunner) command(args ...string) *exec.Cmd {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--token-file", r.tokenFile,
		"--output", "json",
	}, args...)

	cmd := exec.Command(r.binaryPath, fullArgs...)
	// Keep the developer's own settings out of the run
	cmd.Env = []string{"HOME=" + filepath.Dir(r.tokenFile), "PARTYCTL_SECRET=" + testSecret}
	return cmd
}

func (r *cliRunner) run(args ...string) (string, error) {
	output, err := r.command(args...).CombinedOutput()
	return string(output), err
}

func (r *cliRunner) runWithStdin(stdin string, args ...string) (string, error) {
	cmd := r.command(args...)
	cmd.Stdin = strings.NewReader(stdin)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func (r *cliRunner) login(t *testing.T, userID string) {
	t.Helper()

	output, err := r.run("token", "issue", "--user", userID, "--save")
	require.NoError(t, err, "output: %s", output)
}

func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// testServer manages a real HTTP server for e2e tests
type testServer struct {
	addr     string
	shutdown func()
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	// Find a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	log, err := logger.New(os.Stderr, logger.FormatText, "error")
	require.NoError(t, err)

	// Create application
	ctx := context.Background()
	app, err := factory.New(ctx, factory.Config{
		AuthConfig: auth.Config{Secret: testSecret, Issuer: "partyrelay"},
		Logger:     log,
	})
	require.NoError(t, err)

	gamesFile := filepath.Join(t.TempDir(), "games.json")
	require.NoError(t, os.WriteFile(gamesFile, []byte(testGames), 0600))
	n, err := app.CatalogService.LoadFromFile(ctx, gamesFile)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	router := api.NewRouter(api.RouterConfig{
		Logger:      log,
		AuthService: app.AuthService,
		Sessions:    app.SessionController,
		Relay:       app.Relay,
		Storage:     app.Storage,
		CORSOrigins: []string{"*"},
	})

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	server.RegisterOnShutdown(app.Registry.CloseAll)

	// Start server
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	// Wait for server to be ready
	serverURL := "http://" + addr
	waitForServer(t, serverURL+"/api/v1/health")

	return &testServer{
		addr: serverURL,
		shutdown: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
			_ = app.Close()
		},
	}
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 100 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatal("server did not become ready in time")
}

// Response types for JSON parsing
type playerResponse struct {
	ID               string     `json:"id"`
	DisplayName      string     `json:"displayName"`
	ConnectionStatus string     `json:"connectionStatus"`
	LeftAt           *time.Time `json:"leftAt"`
}

type sessionResponse struct {
	ID            string           `json:"id"`
	SessionCode   string           `json:"sessionCode"`
	Status        string           `json:"status"`
	HostID        string           `json:"hostId"`
	GameID        *string          `json:"gameId"`
	GameVersionID *string          `json:"gameVersionId"`
	MaxPlayers    int              `json:"maxPlayers"`
	Players       []playerResponse `json:"players"`
}

type joinResponse struct {
	Player  playerResponse `json:"player"`
	Session struct {
		ID          string `json:"id"`
		SessionCode string `json:"sessionCode"`
		Status      string `json:"status"`
	} `json:"session"`
}

type loadGameResponse struct {
	SessionID     string `json:"sessionId"`
	GameID        string `json:"gameId"`
	GameVersionID string `json:"gameVersionId"`
	Status        string `json:"status"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Tests

func TestCLI_HealthCheck(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	output, err := cli.run("health")
	require.NoError(t, err, "output: %s", output)

	var resp healthResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCLI_TokenIssue(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	output, err := cli.run("token", "issue", "--user", "host-1", "--save")
	require.NoError(t, err, "output: %s", output)

	var resp struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "host-1", resp.UserID)
	assert.NotEmpty(t, resp.Token)

	saved, err := os.ReadFile(cli.tokenFile)
	require.NoError(t, err)
	assert.Equal(t, resp.Token, string(saved))
}

func TestCLI_SessionLifecycle(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	host := newCLIRunner(t, ts.addr)
	host.login(t, "host-1")

	// Create a session
	output, err := host.run("session", "create", "--max-players", "2")
	require.NoError(t, err, "output: %s", output)

	var created sessionResponse
	require.NoError(t, json.Unmarshal([]byte(output), &created))
	assert.Equal(t, "lobby", created.Status)
	assert.Equal(t, "host-1", created.HostID)
	assert.Equal(t, 2, created.MaxPlayers)
	assert.Len(t, created.SessionCode, 5)
	assert.Empty(t, created.Players)

	// Players join by code, in lower case to exercise normalisation
	player := &cliRunner{
		binaryPath: host.binaryPath,
		serverURL:  host.serverURL,
		tokenFile:  filepath.Join(t.TempDir(), "token2"),
	}

	output, err = player.run("session", "join", strings.ToLower(created.SessionCode), "--name", "  Alice  ")
	require.NoError(t, err, "output: %s", output)

	var alice joinResponse
	require.NoError(t, json.Unmarshal([]byte(output), &alice))
	assert.Equal(t, "Alice", alice.Player.DisplayName)
	assert.Equal(t, "connected", alice.Player.ConnectionStatus)
	assert.Equal(t, created.ID, alice.Session.ID)

	output, err = player.run("session", "join", created.SessionCode, "--name", "Bob")
	require.NoError(t, err, "output: %s", output)

	// The session is now full
	output, err = player.run("session", "join", created.SessionCode, "--name", "Carol")
	assert.Error(t, err)
	assert.Contains(t, output, "SESSION_FULL")

	// Get by code shows active players
	output, err = player.run("session", "get", created.SessionCode)
	require.NoError(t, err, "output: %s", output)

	var got sessionResponse
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Len(t, got.Players, 2)

	// Non-hosts cannot load games
	output, err = player.run("session", "load-game", created.ID, "--game", "quiz")
	assert.Error(t, err)
	assert.Contains(t, output, "UNAUTHORIZED")

	// Drafts cannot be loaded
	output, err = host.run("session", "load-game", created.ID, "--game", "draft")
	assert.Error(t, err)
	assert.Contains(t, output, "GAME_NOT_PUBLISHED")

	// Load the published version
	output, err = host.run("session", "load-game", created.ID, "--game", "quiz")
	require.NoError(t, err, "output: %s", output)

	var loaded loadGameResponse
	require.NoError(t, json.Unmarshal([]byte(output), &loaded))
	assert.Equal(t, loadGameResponse{
		SessionID:     created.ID,
		GameID:        "quiz",
		GameVersionID: "quiz-2",
		Status:        "playing",
	}, loaded)

	// End the session
	output, err = host.run("session", "end", created.ID)
	require.NoError(t, err, "output: %s", output)

	var msg messageResponse
	require.NoError(t, json.Unmarshal([]byte(output), &msg))
	assert.Contains(t, msg.Message, "Ended session")

	output, err = host.run("session", "end", created.ID)
	assert.Error(t, err)
	assert.Contains(t, output, "SESSION_ALREADY_ENDED")

	output, err = player.run("session", "join", created.SessionCode, "--name", "Dave")
	assert.Error(t, err)
	assert.Contains(t, output, "SESSION_ENDED")

	// Membership history survives the end
	output, err = player.run("session", "players", created.ID)
	require.NoError(t, err, "output: %s", output)

	var players []playerResponse
	require.NoError(t, json.Unmarshal([]byte(output), &players))
	require.Len(t, players, 2)
	assert.Equal(t, "Alice", players[0].DisplayName)
	assert.Equal(t, "Bob", players[1].DisplayName)
}

func TestCLI_ConnectAsPlayer(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	host := newCLIRunner(t, ts.addr)
	host.login(t, "host-1")

	output, err := host.run("session", "create")
	require.NoError(t, err, "output: %s", output)
	var session sessionResponse
	require.NoError(t, json.Unmarshal([]byte(output), &session))

	output, err = host.run("session", "join", session.SessionCode, "--name", "Alice")
	require.NoError(t, err, "output: %s", output)
	var joined joinResponse
	require.NoError(t, json.Unmarshal([]byte(output), &joined))

	// One input line, then stdin closes and the CLI hangs up
	output, err = host.runWithStdin("buzz\n",
		"connect", session.ID, "--role", "player", "--player-id", joined.Player.ID)
	require.NoError(t, err, "output: %s", output)

	// The server records the disconnect once the socket is gone
	require.Eventually(t, func() bool {
		output, err := host.run("session", "players", session.ID)
		if err != nil {
			return false
		}
		var players []playerResponse
		if json.Unmarshal([]byte(output), &players) != nil || len(players) != 1 {
			return false
		}
		return players[0].ConnectionStatus == "disconnected" && players[0].LeftAt != nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestCLI_ErrorHandling(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	// Create without a token
	output, err := cli.run("session", "create")
	assert.Error(t, err)
	assert.Contains(t, strings.ToLower(output), "unauthorized")

	// Unknown session code
	output, err = cli.run("session", "get", "ZZZZZ")
	assert.Error(t, err)
	assert.Contains(t, strings.ToLower(output), "not found")

	// Connect as a player who never joined
	cli.login(t, "host-1")
	output, err = cli.run("session", "create")
	require.NoError(t, err, "output: %s", output)
	var session sessionResponse
	require.NoError(t, json.Unmarshal([]byte(output), &session))

	output, err = cli.runWithStdin("",
		"connect", session.ID, "--role", "player", "--player-id", "nobody")
	assert.Error(t, err)
	assert.Contains(t, output, "HTTP 404")
}
