package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/partyrelay/internal/hub"
	"github.com/mcoot/partyrelay/internal/metrics"
	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/services/auth"
)

// Close codes sent when the server closes a connection
const (
	StatusSessionEnded = websocket.StatusNormalClosure
	StatusShutdown     = websocket.StatusGoingAway
	StatusReplaced     = websocket.StatusCode(4000)
)

// Sessions is the part of the session controller the relay needs
type Sessions interface {
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)
	ConnectPlayer(ctx context.Context, sessionID model.SessionID, playerID model.PlayerID) (*model.Player, error)
	DisconnectPlayer(ctx context.Context, sessionID model.SessionID, playerID model.PlayerID) error
}

// TokenVerifier checks host access tokens
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// Params are the upgrade request parameters
type Params struct {
	Role     string
	PlayerID model.PlayerID
	Token    string
}

// ParamsFromRequest reads role, playerId and token from the query string.
// The token may also come from an Authorization: Bearer header.
func ParamsFromRequest(r *http.Request) Params {
	q := r.URL.Query()
	p := Params{
		Role:     q.Get("role"),
		PlayerID: model.PlayerID(q.Get("playerId")),
		Token:    q.Get("token"),
	}
	if p.Token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			p.Token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	return p
}

// errOutboxClosed ends a connection whose outbox was closed by the registry
var errOutboxClosed = errors.New("outbox closed")

// Router upgrades connections and relays messages between hosts and players
type Router struct {
	sessions Sessions
	registry *hub.Registry
	verifier TokenVerifier
	cfg      Config
	logger   *slog.Logger
}

// NewRouter creates a new Router
func NewRouter(sessions Sessions, registry *hub.Registry, verifier TokenVerifier, cfg Config, logger *slog.Logger) *Router {
	return &Router{
		sessions: sessions,
		registry: registry,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "relay")),
	}
}

// Authorize validates an upgrade request and resolves the caller's role.
// For players it also marks the player as connected.
func (rt *Router) Authorize(ctx context.Context, sessionID model.SessionID, p Params) (hub.ClientRole, error) {
	session, err := rt.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return hub.ClientRole{}, err
	}
	if session.IsEnded() {
		return hub.ClientRole{}, model.ErrSessionEnded
	}

	switch p.Role {
	case "host":
		identity, err := rt.verifier.Verify(p.Token)
		if err != nil {
			return hub.ClientRole{}, err
		}
		if !session.IsHost(identity.UserID) {
			return hub.ClientRole{}, model.ErrNotHost
		}
		return hub.Host(), nil

	case "player":
		if p.PlayerID == "" {
			return hub.ClientRole{}, model.ErrPlayerIDRequired
		}
		if _, err := rt.sessions.ConnectPlayer(ctx, sessionID, p.PlayerID); err != nil {
			return hub.ClientRole{}, err
		}
		return hub.Player(p.PlayerID), nil

	default:
		return hub.ClientRole{}, model.ErrInvalidRole
	}
}

// Serve upgrades the request and relays messages until either side goes away.
// role must come from a successful Authorize.
func (rt *Router) Serve(w http.ResponseWriter, r *http.Request, sessionID model.SessionID, role hub.ClientRole) {
	logger := rt.logger.With(
		slog.String("session_id", string(sessionID)),
		slog.String("role", role.String()))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: rt.cfg.OriginPatterns,
	})
	if err != nil {
		logger.Warn("websocket accept failed",
			slog.String("origin", r.Header.Get("Origin")),
			slog.Any("error", err))
		if role.IsPlayer() {
			rt.markDisconnected(r.Context(), logger, sessionID, role.PlayerID())
		}
		return
	}
	defer conn.CloseNow()

	if rt.cfg.ReadLimit > 0 {
		conn.SetReadLimit(rt.cfg.ReadLimit)
	}

	outbox := hub.NewOutbox()
	ack, err := model.EncodeMessage(model.MessageConnected, model.ConnectedPayload{
		SessionID: sessionID,
		Role:      role.Name(),
		PlayerID:  role.PlayerID(),
	})
	if err != nil {
		logger.Error("failed to encode connected ack", slog.Any("error", err))
		return
	}
	outbox.Send(ack)
	rt.registry.Register(sessionID, role, outbox)
	rt.settle(r.Context(), logger, sessionID, role, outbox)
	logger.Info("websocket connected")

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return rt.writeLoop(ctx, conn, outbox) })
	g.Go(func() error { return rt.readLoop(ctx, conn, sessionID, role) })
	g.Go(func() error { return rt.heartbeat(ctx, conn) })
	err = g.Wait()

	rt.registry.Unregister(sessionID, role, outbox)

	reason := disconnectReason(err, outbox)
	metrics.Disconnects.WithLabelValues(reason).Inc()
	logger.Info("websocket disconnected", slog.String("reason", reason))

	// A replaced player is still present on its newer connection
	if role.IsPlayer() && outbox.Reason() != hub.ReasonReplaced {
		if rt.registry.IsConnected(sessionID, role) {
			return
		}
		rt.markDisconnected(r.Context(), logger, sessionID, role.PlayerID())
		// A newer connection may have registered while the disconnect was saved
		if rt.registry.IsConnected(sessionID, role) {
			rt.markConnected(r.Context(), logger, sessionID, role.PlayerID())
			return
		}
		rt.broadcastPlayerLeft(logger, sessionID, role.PlayerID())
	}
}

// settle runs once the connection is registered. A session that ended since
// Authorize gets its connection closed, and a player is marked connected again
// in case an older connection's disconnect was saved in between.
func (rt *Router) settle(ctx context.Context, logger *slog.Logger, sessionID model.SessionID, role hub.ClientRole, outbox *hub.Outbox) {
	session, err := rt.sessions.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		outbox.Close(hub.ReasonSessionEnded)
		return
	case err != nil:
		logger.Warn("failed to recheck session", slog.Any("error", err))
	case session.IsEnded():
		outbox.Close(hub.ReasonSessionEnded)
		return
	}

	if role.IsPlayer() {
		rt.markConnected(ctx, logger, sessionID, role.PlayerID())
	}
}

// writeLoop drains the outbox onto the socket
func (rt *Router) writeLoop(ctx context.Context, conn *websocket.Conn, outbox *hub.Outbox) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-outbox.Ready():
			msgs, closed := outbox.Drain()
			for _, msg := range msgs {
				if err := rt.write(ctx, conn, msg); err != nil {
					return err
				}
			}
			if closed {
				reason := outbox.Reason()
				_ = conn.Close(closeStatus(reason), reason.String())
				return errOutboxClosed
			}
		}
	}
}

func (rt *Router) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	if rt.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.WriteTimeout)
		defer cancel()
	}
	return conn.Write(ctx, websocket.MessageText, msg)
}

// readLoop dispatches inbound text frames until the socket fails
func (rt *Router) readLoop(ctx context.Context, conn *websocket.Conn, sessionID model.SessionID, role hub.ClientRole) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			metrics.MessagesDropped.WithLabelValues("binary_frame").Inc()
			continue
		}
		rt.dispatch(sessionID, role, data)
	}
}

// heartbeat pings the peer and fails when a pong does not arrive in time
func (rt *Router) heartbeat(ctx context.Context, conn *websocket.Conn) error {
	if rt.cfg.PingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(rt.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, rt.cfg.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (rt *Router) markDisconnected(ctx context.Context, logger *slog.Logger, sessionID model.SessionID, playerID model.PlayerID) {
	// The request context is usually done by now
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.DisconnectTimeout)
	defer cancel()

	if err := rt.sessions.DisconnectPlayer(ctx, sessionID, playerID); err != nil {
		logger.Warn("failed to persist player disconnect", slog.Any("error", err))
	}
}

func (rt *Router) markConnected(ctx context.Context, logger *slog.Logger, sessionID model.SessionID, playerID model.PlayerID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.DisconnectTimeout)
	defer cancel()

	if _, err := rt.sessions.ConnectPlayer(ctx, sessionID, playerID); err != nil {
		logger.Warn("failed to persist player connect", slog.Any("error", err))
	}
}

func (rt *Router) broadcastPlayerLeft(logger *slog.Logger, sessionID model.SessionID, playerID model.PlayerID) {
	msg, err := model.EncodeMessage(model.MessagePlayerLeft, model.PlayerLeftPayload{
		PlayerID: playerID,
		Reason:   model.PlayerLeftReasonDisconnected,
	})
	if err != nil {
		logger.Error("failed to encode player_left", slog.Any("error", err))
		return
	}
	rt.registry.Broadcast(sessionID, msg)
	metrics.MessagesRelayed.WithLabelValues(string(model.MessagePlayerLeft)).Inc()
}

func closeStatus(reason hub.CloseReason) websocket.StatusCode {
	switch reason {
	case hub.ReasonReplaced:
		return StatusReplaced
	case hub.ReasonShutdown:
		return StatusShutdown
	default:
		return StatusSessionEnded
	}
}

// disconnectReason labels why a connection ended, for logs and metrics
func disconnectReason(err error, outbox *hub.Outbox) string {
	if errors.Is(err, errOutboxClosed) {
		switch outbox.Reason() {
		case hub.ReasonReplaced:
			return "replaced"
		case hub.ReasonShutdown:
			return "shutdown"
		default:
			return "session_ended"
		}
	}
	if status := websocket.CloseStatus(err); status != -1 {
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			return "client_closed"
		}
		return "client_error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "ping_timeout"
	}
	return "network"
}
