package hub

import (
	"hash/maphash"
	"log/slog"
	"sync"

	"github.com/mcoot/partyrelay/internal/metrics"
	"github.com/mcoot/partyrelay/internal/model"
)

// shardCount must be a power of two
const shardCount = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]map[ClientRole]*Outbox
}

// Registry tracks the live connections of every session
type Registry struct {
	seed   maphash.Seed
	shards [shardCount]shard
	logger *slog.Logger
}

// NewRegistry creates an empty Registry
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		seed:   maphash.MakeSeed(),
		logger: logger.With(slog.String("component", "hub")),
	}
	for i := range r.shards {
		r.shards[i].sessions = make(map[model.SessionID]map[ClientRole]*Outbox)
	}
	return r
}

func (r *Registry) shardFor(sessionID model.SessionID) *shard {
	h := maphash.String(r.seed, string(sessionID))
	return &r.shards[h&(shardCount-1)]
}

// Register installs outbox as the connection for role in the session.
// A previous outbox under the same role is closed with ReasonReplaced.
func (r *Registry) Register(sessionID model.SessionID, role ClientRole, outbox *Outbox) {
	s := r.shardFor(sessionID)

	s.mu.Lock()
	conns, ok := s.sessions[sessionID]
	if !ok {
		conns = make(map[ClientRole]*Outbox)
		s.sessions[sessionID] = conns
		metrics.ActiveSessions.Inc()
	}
	previous := conns[role]
	conns[role] = outbox
	s.mu.Unlock()

	if previous != nil && previous != outbox {
		previous.Close(ReasonReplaced)
		r.logger.Info("connection replaced",
			slog.String("session_id", string(sessionID)),
			slog.String("role", role.String()))
		return
	}
	metrics.ConnectedClients.WithLabelValues(role.Name()).Inc()
	r.logger.Debug("connection registered",
		slog.String("session_id", string(sessionID)),
		slog.String("role", role.String()))
}

// Unregister removes the connection for role only if it is still outbox.
// It reports whether anything was removed.
func (r *Registry) Unregister(sessionID model.SessionID, role ClientRole, outbox *Outbox) bool {
	s := r.shardFor(sessionID)

	s.mu.Lock()
	conns, ok := s.sessions[sessionID]
	if !ok || conns[role] != outbox {
		s.mu.Unlock()
		return false
	}
	delete(conns, role)
	if len(conns) == 0 {
		delete(s.sessions, sessionID)
		metrics.ActiveSessions.Dec()
	}
	s.mu.Unlock()

	metrics.ConnectedClients.WithLabelValues(role.Name()).Dec()
	r.logger.Debug("connection unregistered",
		slog.String("session_id", string(sessionID)),
		slog.String("role", role.String()))
	return true
}

// send enqueues msg on every outbox of the session matched by filter
func (r *Registry) send(sessionID model.SessionID, msg []byte, filter func(ClientRole) bool) int {
	s := r.shardFor(sessionID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for role, outbox := range s.sessions[sessionID] {
		if filter(role) && outbox.Send(msg) {
			sent++
		}
	}
	return sent
}

// SendToHost queues msg for the session's host, if connected
func (r *Registry) SendToHost(sessionID model.SessionID, msg []byte) int {
	return r.send(sessionID, msg, ClientRole.IsHost)
}

// SendToPlayer queues msg for one player, if connected
func (r *Registry) SendToPlayer(sessionID model.SessionID, playerID model.PlayerID, msg []byte) int {
	target := Player(playerID)
	return r.send(sessionID, msg, func(role ClientRole) bool { return role == target })
}

// Broadcast queues msg for every connection of the session
func (r *Registry) Broadcast(sessionID model.SessionID, msg []byte) int {
	return r.send(sessionID, msg, func(ClientRole) bool { return true })
}

// BroadcastToPlayers queues msg for every player connection of the session
func (r *Registry) BroadcastToPlayers(sessionID model.SessionID, msg []byte) int {
	return r.send(sessionID, msg, ClientRole.IsPlayer)
}

// RemoveSession drops every connection of the session and closes their
// outboxes. Messages already queued are still delivered.
func (r *Registry) RemoveSession(sessionID model.SessionID) {
	s := r.shardFor(sessionID)

	s.mu.Lock()
	conns, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return
	}
	metrics.ActiveSessions.Dec()
	for role, outbox := range conns {
		outbox.Close(ReasonSessionEnded)
		metrics.ConnectedClients.WithLabelValues(role.Name()).Dec()
	}
	r.logger.Info("session connections removed",
		slog.String("session_id", string(sessionID)),
		slog.Int("closed", len(conns)))
}

// IsConnected reports whether role has a live connection in the session
func (r *Registry) IsConnected(sessionID model.SessionID, role ClientRole) bool {
	s := r.shardFor(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID][role]
	return ok
}

// HasConnectedPlayers reports whether any player of the session is connected
func (r *Registry) HasConnectedPlayers(sessionID model.SessionID) bool {
	s := r.shardFor(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for role := range s.sessions[sessionID] {
		if role.IsPlayer() {
			return true
		}
	}
	return false
}

// SessionCount returns the number of sessions with at least one connection
func (r *Registry) SessionCount() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.sessions)
		s.mu.RUnlock()
	}
	return n
}

// ConnectionCount returns the number of live connections across all sessions
func (r *Registry) ConnectionCount() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, conns := range s.sessions {
			n += len(conns)
		}
		s.mu.RUnlock()
	}
	return n
}

// CloseAll closes every connection with ReasonShutdown and empties the registry
func (r *Registry) CloseAll() {
	closed := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		sessions := s.sessions
		s.sessions = make(map[model.SessionID]map[ClientRole]*Outbox)
		s.mu.Unlock()

		for _, conns := range sessions {
			metrics.ActiveSessions.Dec()
			for role, outbox := range conns {
				outbox.Close(ReasonShutdown)
				metrics.ConnectedClients.WithLabelValues(role.Name()).Dec()
				closed++
			}
		}
	}
	r.logger.Info("all connections closed", slog.Int("closed", closed))
}
