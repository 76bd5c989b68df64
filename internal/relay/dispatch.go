package relay

import (
	"encoding/json"

	"github.com/mcoot/partyrelay/internal/hub"
	"github.com/mcoot/partyrelay/internal/metrics"
	"github.com/mcoot/partyrelay/internal/model"
)

// dispatch routes one inbound frame. Anything that is not a relay message
// valid for the sender's role is dropped without a reply.
func (rt *Router) dispatch(sessionID model.SessionID, role hub.ClientRole, data []byte) {
	var env model.InboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		return
	}

	switch {
	case env.Type == model.MessagePlayerInput && role.IsPlayer():
		metrics.MessagesReceived.WithLabelValues(string(env.Type)).Inc()
		rt.relayPlayerInput(sessionID, role.PlayerID(), env.Payload)

	case env.Type == model.MessageGameStateUpdate && role.IsHost():
		metrics.MessagesReceived.WithLabelValues(string(env.Type)).Inc()
		rt.relayGameState(sessionID, env.Payload)

	case env.Type == model.MessagePlayerInput || env.Type == model.MessageGameStateUpdate:
		metrics.MessagesDropped.WithLabelValues("wrong_role").Inc()

	default:
		metrics.MessagesDropped.WithLabelValues("unknown_type").Inc()
	}
}

// relayPlayerInput forwards a player's input to the host, tagged with the sender
func (rt *Router) relayPlayerInput(sessionID model.SessionID, playerID model.PlayerID, payload json.RawMessage) {
	// A payload that is not an object still reaches the host, with null fields
	var in model.PlayerInputPayload
	_ = json.Unmarshal(payload, &in)

	msg, err := model.EncodeMessage(model.MessagePlayerInputEvent, model.PlayerInputEventPayload{
		PlayerID:  playerID,
		InputType: in.InputType,
		Data:      in.Data,
	})
	if err != nil {
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		return
	}
	rt.registry.SendToHost(sessionID, msg)
	metrics.MessagesRelayed.WithLabelValues(string(model.MessagePlayerInputEvent)).Inc()
}

// relayGameState forwards the host's payload to every player unchanged
func (rt *Router) relayGameState(sessionID model.SessionID, payload json.RawMessage) {
	msg, err := model.EncodeMessage(model.MessageGameState, payload)
	if err != nil {
		metrics.MessagesDropped.WithLabelValues("malformed").Inc()
		return
	}
	rt.registry.BroadcastToPlayers(sessionID, msg)
	metrics.MessagesRelayed.WithLabelValues(string(model.MessageGameState)).Inc()
}
