package redis

import (
	"fmt"

	"github.com/mcoot/partyrelay/internal/model"
)

// Key prefix for all relay data
const keyPrefix = "partyrelay"

// sessionKey returns the Redis key for a Session
func sessionKey(id model.SessionID) string {
	return fmt.Sprintf("%s:session:%s", keyPrefix, id)
}

// activeCodeKey holds the id of the non-ended session using a code
func activeCodeKey(code model.SessionCode) string {
	return fmt.Sprintf("%s:idx:active_code:%s", keyPrefix, code)
}

// sessionCodeIndexKey returns the ZSET of every session that used a code, scored by creation time
func sessionCodeIndexKey(code model.SessionCode) string {
	return fmt.Sprintf("%s:idx:session_code:%s", keyPrefix, code)
}

// playerKey returns the Redis key for a Player
func playerKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:player:%s", keyPrefix, id)
}

// sessionPlayersIndexKey returns the ZSET of a session's players, scored by join time
func sessionPlayersIndexKey(sessionID model.SessionID) string {
	return fmt.Sprintf("%s:idx:session_players:%s", keyPrefix, sessionID)
}

// gameKey returns the Redis key for a catalogue Game
func gameKey(id model.GameID) string {
	return fmt.Sprintf("%s:game:%s", keyPrefix, id)
}

// gameVersionKey returns the Redis key for a GameVersion
func gameVersionKey(id model.GameVersionID) string {
	return fmt.Sprintf("%s:game_version:%s", keyPrefix, id)
}

// gameVersionsIndexKey returns the ZSET of a game's versions, scored by version number
func gameVersionsIndexKey(gameID model.GameID) string {
	return fmt.Sprintf("%s:idx:game_versions:%s", keyPrefix, gameID)
}
