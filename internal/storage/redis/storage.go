package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/storage"
)

// claimCodeScript sets the active-code key unless a live session already holds it.
// KEYS[1] active code key; ARGV[1] session id; ARGV[2] ttl in ms (0 = none); ARGV[3] session key prefix.
var claimCodeScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder and redis.call('EXISTS', ARGV[3] .. holder) == 1 then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// releaseCodeScript deletes the active-code key only if it still points at ARGV[1]
var releaseCodeScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance, retrying the initial ping until
// cfg.ConnectTimeout elapses
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.ConnectTimeout

	err = backoff.RetryNotify(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return client.Ping(pingCtx).Err()
		},
		backoff.WithContext(policy, ctx),
		func(err error, wait time.Duration) {
			logger.Warn("redis not ready, retrying", "wait", wait.String(), "error", err)
		},
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// expire refreshes the session TTL on key, if one is configured
func (s *Storage) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.cfg.SessionTTL > 0 {
		pipe.Expire(ctx, key, s.cfg.SessionTTL)
	}
}

func getJSON[T any](ctx context.Context, client *redis.Client, key string, notFound error) (*T, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound
		}
		return nil, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// Session operations

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	claimed, err := claimCodeScript.Run(ctx, s.client,
		[]string{activeCodeKey(session.Code)},
		string(session.ID),
		s.cfg.SessionTTL.Milliseconds(),
		fmt.Sprintf("%s:session:", keyPrefix),
	).Int()
	if err != nil {
		return fmt.Errorf("claim session code: %w", err)
	}
	if claimed == 0 {
		return model.ErrSessionCodeInUse
	}

	indexKey := sessionCodeIndexKey(session.Code)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, s.cfg.SessionTTL)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(session.CreatedAt.UnixMicro()), Member: string(session.ID)})
	s.expire(ctx, pipe, indexKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) UpdateSession(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	ok, err := s.client.SetXX(ctx, sessionKey(session.ID), data, s.cfg.SessionTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrSessionNotFound
	}

	if session.IsEnded() {
		return releaseCodeScript.Run(ctx, s.client, []string{activeCodeKey(session.Code)}, string(session.ID)).Err()
	}

	pipe := s.client.Pipeline()
	s.expire(ctx, pipe, activeCodeKey(session.Code))
	s.expire(ctx, pipe, sessionCodeIndexKey(session.Code))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	return getJSON[model.Session](ctx, s.client, sessionKey(id), model.ErrSessionNotFound)
}

func (s *Storage) GetSessionByCode(ctx context.Context, code model.SessionCode) (*model.Session, error) {
	active, err := s.activeHolder(ctx, code)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	// Fall back to the newest session that used the code
	ids, err := s.client.ZRevRange(ctx, sessionCodeIndexKey(code), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		session, err := s.GetSession(ctx, model.SessionID(id))
		if errors.Is(err, model.ErrSessionNotFound) {
			continue // expired
		}
		return session, err
	}
	return nil, model.ErrSessionNotFound
}

func (s *Storage) ActiveSessionCodeExists(ctx context.Context, code model.SessionCode) (bool, error) {
	active, err := s.activeHolder(ctx, code)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// activeHolder returns the live, non-ended session holding code, or nil
func (s *Storage) activeHolder(ctx context.Context, code model.SessionCode) (*model.Session, error) {
	holder, err := s.client.Get(ctx, activeCodeKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	session, err := s.GetSession(ctx, model.SessionID(holder))
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if session.IsEnded() {
		return nil, nil
	}
	return session, nil
}

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return err
	}

	indexKey := sessionPlayersIndexKey(player.SessionID)

	// Save + index update in one transaction
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, playerKey(player.ID), data, s.cfg.SessionTTL)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(player.CreatedAt.UnixMicro()), Member: string(player.ID)})
	s.expire(ctx, pipe, indexKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	return getJSON[model.Player](ctx, s.client, playerKey(id), model.ErrPlayerNotFound)
}

func (s *Storage) ListPlayers(ctx context.Context, sessionID model.SessionID) ([]*model.Player, error) {
	ids, err := s.client.ZRange(ctx, sessionPlayersIndexKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []*model.Player{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = playerKey(model.PlayerID(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	players := make([]*model.Player, 0, len(values))
	for i, val := range values {
		str, ok := val.(string)
		if !ok {
			continue // Player may have expired
		}
		var player model.Player
		if err := json.Unmarshal([]byte(str), &player); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		players = append(players, &player)
	}

	return players, nil
}

// Game catalogue operations

func (s *Storage) SaveGame(ctx context.Context, game *model.Game) error {
	data, err := json.Marshal(game)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, gameKey(game.ID), data, 0).Err()
}

func (s *Storage) GetGame(ctx context.Context, id model.GameID) (*model.Game, error) {
	return getJSON[model.Game](ctx, s.client, gameKey(id), model.ErrGameNotFound)
}

func (s *Storage) SaveGameVersion(ctx context.Context, version *model.GameVersion) error {
	data, err := json.Marshal(version)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, gameVersionKey(version.ID), data, 0)
	pipe.ZAdd(ctx, gameVersionsIndexKey(version.GameID), redis.Z{Score: float64(version.VersionNumber), Member: string(version.ID)})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetGameVersion(ctx context.Context, id model.GameVersionID) (*model.GameVersion, error) {
	return getJSON[model.GameVersion](ctx, s.client, gameVersionKey(id), model.ErrGameVersionNotFound)
}

func (s *Storage) LatestGameVersion(ctx context.Context, gameID model.GameID) (*model.GameVersion, error) {
	ids, err := s.client.ZRevRange(ctx, gameVersionsIndexKey(gameID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, model.ErrGameVersionNotFound
	}
	return s.GetGameVersion(ctx, model.GameVersionID(ids[0]))
}
