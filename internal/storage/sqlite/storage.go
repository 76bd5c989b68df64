package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeFormat is fixed width so TEXT columns sort chronologically
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Storage is a SQLite-backed implementation of the storage interface
type Storage struct {
	writer *sql.DB
	reader *sql.DB
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// NewMemory opens a private in-memory database, mainly for tests
func NewMemory(logger *slog.Logger) (*Storage, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}

	// Every connection to :memory: is a separate database
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		return nil, err
	}
	if err := Migrate(conn, logger); err != nil {
		return nil, err
	}

	return &Storage{writer: conn, reader: conn}, nil
}

// NewLocal opens (creating if needed) the database file at path
func NewLocal(path string, logger *slog.Logger) (*Storage, error) {
	pragmas := "_pragma=busy_timeout(10000)&" +
		"_pragma=journal_mode(WAL)&" +
		"_pragma=synchronous(NORMAL)&" +
		"_pragma=foreign_keys(ON)&" +
		"_pragma=temp_store(MEMORY)"
	uri := fmt.Sprintf("%s?%s", path, pragmas)
	logger.Debug("opening sqlite database", "path", path)

	writer, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, err
	}

	writer.SetMaxOpenConns(1)

	if err := writer.Ping(); err != nil {
		return nil, err
	}
	if err := Migrate(writer, logger); err != nil {
		return nil, err
	}

	reader, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, err
	}

	reader.SetMaxOpenConns(min(runtime.NumCPU(), 4))
	if err := reader.Ping(); err != nil {
		return nil, err
	}

	return &Storage{writer: writer, reader: reader}, nil
}

// Migrate applies the embedded schema migrations
func Migrate(conn *sql.DB, logger *slog.Logger) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration: %w", err)
	}

	version, dirty, err := m.Version()
	logger.Info("sqlite migration complete", "version", version, "dirty", dirty, "error", err)
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.reader.PingContext(ctx)
}

func (s *Storage) Close() error {
	if s.reader == s.writer {
		return s.writer.Close()
	}
	return errors.Join(s.writer.Close(), s.reader.Close())
}

// Session operations

const sessionColumns = `id, code, status, host_id, game_id, game_version_id, max_players, created_at, updated_at, ended_at`

func (s *Storage) CreateSession(ctx context.Context, session *model.Session) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Code, session.Status, session.HostID,
		nullString(session.GameID), nullString(session.GameVersionID),
		session.MaxPlayers, formatTime(session.CreatedAt), formatTime(session.UpdatedAt), nullTime(session.EndedAt),
	)
	if isUniqueViolation(err) {
		return model.ErrSessionCodeInUse
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Storage) UpdateSession(ctx context.Context, session *model.Session) error {
	res, err := s.writer.ExecContext(ctx,
		`UPDATE sessions
		 SET code = ?, status = ?, host_id = ?, game_id = ?, game_version_id = ?,
		     max_players = ?, updated_at = ?, ended_at = ?
		 WHERE id = ?`,
		session.Code, session.Status, session.HostID,
		nullString(session.GameID), nullString(session.GameVersionID),
		session.MaxPlayers, formatTime(session.UpdatedAt), nullTime(session.EndedAt),
		session.ID,
	)
	if isUniqueViolation(err) {
		return model.ErrSessionCodeInUse
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

func (s *Storage) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	row := s.reader.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Storage) GetSessionByCode(ctx context.Context, code model.SessionCode) (*model.Session, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE code = ?
		 ORDER BY status = 'ended', created_at DESC
		 LIMIT 1`, code)
	return scanSession(row)
}

func (s *Storage) ActiveSessionCodeExists(ctx context.Context, code model.SessionCode) (bool, error) {
	var exists bool
	err := s.reader.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE code = ? AND status != 'ended')`, code,
	).Scan(&exists)
	return exists, err
}

func scanSession(row *sql.Row) (*model.Session, error) {
	var (
		session                    model.Session
		gameID, versionID, endedAt sql.NullString
		createdAt, updatedAt       string
	)
	err := row.Scan(
		&session.ID, &session.Code, &session.Status, &session.HostID,
		&gameID, &versionID, &session.MaxPlayers, &createdAt, &updatedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	session.GameID = fromNullString[model.GameID](gameID)
	session.GameVersionID = fromNullString[model.GameVersionID](versionID)
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if session.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

// Player operations

const playerColumns = `id, session_id, user_id, display_name, avatar_url, connection_status, created_at, left_at`

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO players (`+playerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     user_id = excluded.user_id,
		     display_name = excluded.display_name,
		     avatar_url = excluded.avatar_url,
		     connection_status = excluded.connection_status,
		     left_at = excluded.left_at`,
		player.ID, player.SessionID, nullString(player.UserID), player.DisplayName,
		nullString(player.AvatarURL), player.ConnectionStatus,
		formatTime(player.CreatedAt), nullTime(player.LeftAt),
	)
	if err != nil {
		return fmt.Errorf("save player: %w", err)
	}
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	row := s.reader.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	player, err := scanPlayer(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPlayerNotFound
	}
	return player, err
}

func (s *Storage) ListPlayers(ctx context.Context, sessionID model.SessionID) ([]*model.Player, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	players := []*model.Player{}
	for rows.Next() {
		player, err := scanPlayer(rows.Scan)
		if err != nil {
			return nil, err
		}
		players = append(players, player)
	}
	return players, rows.Err()
}

func scanPlayer(scan func(dest ...any) error) (*model.Player, error) {
	var (
		player                  model.Player
		userID, avatarURL, left sql.NullString
		createdAt               string
	)
	err := scan(
		&player.ID, &player.SessionID, &userID, &player.DisplayName,
		&avatarURL, &player.ConnectionStatus, &createdAt, &left,
	)
	if err != nil {
		return nil, err
	}

	player.UserID = fromNullString[model.UserID](userID)
	player.AvatarURL = fromNullString[string](avatarURL)
	if player.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if player.LeftAt, err = parseNullTime(left); err != nil {
		return nil, err
	}
	return &player, nil
}

// Game catalogue operations

func (s *Storage) SaveGame(ctx context.Context, game *model.Game) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO games (id, title, status, published_version_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     title = excluded.title,
		     status = excluded.status,
		     published_version_id = excluded.published_version_id,
		     updated_at = excluded.updated_at`,
		game.ID, game.Title, game.Status, nullString(game.PublishedVersionID),
		formatTime(game.CreatedAt), formatTime(game.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save game: %w", err)
	}
	return nil
}

func (s *Storage) GetGame(ctx context.Context, id model.GameID) (*model.Game, error) {
	var (
		game                 model.Game
		published            sql.NullString
		createdAt, updatedAt string
	)
	err := s.reader.QueryRowContext(ctx,
		`SELECT id, title, status, published_version_id, created_at, updated_at FROM games WHERE id = ?`, id,
	).Scan(&game.ID, &game.Title, &game.Status, &published, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game: %w", err)
	}

	game.PublishedVersionID = fromNullString[model.GameVersionID](published)
	if game.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if game.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &game, nil
}

const gameVersionColumns = `id, game_id, version_number, game_screen_code, controller_screen_code, created_at`

func (s *Storage) SaveGameVersion(ctx context.Context, version *model.GameVersion) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO game_versions (`+gameVersionColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     version_number = excluded.version_number,
		     game_screen_code = excluded.game_screen_code,
		     controller_screen_code = excluded.controller_screen_code`,
		version.ID, version.GameID, version.VersionNumber,
		version.GameScreenCode, version.ControllerScreenCode, formatTime(version.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save game version: %w", err)
	}
	return nil
}

func (s *Storage) GetGameVersion(ctx context.Context, id model.GameVersionID) (*model.GameVersion, error) {
	row := s.reader.QueryRowContext(ctx, `SELECT `+gameVersionColumns+` FROM game_versions WHERE id = ?`, id)
	return scanGameVersion(row)
}

func (s *Storage) LatestGameVersion(ctx context.Context, gameID model.GameID) (*model.GameVersion, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+gameVersionColumns+` FROM game_versions
		 WHERE game_id = ?
		 ORDER BY version_number DESC
		 LIMIT 1`, gameID)
	return scanGameVersion(row)
}

func scanGameVersion(row *sql.Row) (*model.GameVersion, error) {
	var (
		version   model.GameVersion
		createdAt string
	)
	err := row.Scan(&version.ID, &version.GameID, &version.VersionNumber,
		&version.GameScreenCode, &version.ControllerScreenCode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrGameVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan game version: %w", err)
	}
	if version.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &version, nil
}

// Column helpers

func isUniqueViolation(err error) bool {
	var serr *moderncsqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString[T ~string](v *T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func fromNullString[T ~string](s sql.NullString) *T {
	if !s.Valid {
		return nil
	}
	v := T(s.String)
	return &v
}
