package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mcoot/partyrelay/internal/dependencies/clock"
	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/storage"
)

// File is the on-disk catalogue format
type File struct {
	Games []GameEntry `json:"games"`
}

// GameEntry is one game and its versions
type GameEntry struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	// PublishedVersion names the version hosts get; the latest is used when unset
	PublishedVersion string         `json:"publishedVersion,omitempty"`
	Versions         []VersionEntry `json:"versions"`
}

// VersionEntry is one build of a game
type VersionEntry struct {
	ID                   string `json:"id"`
	VersionNumber        int    `json:"versionNumber"`
	GameScreenCode       string `json:"gameScreenCode"`
	ControllerScreenCode string `json:"controllerScreenCode"`
}

// Service seeds the game catalogue into storage
type Service struct {
	storage storage.Storage
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a new catalogue Service
func New(storage storage.Storage, clock clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		storage: storage,
		clock:   clock,
		logger:  logger.With(slog.String("component", "catalog")),
	}
}

// LoadFromFile loads a JSON catalogue file into storage
func (s *Service) LoadFromFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	return s.Load(ctx, file)
}

// Load decodes a catalogue and saves every game and version, returning the game count.
// Saving is an upsert, so loading the same file twice is harmless.
func (s *Service) Load(ctx context.Context, r io.Reader) (int, error) {
	var f File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return 0, fmt.Errorf("decode catalogue: %w", err)
	}

	for i, entry := range f.Games {
		if err := validate(entry); err != nil {
			return 0, fmt.Errorf("game %d: %w", i, err)
		}
	}

	for _, entry := range f.Games {
		if err := s.save(ctx, entry); err != nil {
			return 0, fmt.Errorf("save game %q: %w", entry.ID, err)
		}
	}

	s.logger.Info("catalogue loaded", slog.Int("games", len(f.Games)))
	return len(f.Games), nil
}

func (s *Service) save(ctx context.Context, entry GameEntry) error {
	now := s.clock.Now()

	for _, v := range entry.Versions {
		version := &model.GameVersion{
			ID:                   model.GameVersionID(v.ID),
			GameID:               model.GameID(entry.ID),
			VersionNumber:        v.VersionNumber,
			GameScreenCode:       v.GameScreenCode,
			ControllerScreenCode: v.ControllerScreenCode,
			CreatedAt:            now,
		}
		if err := s.storage.SaveGameVersion(ctx, version); err != nil {
			return err
		}
	}

	game := &model.Game{
		ID:        model.GameID(entry.ID),
		Title:     entry.Title,
		Status:    model.GameStatus(entry.Status),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if entry.PublishedVersion != "" {
		id := model.GameVersionID(entry.PublishedVersion)
		game.PublishedVersionID = &id
	}
	return s.storage.SaveGame(ctx, game)
}

func validate(entry GameEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch model.GameStatus(entry.Status) {
	case model.GameStatusDraft, model.GameStatusPublished, model.GameStatusArchived:
	default:
		return fmt.Errorf("invalid status %q", entry.Status)
	}

	seen := make(map[string]bool, len(entry.Versions))
	for _, v := range entry.Versions {
		if v.ID == "" {
			return fmt.Errorf("version id is required")
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate version %q", v.ID)
		}
		seen[v.ID] = true
	}
	if entry.PublishedVersion != "" && !seen[entry.PublishedVersion] {
		return fmt.Errorf("published version %q is not listed", entry.PublishedVersion)
	}
	return nil
}
