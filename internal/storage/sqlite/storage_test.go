package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/storage"
	"github.com/mcoot/partyrelay/internal/storage/storagetest"
	"github.com/mcoot/partyrelay/internal/testutil"
)

func TestStorageConformance(t *testing.T) {
	suite.Run(t, &storagetest.Suite{
		New: func(t *testing.T) storage.Storage {
			store, err := NewMemory(testutil.NopLogger())
			require.NoError(t, err)
			return store
		},
	})
}

func TestLocalDatabaseSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	store, err := NewLocal(path, testutil.NopLogger())
	require.NoError(t, err)
	require.NoError(t, store.CreateSession(ctx, &model.Session{
		ID: "s1", Code: "ABCDE", Status: model.SessionStatusLobby, HostID: "host-1",
		MaxPlayers: 4, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, store.Close())

	// Reopening must not re-run applied migrations
	store, err = NewLocal(path, testutil.NopLogger())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetSessionByCode(ctx, "ABCDE")
	require.NoError(t, err)
	assert.Equal(t, model.SessionID("s1"), got.ID)
	assert.Equal(t, 4, got.MaxPlayers)
}

func TestTimesSortChronologically(t *testing.T) {
	early := time.Date(2024, 1, 1, 12, 0, 0, 500_000_000, time.UTC)
	late := time.Date(2024, 1, 1, 12, 0, 0, 500_010_000, time.UTC)
	assert.Less(t, formatTime(early), formatTime(late))
}
