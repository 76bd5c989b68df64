package factory

import (
	"time"

	"github.com/mcoot/partyrelay/internal/dependencies/mocks"
	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/relay"
	"github.com/mcoot/partyrelay/internal/services/auth"
	"github.com/mcoot/partyrelay/internal/storage/memory"
	"github.com/mcoot/partyrelay/internal/testutil"
)

// TestSecret signs tokens issued by a TestApp
const TestSecret = "test-secret"

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	authCfg := auth.DefaultConfig()
	authCfg.Secret = TestSecret

	app, err := newWithDependencies(store, mockClock, mockRandom, authCfg, relay.DefaultConfig(), testutil.NopLogger())
	if err != nil {
		panic(err)
	}

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}

// HostToken issues an access token for the given host user
func (t *TestApp) HostToken(userID string) string {
	token, _, err := t.AuthService.IssueAccessToken(model.UserID(userID), "host")
	if err != nil {
		panic(err)
	}
	return token
}
