package request

// CreateSessionRequest is the request body for creating a session
type CreateSessionRequest struct {
	MaxPlayers *int `json:"maxPlayers,omitempty"`
}

// JoinSessionRequest is the request body for joining a session
type JoinSessionRequest struct {
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
}

// LoadGameRequest is the request body for loading a game into a session
type LoadGameRequest struct {
	GameID string `json:"gameId"`
}
