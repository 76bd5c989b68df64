package model

import "errors"

// Common errors used across the application
var (
	// Not found
	ErrSessionNotFound     = errors.New("session not found")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrGameNotFound        = errors.New("game not found")
	ErrGameVersionNotFound = errors.New("no game version found")

	// Ownership
	ErrNotHost = errors.New("caller is not the session host")

	// Session rules
	ErrSessionEnded        = errors.New("session has ended")
	ErrSessionAlreadyEnded = errors.New("session is already ended")
	ErrSessionFull         = errors.New("session is full")
	ErrInvalidDisplayName  = errors.New("display name must be between 1 and 100 characters")
	ErrGameNotPublished    = errors.New("game is not published")

	// Connection upgrade
	ErrPlayerNotInSession = errors.New("player does not belong to this session")
	ErrInvalidRole        = errors.New("role must be 'host' or 'player'")
	ErrPlayerIDRequired   = errors.New("playerId is required for player connections")

	// Code allocation
	ErrSessionCodeInUse   = errors.New("session code is held by an active session")
	ErrCodeSpaceExhausted = errors.New("failed to generate unique session code")
)
