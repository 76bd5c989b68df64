package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/services/auth"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotHost             = "NOT_HOST"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodePlayerNotFound      = "PLAYER_NOT_FOUND"
	CodeGameNotFound        = "GAME_NOT_FOUND"
	CodeGameVersionNotFound = "GAME_VERSION_NOT_FOUND"
	CodeSessionEnded        = "SESSION_ENDED"
	CodeSessionAlreadyEnded = "SESSION_ALREADY_ENDED"
	CodeSessionFull         = "SESSION_FULL"
	CodeInvalidDisplayName  = "INVALID_DISPLAY_NAME"
	CodeGameNotPublished    = "GAME_NOT_PUBLISHED"
	CodePlayerNotInSession  = "PLAYER_NOT_IN_SESSION"
	CodeInvalidRole         = "INVALID_ROLE"
	CodeInternalError       = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// WritePanic answers a request whose handler panicked with a generic internal error
func WritePanic(w http.ResponseWriter, _ *http.Request, _ any) {
	WriteError(w, NewInternalError())
}

// Status returns the HTTP status err maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// IsInternal reports whether err is not one of the known client-facing errors
func IsInternal(err error) bool {
	return toHTTPError(err).status >= http.StatusInternalServerError
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	switch {
	// Not found
	case errors.Is(err, model.ErrSessionNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeSessionNotFound, "Session not found"}}
	case errors.Is(err, model.ErrPlayerNotFound):
		return &httpError{http.StatusNotFound, APIError{CodePlayerNotFound, "Player not found"}}
	case errors.Is(err, model.ErrGameNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeGameNotFound, "Game not found"}}
	case errors.Is(err, model.ErrGameVersionNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeGameVersionNotFound, "Game has no versions"}}

	// Ownership
	case errors.Is(err, model.ErrNotHost):
		return &httpError{http.StatusForbidden, APIError{CodeNotHost, "Only the host can perform this action"}}

	// Session rules
	case errors.Is(err, model.ErrSessionEnded):
		return &httpError{http.StatusBadRequest, APIError{CodeSessionEnded, "Session has ended"}}
	case errors.Is(err, model.ErrSessionAlreadyEnded):
		return &httpError{http.StatusBadRequest, APIError{CodeSessionAlreadyEnded, "Session is already ended"}}
	case errors.Is(err, model.ErrSessionFull):
		return &httpError{http.StatusBadRequest, APIError{CodeSessionFull, "Session is full"}}
	case errors.Is(err, model.ErrInvalidDisplayName):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidDisplayName, "Display name must be between 1 and 100 characters"}}
	case errors.Is(err, model.ErrGameNotPublished):
		return &httpError{http.StatusBadRequest, APIError{CodeGameNotPublished, "Game is not published"}}

	// Connection upgrade
	case errors.Is(err, model.ErrPlayerNotInSession):
		return &httpError{http.StatusBadRequest, APIError{CodePlayerNotInSession, "Player does not belong to this session"}}
	case errors.Is(err, model.ErrInvalidRole):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidRole, "Role must be 'host' or 'player'"}}
	case errors.Is(err, model.ErrPlayerIDRequired):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, "playerId is required for player connections"}}

	// Auth
	case errors.Is(err, auth.ErrMissingToken):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
	case errors.Is(err, auth.ErrInvalidToken):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Invalid or expired token"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
