package session

import (
	"context"

	"github.com/mcoot/partyrelay/internal/dependencies/random"
	"github.com/mcoot/partyrelay/internal/metrics"
	"github.com/mcoot/partyrelay/internal/model"
	"github.com/mcoot/partyrelay/internal/storage"
)

const (
	// CodeLength is the length of generated session codes
	CodeLength = 5
	// CodeAlphabet is the characters used in session codes (no 0/O or 1/I/L)
	CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	// MaxCodeAttempts bounds how many codes are tried before giving up
	MaxCodeAttempts = 20
)

// CodeAllocator generates join codes not held by any non-ended session
type CodeAllocator struct {
	storage storage.Storage
	random  random.Random
}

// NewCodeAllocator creates a new CodeAllocator
func NewCodeAllocator(storage storage.Storage, random random.Random) *CodeAllocator {
	return &CodeAllocator{
		storage: storage,
		random:  random,
	}
}

// Allocate returns a code that is currently free. Codes of ended sessions
// may be handed out again.
func (a *CodeAllocator) Allocate(ctx context.Context) (model.SessionCode, error) {
	for range MaxCodeAttempts {
		code := model.SessionCode(a.random.String(CodeLength, CodeAlphabet))
		exists, err := a.storage.ActiveSessionCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
		metrics.CodeCollisions.Inc()
	}
	return "", model.ErrCodeSpaceExhausted
}
