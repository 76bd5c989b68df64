package session

import (
	"hash/maphash"
	"sync"

	"github.com/mcoot/partyrelay/internal/model"
)

// lockStripes must be a power of two
const lockStripes = 64

// sessionLocks serializes mutations of one session within this process.
// Unrelated sessions only contend when they hash to the same stripe.
type sessionLocks struct {
	seed    maphash.Seed
	stripes [lockStripes]sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{seed: maphash.MakeSeed()}
}

// lock acquires the stripe for id and returns its unlock function
func (l *sessionLocks) lock(id model.SessionID) func() {
	m := &l.stripes[maphash.String(l.seed, string(id))&(lockStripes-1)]
	m.Lock()
	return m.Unlock
}
