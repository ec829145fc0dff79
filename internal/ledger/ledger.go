/*

This file contains the in-memory position ledger.

The ledger is the single owner of all Position records. Transitions read a
copy of the record they operate on, compute the full post-transition state,
and commit it back in one step; no caller ever holds a reference into the
ledger's own storage. Positions are created lazily on first deposit and never
deleted.

*/

package ledger

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solmint/sce/internal/types"
)

// Ledger maps depositor identities to their position records.
type Ledger struct {
	mu        sync.RWMutex
	positions map[solana.PublicKey]types.Position
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		positions: make(map[solana.PublicKey]types.Position),
	}
}

// Load seeds the ledger from a durable image. Existing entries are replaced.
func (l *Ledger) Load(positions []types.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		l.positions[p.Owner] = p
	}
}

// Get returns a copy of the owner's position and whether one exists.
func (l *Ledger) Get(owner solana.PublicKey) (types.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[owner]
	return p, ok
}

// Commit stores the given position as the new authoritative record for its
// owner. The caller must have fully validated the state being committed.
func (l *Ledger) Commit(p types.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p.UpdatedAt = time.Now()
	l.positions[p.Owner] = p
}

// All returns a copy of every position in the ledger.
func (l *Ledger) All() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// Count returns the number of positions ever created.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}
