package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/efreitasn/miniswap/internal/domain"
)

const openIndexDegree = 8

// openItem is one non-terminal trade in the deadline index.
type openItem struct {
	deadline time.Time
	id       uint64
}

// openLess orders the index by deadline ascending, then id ascending,
// so Ascend visits the trades closest to expiration first.
func openLess(a, b openItem) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.id < b.id
}

// Ledger is the append-only store of trade records. Records live in an
// arena indexed by their sequential id; ids are never reused and entries
// are never deleted or reordered. Get returns a copy, so an operation
// that fails simply never writes its copy back — Update is the single
// commit point.
//
// A secondary B-tree index tracks non-terminal trades ordered by their
// expiration deadline for the open-trade listing.
type Ledger struct {
	mu      sync.RWMutex
	trades  []domain.Trade
	open    *btree.BTreeG[openItem]
	timeout time.Duration
	journal *Journal
}

// NewLedger creates a ledger whose open-trade index orders entries by
// createdAt+timeout. When journal is non-nil every committed record is
// written through to it, and existing journal records are replayed into
// the arena before the ledger is returned.
func NewLedger(timeout time.Duration, journal *Journal) (*Ledger, error) {
	l := &Ledger{
		open:    btree.NewG[openItem](openIndexDegree, openLess),
		timeout: timeout,
		journal: journal,
	}
	if journal == nil {
		return l, nil
	}

	err := journal.Replay(func(t domain.Trade) error {
		if t.ID != uint64(len(l.trades)) {
			return fmt.Errorf("journal gap: got trade %d, want %d", t.ID, len(l.trades))
		}
		l.trades = append(l.trades, t)
		if !t.Status.Terminal() {
			l.open.ReplaceOrInsert(openItem{deadline: t.Deadline(timeout), id: t.ID})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	return l, nil
}

// Create appends a new record, assigning the next sequential id.
func (l *Ledger) Create(t domain.Trade) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t.ID = uint64(len(l.trades))
	if l.journal != nil {
		if err := l.journal.Put(t); err != nil {
			return 0, fmt.Errorf("journal trade %d: %w", t.ID, err)
		}
	}
	l.trades = append(l.trades, t)
	if !t.Status.Terminal() {
		l.open.ReplaceOrInsert(openItem{deadline: t.Deadline(l.timeout), id: t.ID})
	}
	return t.ID, nil
}

// Get returns a copy of the addressed record.
func (l *Ledger) Get(id uint64) (domain.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if id >= uint64(len(l.trades)) {
		return domain.Trade{}, fmt.Errorf("%w: trade %d", domain.ErrTradeNotFound, id)
	}
	return l.trades[id], nil
}

// Update commits a mutated copy back to the arena. The record keeps its
// slot; a trade reaching a terminal status leaves the open index.
func (l *Ledger) Update(t domain.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.ID >= uint64(len(l.trades)) {
		return fmt.Errorf("%w: trade %d", domain.ErrTradeNotFound, t.ID)
	}
	if l.journal != nil {
		if err := l.journal.Put(t); err != nil {
			return fmt.Errorf("journal trade %d: %w", t.ID, err)
		}
	}
	l.trades[t.ID] = t
	if t.Status.Terminal() {
		l.open.Delete(openItem{deadline: t.Deadline(l.timeout), id: t.ID})
	}
	return nil
}

// ListOpen returns copies of all non-terminal trades ordered by
// expiration deadline (soonest first).
func (l *Ledger) ListOpen() []domain.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.Trade, 0, l.open.Len())
	l.open.Ascend(func(item openItem) bool {
		result = append(result, l.trades[item.id])
		return true
	})
	return result
}

// Len returns the number of records ever created.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}
