package order

import (
	"sync"
	"time"
)

// SideTable maps order ids to symbols.
type SideTable struct {
	mu      sync.RWMutex
	symbols map[string]sideEntry
	ttl     time.Duration
	now     func() time.Time
}

type sideEntry struct {
	symbol string
	seen   time.Time
}

// NewSideTable creates a table whose entries are forgotten after ttl
// without updates. A zero ttl keeps entries forever.
func NewSideTable(ttl time.Duration) *SideTable {
	return &SideTable{
		symbols: make(map[string]sideEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put records the symbol of an order.
func (t *SideTable) Put(orderID, symbol string) {
	if orderID == "" || symbol == "" {
		return
	}
	t.mu.Lock()
	t.symbols[orderID] = sideEntry{symbol: symbol, seen: t.now()}
	t.mu.Unlock()
}

// Symbol returns the symbol of an order.
func (t *SideTable) Symbol(orderID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.symbols[orderID]
	if !ok || (t.ttl > 0 && t.now().Sub(e.seen) >= t.ttl) {
		return "", false
	}
	return e.symbol, true
}

// Delete forgets an order.
func (t *SideTable) Delete(orderID string) {
	t.mu.Lock()
	delete(t.symbols, orderID)
	t.mu.Unlock()
}

// Purge drops expired entries.
func (t *SideTable) Purge() int {
	if t.ttl <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var n int
	for id, e := range t.symbols {
		if now.Sub(e.seen) >= t.ttl {
			delete(t.symbols, id)
			n++
		}
	}
	return n
}
