package feed

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Level is one aggregated price level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookView is a materialized, sorted order book.
type BookView struct {
	InstID   string
	Bids     []Level // price descending
	Asks     []Level // price ascending
	Ts       int64   // upstream ms timestamp
	Snapshot bool
}

// OrderBookState holds the price-level maps for one instrument. The maps
// are the source of truth; every view is rebuilt from them.
type OrderBookState struct {
	instID string
	bids   map[string]Level
	asks   map[string]Level
}

// NewOrderBookState returns an empty book.
func NewOrderBookState(instID string) *OrderBookState {
	return &OrderBookState{
		instID: instID,
		bids:   make(map[string]Level),
		asks:   make(map[string]Level),
	}
}

// Reset clears both sides.
func (b *OrderBookState) Reset() {
	clear(b.bids)
	clear(b.asks)
}

// ApplySnapshot clears both sides and loads the given levels.
func (b *OrderBookState) ApplySnapshot(bids, asks [][]string) error {
	b.Reset()
	return b.ApplyDelta(bids, asks)
}

// ApplyDelta upserts each level; a size of zero or less removes it. Rows
// are upstream string arrays [price, size, ...].
func (b *OrderBookState) ApplyDelta(bids, asks [][]string) error {
	if err := applySide(b.bids, bids); err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	if err := applySide(b.asks, asks); err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	return nil
}

func applySide(side map[string]Level, rows [][]string) error {
	for _, row := range rows {
		if len(row) < 2 {
			return fmt.Errorf("level has %d fields", len(row))
		}
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			return fmt.Errorf("price %q: %w", row[0], err)
		}
		size, err := decimal.NewFromString(row[1])
		if err != nil {
			return fmt.Errorf("size %q: %w", row[1], err)
		}

		key := price.String()
		if !size.IsPositive() {
			delete(side, key)
			continue
		}
		side[key] = Level{Price: price, Size: size}
	}
	return nil
}

// View returns both sides sorted and truncated to depth levels each.
// depth <= 0 returns every level.
func (b *OrderBookState) View(depth int) BookView {
	bids := sortedLevels(b.bids, func(x, y decimal.Decimal) bool { return x.GreaterThan(y) }, depth)
	asks := sortedLevels(b.asks, func(x, y decimal.Decimal) bool { return x.LessThan(y) }, depth)
	return BookView{InstID: b.instID, Bids: bids, Asks: asks}
}

// Len returns the number of bid and ask levels held.
func (b *OrderBookState) Len() (bids, asks int) {
	return len(b.bids), len(b.asks)
}

func sortedLevels(side map[string]Level, less func(x, y decimal.Decimal) bool, depth int) []Level {
	levels := make([]Level, 0, len(side))
	for _, l := range side {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return less(levels[i].Price, levels[j].Price) })
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}
