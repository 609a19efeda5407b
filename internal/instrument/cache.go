package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/astras-gateway/internal/api"
)

var ErrUnknownInstrument = errors.New("unknown instrument")

// Lister fetches every instrument of one class.
type Lister interface {
	ListInstruments(ctx context.Context, instType string) ([]api.Instrument, error)
}

// Config holds instrument cache configuration.
type Config struct {
	TTL     time.Duration
	Classes []string

	// MissRefresh is the minimum table age before a miss forces a rebuild.
	MissRefresh time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:         10 * time.Minute,
		Classes:     []string{api.InstTypeSpot, api.InstTypeSwap},
		MissRefresh: 10 * time.Second,
	}
}

type key struct {
	class  string
	symbol string
}

// Cache maps (class, symbol) to upstream instruments. The table is rebuilt
// wholesale from the upstream when it expires or on a miss; concurrent
// rebuilds are collapsed into one.
type Cache struct {
	cfg    Config
	source Lister
	logger *slog.Logger

	mu       sync.RWMutex
	byKey    map[key]api.Instrument
	bySymbol map[string]api.Instrument
	builtAt  time.Time

	group singleflight.Group
	now   func() time.Time
}

// NewCache creates an empty cache. The first lookup builds the table.
func NewCache(cfg Config, source Lister, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = def.Classes
	}
	if cfg.MissRefresh <= 0 {
		cfg.MissRefresh = def.MissRefresh
	}
	return &Cache{
		cfg:    cfg,
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve returns the instrument for symbol. An empty class matches any
// configured class.
func (c *Cache) Resolve(ctx context.Context, class, symbol string) (api.Instrument, error) {
	inst, ok, built := c.lookup(class, symbol)
	age := c.now().Sub(built)
	fresh := !built.IsZero() && age < c.cfg.TTL
	if ok && fresh {
		return inst, nil
	}
	if ok || !fresh || age >= c.cfg.MissRefresh {
		if err := c.refresh(ctx, built); err != nil {
			if ok {
				// Serve the stale entry rather than fail.
				c.logger.Warn("instrument refresh failed, serving stale entry", "symbol", symbol, "err", err)
				return inst, nil
			}
			return api.Instrument{}, err
		}
		if inst, ok, _ = c.lookup(class, symbol); ok {
			return inst, nil
		}
	}
	return api.Instrument{}, fmt.Errorf("%w: %s %s", ErrUnknownInstrument, class, symbol)
}

// List returns every cached instrument of class, or of all classes when
// class is empty, sorted by symbol.
func (c *Cache) List(ctx context.Context, class string) ([]api.Instrument, error) {
	c.mu.RLock()
	fresh := !c.builtAt.IsZero() && c.now().Sub(c.builtAt) < c.cfg.TTL
	built := c.builtAt
	c.mu.RUnlock()
	if !fresh {
		if err := c.refresh(ctx, built); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]api.Instrument, 0, len(c.byKey))
	for k, inst := range c.byKey {
		if class == "" || k.class == class {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstID < out[j].InstID })
	return out, nil
}

// Len returns the number of cached instruments.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// Run rebuilds the table every TTL until ctx is done.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.refresh(ctx, c.builtAtSnapshot()); err != nil {
				c.logger.Error("instrument refresh failed", "err", err)
			}
		}
	}
}

func (c *Cache) lookup(class, symbol string) (inst api.Instrument, ok bool, built time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if class == "" {
		inst, ok = c.bySymbol[symbol]
	} else {
		inst, ok = c.byKey[key{class, symbol}]
	}
	return inst, ok, c.builtAt
}

func (c *Cache) builtAtSnapshot() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.builtAt
}

// refresh rebuilds the table unless it was rebuilt after seen.
func (c *Cache) refresh(ctx context.Context, seen time.Time) error {
	ch := c.group.DoChan("rebuild", func() (any, error) {
		c.mu.RLock()
		rebuilt := c.builtAt.After(seen)
		c.mu.RUnlock()
		if rebuilt {
			return nil, nil
		}
		// Shared by every waiting caller, so detach from this one.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		return nil, c.rebuild(rctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) rebuild(ctx context.Context) error {
	start := c.now()
	byKey := make(map[key]api.Instrument)
	bySymbol := make(map[string]api.Instrument)

	for _, class := range c.cfg.Classes {
		instruments, err := c.source.ListInstruments(ctx, class)
		if err != nil {
			return err
		}
		for _, inst := range instruments {
			byKey[key{class, inst.InstID}] = inst
			if _, dup := bySymbol[inst.InstID]; !dup {
				bySymbol[inst.InstID] = inst
			}
		}
	}

	c.mu.Lock()
	c.byKey = byKey
	c.bySymbol = bySymbol
	c.builtAt = c.now()
	c.mu.Unlock()

	c.logger.Info("instrument cache rebuilt",
		"instruments", len(byKey),
		"classes", c.cfg.Classes,
		"duration", c.now().Sub(start),
	)
	return nil
}
