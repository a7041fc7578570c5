package metadata

import (
	"context"
	"sync"
)

type cacheKey struct {
	field string
	nick  string
}

type cacheEntry struct {
	i  int64
	f  float64
	b  bool
	ok bool
}

// Cached remembers answers of lookup per nickname. Errors are not remembered.
func Cached(lookup Lookup) Lookup {
	return &cached{base: lookup, entries: map[cacheKey]cacheEntry{}}
}

type cached struct {
	base    Lookup
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func (c *cached) get(key cacheKey, miss func() (cacheEntry, error)) (cacheEntry, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return e, nil
	}

	e, err := miss()
	if err != nil {
		return cacheEntry{}, err
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e, nil
}

func (c *cached) GeneratedEvents(ctx context.Context, nick string) (int64, bool, error) {
	e, err := c.get(cacheKey{"events", nick}, func() (cacheEntry, error) {
		v, ok, err := c.base.GeneratedEvents(ctx, nick)
		return cacheEntry{i: v, ok: ok}, err
	})
	return e.i, e.ok, err
}

func (c *cached) CrossSection(ctx context.Context, nick string) (float64, bool, error) {
	e, err := c.get(cacheKey{"xsec", nick}, func() (cacheEntry, error) {
		v, ok, err := c.base.CrossSection(ctx, nick)
		return cacheEntry{f: v, ok: ok}, err
	})
	return e.f, e.ok, err
}

func (c *cached) GeneratorWeight(ctx context.Context, nick string) (float64, bool, error) {
	e, err := c.get(cacheKey{"weight", nick}, func() (cacheEntry, error) {
		v, ok, err := c.base.GeneratorWeight(ctx, nick)
		return cacheEntry{f: v, ok: ok}, err
	})
	return e.f, e.ok, err
}

func (c *cached) IsData(ctx context.Context, nick string) (bool, error) {
	e, err := c.get(cacheKey{"data", nick}, func() (cacheEntry, error) {
		v, err := c.base.IsData(ctx, nick)
		return cacheEntry{b: v, ok: true}, err
	})
	return e.b, err
}
