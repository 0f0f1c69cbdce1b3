// Package places looks up organisations around a listing through an external
// place search API. Lookups are best effort: any failure yields fewer or no
// results, never an error to the caller.
package places

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/food-rescue/internal/geo"
	"github.com/example/food-rescue/internal/models"
)

type Place struct {
	PlaceID    string       `json:"place_id"`
	Name       string       `json:"name"`
	Vicinity   string       `json:"vicinity,omitempty"`
	Loc        models.Coord `json:"loc"`
	DistanceKm float64      `json:"distance_km"`
	MapsURL    string       `json:"maps_url"`
}

// Client is the interface used by the Finder to search around a point.
type Client interface {
	Nearby(ctx context.Context, loc models.Coord, keyword string) ([]Place, error)
}

// DefaultKeywords are the searches run for every lookup.
var DefaultKeywords = []string{"ngo", "charity", "non profit", "community center", "social service"}

// Cache is a tiny in-memory cache for search results keyed by coords and keyword.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	v  []Place
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(c models.Coord, keyword string) string {
	return fmt.Sprintf("%.4f,%.4f|%s", c.Lat, c.Lon, keyword)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(loc models.Coord, keyword string) ([]Place, bool) {
	k := keyFor(loc, keyword)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return nil, false
	}
	return e.v, true
}

func (c *Cache) Set(loc models.Coord, keyword string, v []Place) {
	k := keyFor(loc, keyword)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}

type Finder struct {
	Client   Client // nil disables lookups
	Cache    *Cache // optional
	Keywords []string
	Limit    int
	Log      *slog.Logger
}

func NewFinder(client Client, ttl time.Duration, log *slog.Logger) *Finder {
	return &Finder{Client: client, Cache: NewCache(ttl), Keywords: DefaultKeywords, Limit: 10, Log: log}
}

// Find merges the results of every keyword search around loc, de-duplicated
// by place id and ordered by distance.
func (f *Finder) Find(ctx context.Context, loc models.Coord) []Place {
	out := []Place{}
	if f == nil || f.Client == nil {
		return out
	}
	seen := make(map[string]bool)
	for _, kw := range f.Keywords {
		res, err := f.search(ctx, loc, kw)
		if err != nil {
			if f.Log != nil {
				f.Log.Warn("place search failed", "keyword", kw, "error", err)
			}
			continue
		}
		for _, p := range res {
			if p.PlaceID == "" || seen[p.PlaceID] {
				continue
			}
			seen[p.PlaceID] = true
			d := geo.DistanceKm(loc.Lat, loc.Lon, p.Loc.Lat, p.Loc.Lon)
			p.DistanceKm = math.Round(d*100) / 100
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (f *Finder) search(ctx context.Context, loc models.Coord, kw string) ([]Place, error) {
	if f.Cache != nil {
		if v, ok := f.Cache.Get(loc, kw); ok {
			return v, nil
		}
	}
	v, err := f.Client.Nearby(ctx, loc, kw)
	if err != nil {
		return nil, err
	}
	if f.Cache != nil {
		f.Cache.Set(loc, kw, v)
	}
	return v, nil
}
