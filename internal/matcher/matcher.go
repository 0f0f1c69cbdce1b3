package matcher

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/example/food-rescue/internal/config"
	"github.com/example/food-rescue/internal/geo"
	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/observability"
)

// Pool supplies claimants around a point.
type Pool interface {
	WithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]models.Claimant, error)
}

type Config struct {
	MaxRadiusKm float64
	Weights     Weights
}

func NewConfig(m config.Matching) Config {
	return Config{MaxRadiusKm: m.MaxRadiusKm, Weights: DefaultWeights()}
}

func DefaultConfig() Config { return NewConfig(config.DefaultMatching()) }

type Service struct {
	Pool   Pool
	Config Config
	Now    func() time.Time // defaults to time.Now
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) Score(l models.Listing, c models.Claimant) int {
	return s.Config.Weights.Score(l, c, s.now())
}

// Candidates ranks the claimants around l and returns one page of them.
func (s *Service) Candidates(ctx context.Context, l models.Listing, limit, offset int) ([]models.MatchCandidate, error) {
	start := time.Now()
	defer func() { observability.RankLatency.Observe(time.Since(start).Seconds()) }()

	pool, err := s.Pool.WithinRadius(ctx, l.Loc.Lat, l.Loc.Lon, s.Config.MaxRadiusKm)
	if err != nil {
		return nil, fmt.Errorf("candidate pool: %w", err)
	}
	return Rank(s.Config, l, pool, limit, offset, s.now()), nil
}

// Rank scores every claimant of pool within the matching radius and returns
// the page [offset, offset+limit) ordered by score, then distance, then id.
// A non-positive limit returns everything from offset on.
func Rank(cfg Config, l models.Listing, pool []models.Claimant, limit, offset int, now time.Time) []models.MatchCandidate {
	type scored struct {
		c    models.MatchCandidate
		dist float64
	}
	list := make([]scored, 0, len(pool))
	for _, c := range pool {
		dist := geo.DistanceKm(l.Loc.Lat, l.Loc.Lon, c.Loc.Lat, c.Loc.Lon)
		if dist > cfg.MaxRadiusKm {
			continue
		}
		list = append(list, scored{
			c: models.MatchCandidate{
				Claimant:   c,
				Score:      cfg.Weights.Score(l, c, now),
				Reason:     Reason(l, c, dist, now),
				DistanceKm: math.Round(dist*100) / 100,
			},
			dist: dist,
		})
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.c.Score != b.c.Score {
			return a.c.Score > b.c.Score
		}
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		return a.c.Claimant.ID < b.c.Claimant.ID
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []models.MatchCandidate{}
	}
	end := len(list)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]models.MatchCandidate, 0, end-offset)
	for _, s := range list[offset:end] {
		out = append(out, s.c)
	}
	return out
}

// Reason is the human-readable rationale shown next to a score.
func Reason(l models.Listing, c models.Claimant, distKm float64, now time.Time) string {
	var parts []string
	switch {
	case distKm < 2:
		parts = append(parts, fmt.Sprintf("Very close proximity (%.1f km).", distKm))
	case distKm < 5:
		parts = append(parts, fmt.Sprintf("Within nearby area (%.1f km).", distKm))
	}
	ideal := int(float64(c.Capacity) * 0.25)
	if d := l.Quantity - ideal; d > -20 && d < 20 {
		parts = append(parts, "Quantity matches your beneficiary needs.")
	}
	if models.HoursUntil(now, l.ExpiresAt) < 2 {
		parts = append(parts, "Urgent pickup needed - expires soon!")
	}
	return strings.Join(parts, " ")
}
