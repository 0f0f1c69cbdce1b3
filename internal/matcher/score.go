package matcher

import (
	"strings"
	"time"

	"github.com/example/food-rescue/internal/geo"
	"github.com/example/food-rescue/internal/models"
)

// Band awards Points when a measured value is at most Max.
type Band struct {
	Max    float64
	Points int
}

// Weights are the scoring constants. They are kept bit-for-bit compatible
// with scores already shown to suppliers and claimants, so change them only
// together with a data migration of stored rationale.
type Weights struct {
	Distance []Band // km, ascending
	Fallback int    // distance beyond every band

	CapacityBest       int // ratio in [BestLow, BestHigh]
	CapacityGood       int // ratio in [GoodLow, GoodHigh]
	CapacityAcceptable int // ratio >= AcceptableMin
	CapacityLow        int
	BestLow, BestHigh  float64
	GoodLow, GoodHigh  float64
	AcceptableMin      float64

	Urgency         []Band // whole hours to expiry, strictly below Max
	UrgencyFallback int

	DietaryDefault  int
	DietaryPerMatch int
	DietaryMax      int

	Total int
}

func DefaultWeights() Weights {
	return Weights{
		Distance: []Band{{2, 40}, {5, 30}, {10, 20}, {15, 10}},
		Fallback: 0,

		CapacityBest:       25,
		CapacityGood:       20,
		CapacityAcceptable: 15,
		CapacityLow:        10,
		BestLow:            0.2,
		BestHigh:           0.3,
		GoodLow:            0.1,
		GoodHigh:           0.5,
		AcceptableMin:      0.05,

		Urgency:         []Band{{1, 20}, {2, 15}, {4, 10}},
		UrgencyFallback: 5,

		DietaryDefault:  10,
		DietaryPerMatch: 5,
		DietaryMax:      15,

		Total: 100,
	}
}

// Breakdown is the per-component result of Score.
type Breakdown struct {
	Distance int `json:"distance"`
	Capacity int `json:"capacity"`
	Urgency  int `json:"urgency"`
	Dietary  int `json:"dietary"`
	Total    int `json:"total"`
}

// Score rates claimant c for listing l at time now, 0..100.
func (w Weights) Score(l models.Listing, c models.Claimant, now time.Time) int {
	return w.Breakdown(l, c, now).Total
}

func (w Weights) Breakdown(l models.Listing, c models.Claimant, now time.Time) Breakdown {
	dist := geo.DistanceKm(l.Loc.Lat, l.Loc.Lon, c.Loc.Lat, c.Loc.Lon)
	b := Breakdown{
		Distance: w.distancePoints(dist),
		Capacity: w.capacityPoints(l.Quantity, c.Capacity),
		Urgency:  w.urgencyPoints(models.HoursUntil(now, l.ExpiresAt)),
		Dietary:  w.dietaryPoints(l.DietaryInfo, c.DietaryRequirements),
	}
	b.Total = b.Distance + b.Capacity + b.Urgency + b.Dietary
	if b.Total > w.Total {
		b.Total = w.Total
	}
	if b.Total < 0 {
		b.Total = 0
	}
	return b
}

func (w Weights) distancePoints(km float64) int {
	for _, band := range w.Distance {
		if km <= band.Max {
			return band.Points
		}
	}
	return w.Fallback
}

// capacityPoints compares quantity against fractions of capacity, so a zero
// capacity behaves like an unbounded ratio.
func (w Weights) capacityPoints(quantity, capacity int) int {
	q, c := float64(quantity), float64(capacity)
	switch {
	case q >= c*w.BestLow && q <= c*w.BestHigh:
		return w.CapacityBest
	case q >= c*w.GoodLow && q <= c*w.GoodHigh:
		return w.CapacityGood
	case q >= c*w.AcceptableMin:
		return w.CapacityAcceptable
	default:
		return w.CapacityLow
	}
}

func (w Weights) urgencyPoints(hours int64) int {
	for _, band := range w.Urgency {
		if float64(hours) < band.Max {
			return band.Points
		}
	}
	return w.UrgencyFallback
}

func (w Weights) dietaryPoints(listingInfo, requirements string) int {
	info := strings.ToLower(strings.TrimSpace(listingInfo))
	reqs := strings.ToLower(strings.TrimSpace(requirements))
	if info == "" || reqs == "" {
		return w.DietaryDefault
	}
	tokens := strings.Split(reqs, ",")
	if requiresVegetarian(tokens) && strings.Contains(info, "non-veg") {
		return 0
	}
	matches := 0
	for _, r := range tokens {
		r = strings.TrimSpace(r)
		if r != "" && strings.Contains(info, r) {
			matches++
		}
	}
	if pts := matches * w.DietaryPerMatch; pts < w.DietaryMax {
		return pts
	}
	return w.DietaryMax
}

// requiresVegetarian matches "veg", "vegetarian" and "vegan" but not a
// claimant that explicitly accepts "non-veg".
func requiresVegetarian(tokens []string) bool {
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if strings.Contains(t, "veg") && !strings.Contains(t, "non-veg") {
			return true
		}
	}
	return false
}
