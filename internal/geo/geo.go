package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/food-rescue/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// Pool is the candidate claimant index used by the matcher and handlers.
type Pool interface {
	WithinRadius(ctx context.Context, lat, lon, radiusKm float64) ([]models.Claimant, error)
	Upsert(ctx context.Context, c models.Claimant) error
}

type Index struct {
	mu        sync.RWMutex
	claimants map[string]models.Claimant
}

func NewIndex() *Index {
	return &Index{claimants: make(map[string]models.Claimant)}
}

func (g *Index) Upsert(_ context.Context, c models.Claimant) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c.Updated = time.Now()
	g.claimants[c.ID] = c
	return nil
}

func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimants, id)
}

// naive scan; fine for a few thousand claimants per region
func (g *Index) WithinRadius(_ context.Context, lat, lon, radiusKm float64) ([]models.Claimant, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Claimant, 0, len(g.claimants))
	for _, c := range g.claimants {
		if DistanceKm(lat, lon, c.Loc.Lat, c.Loc.Lon) <= radiusKm {
			out = append(out, c)
		}
	}
	return out, nil
}

// DistanceKm is the haversine great-circle distance in kilometres.
// Callers validate coordinates with ValidCoord first.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func ValidCoord(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
