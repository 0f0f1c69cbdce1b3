package geo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/food-rescue/internal/models"
)

func TestDistanceKmZero(t *testing.T) {
	require.Zero(t, DistanceKm(12.97, 77.59, 12.97, 77.59))
}

func TestDistanceKmKnownPairs(t *testing.T) {
	// one degree of latitude on a 6371 km sphere
	require.InDelta(t, 111.195, DistanceKm(0, 0, 1, 0), 0.01)
	// London -> Paris
	require.InDelta(t, 343.5, DistanceKm(51.5074, -0.1278, 48.8566, 2.3522), 1.0)
	// symmetric
	require.InDelta(t, DistanceKm(10, 20, 11, 21), DistanceKm(11, 21, 10, 20), 1e-9)
}

func TestValidCoord(t *testing.T) {
	require.True(t, ValidCoord(-90, 180))
	require.False(t, ValidCoord(90.1, 0))
	require.False(t, ValidCoord(0, -180.5))
}

func TestIndexWithinRadius(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Upsert(ctx, models.Claimant{ID: "near", Loc: models.Coord{Lat: 0, Lon: 0.01}}))
	require.NoError(t, idx.Upsert(ctx, models.Claimant{ID: "far", Loc: models.Coord{Lat: 0, Lon: 1}}))

	got, err := idx.WithinRadius(ctx, 0, 0, 25)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "near", got[0].ID)

	idx.Remove("near")
	got, err = idx.WithinRadius(ctx, 0, 0, 25)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestApplyMeta(t *testing.T) {
	c := models.Claimant{ID: "c1"}
	applyMeta(&c, map[string]string{"name": "Shelter", "capacity": "120", "dietary": "veg", "phone": "+15550001"})
	require.Equal(t, 120, c.Capacity)
	require.Equal(t, "Shelter", c.Name)
	require.Equal(t, "veg", c.DietaryRequirements)
}
