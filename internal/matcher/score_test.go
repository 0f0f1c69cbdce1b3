package matcher

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/food-rescue/internal/geo"
	"github.com/example/food-rescue/internal/models"
)

var now = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

// kmNorth is the latitude delta that puts a point km north of the equator.
func kmNorth(km float64) float64 { return km / (geo.EarthRadiusKm * math.Pi / 180) }

func listingAt(qty int, expiresIn time.Duration, dietary string) models.Listing {
	return models.Listing{ID: "l1", Quantity: qty, ExpiresAt: now.Add(expiresIn), DietaryInfo: dietary}
}

func claimantAt(id string, km float64, capacity int, dietary string) models.Claimant {
	return models.Claimant{ID: id, Loc: models.Coord{Lat: kmNorth(km)}, Capacity: capacity, DietaryRequirements: dietary}
}

func TestScoreWorkedExample(t *testing.T) {
	w := DefaultWeights()
	b := w.Breakdown(listingAt(25, 30*time.Minute, ""), claimantAt("c", 3, 100, ""), now)
	require.Equal(t, Breakdown{Distance: 30, Capacity: 25, Urgency: 20, Dietary: 10, Total: 85}, b)
}

func TestDistancePoints(t *testing.T) {
	w := DefaultWeights()
	cases := map[float64]int{0: 40, 2: 40, 2.01: 30, 5: 30, 9.9: 20, 10: 20, 14: 10, 15: 10, 15.1: 0, 24: 0}
	for km, want := range cases {
		require.Equal(t, want, w.distancePoints(km), "%.2f km", km)
	}
}

func TestCapacityPoints(t *testing.T) {
	w := DefaultWeights()
	cases := []struct {
		qty, capacity, want int
	}{
		{20, 100, 25},
		{30, 100, 25},
		{25, 100, 25},
		{10, 100, 20},
		{50, 100, 20},
		{31, 100, 20},
		{51, 100, 15},
		{500, 100, 15},
		{5, 100, 15},
		{4, 100, 10},
		{10, 0, 15},
		{1, 0, 15},
	}
	for _, c := range cases {
		require.Equal(t, c.want, w.capacityPoints(c.qty, c.capacity), "qty=%d cap=%d", c.qty, c.capacity)
	}
}

func TestUrgencyPoints(t *testing.T) {
	w := DefaultWeights()
	require.Equal(t, 20, w.urgencyPoints(0))
	require.Equal(t, 20, w.urgencyPoints(-3))
	require.Equal(t, 15, w.urgencyPoints(1))
	require.Equal(t, 10, w.urgencyPoints(2))
	require.Equal(t, 10, w.urgencyPoints(3))
	require.Equal(t, 5, w.urgencyPoints(4))
}

func TestDietaryPoints(t *testing.T) {
	w := DefaultWeights()
	require.Equal(t, 10, w.dietaryPoints("", "veg"))
	require.Equal(t, 10, w.dietaryPoints("vegetarian", "  "))
	require.Equal(t, 0, w.dietaryPoints("Non-Veg, chicken curry", "Veg, halal"))
	require.Equal(t, 5, w.dietaryPoints("vegetarian, no onion", "vegetarian"))
	require.Equal(t, 10, w.dietaryPoints("halal, gluten-free rice", "halal, gluten-free"))
	require.Equal(t, 15, w.dietaryPoints("jain halal nut-free dairy-free", "jain,halal,nut-free,dairy-free"))
	require.Equal(t, 0, w.dietaryPoints("vegan", "halal"))
	// accepting non-veg food is not a vegetarian requirement
	require.Equal(t, 5, w.dietaryPoints("non-veg biryani", "non-veg"))
	require.Equal(t, 5, w.dietaryPoints("halal", "halal,"))
}

func TestScoreBoundsAndDeterminism(t *testing.T) {
	w := DefaultWeights()
	rng := rand.New(rand.NewSource(7))
	diets := []string{"", "veg", "non-veg", "halal", "veg, halal", "vegan, nut-free, jain"}
	for i := 0; i < 2000; i++ {
		l := listingAt(rng.Intn(400), time.Duration(rng.Intn(600)-60)*time.Minute, diets[rng.Intn(len(diets))])
		c := claimantAt("c", rng.Float64()*40, rng.Intn(1000)-5, diets[rng.Intn(len(diets))])
		s1 := w.Score(l, c, now)
		s2 := w.Score(l, c, now)
		require.Equal(t, s1, s2)
		require.GreaterOrEqual(t, s1, 0)
		require.LessOrEqual(t, s1, 100)
	}
}
