package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/food-rescue/internal/config"
	"github.com/example/food-rescue/internal/logging"
	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/storage"
)

var now = time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

type page struct {
	listing       string
	limit, offset int
}

// fakeRanker serves pages from a fixed list of claimants.
type fakeRanker struct {
	mu    sync.Mutex
	pool  []models.Claimant
	fail  map[string]bool
	pages []page
}

func (f *fakeRanker) Candidates(_ context.Context, l models.Listing, limit, offset int) ([]models.MatchCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, page{l.ID, limit, offset})
	if f.fail[l.ID] {
		return nil, errors.New("pool unavailable")
	}
	out := []models.MatchCandidate{}
	for i := offset; i < len(f.pool) && i < offset+limit; i++ {
		out = append(out, models.MatchCandidate{Claimant: f.pool[i]})
	}
	return out, nil
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls [][]string
	msgs  []string
}

func (r *recordingDispatcher) Deliver(_ context.Context, to []models.Contact, message string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(to))
	for i, c := range to {
		ids[i] = c.ID
	}
	r.calls = append(r.calls, ids)
	r.msgs = append(r.msgs, message)
	return len(to)
}

type fixture struct {
	s     *Scheduler
	store *storage.MemoryStore
	rank  *fakeRanker
	disp  *recordingDispatcher
	clock time.Time
}

func newFixture(poolSize int) *fixture {
	f := &fixture{store: storage.NewMemoryStore(), rank: &fakeRanker{fail: map[string]bool{}}, disp: &recordingDispatcher{}, clock: now}
	for i := 0; i < poolSize; i++ {
		f.rank.pool = append(f.rank.pool, models.Claimant{ID: fmt.Sprintf("ngo-%02d", i)})
	}
	f.s = New(f.store, f.rank, f.disp, config.DefaultEscalation(), "FoodRescue", logging.Discard())
	f.s.Now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) add(t *testing.T, id string, ttl time.Duration, last time.Time) {
	t.Helper()
	require.NoError(t, f.store.CreateListing(context.Background(), &models.Listing{
		ID: id, FoodName: "Dal", SupplierName: "Bistro", Quantity: 10,
		Status: models.ListingAvailable, ExpiresAt: now.Add(ttl), BatchIndex: 1, LastEscalation: last,
	}))
}

func (f *fixture) state(t *testing.T, id string) (int, time.Time) {
	t.Helper()
	l, err := f.store.GetListing(context.Background(), id)
	require.NoError(t, err)
	return l.BatchIndex, l.LastEscalation
}

func (f *fixture) tick(t *testing.T) Stats {
	t.Helper()
	st, err := f.s.Tick(context.Background())
	require.NoError(t, err)
	return st
}

func TestFirstObservationStartsClock(t *testing.T) {
	f := newFixture(20)
	f.add(t, "l1", 30*time.Minute, time.Time{})

	st := f.tick(t)
	require.Zero(t, st.Escalated)
	batch, last := f.state(t, "l1")
	require.Equal(t, 1, batch)
	require.True(t, last.Equal(now))
	require.Empty(t, f.rank.pages)
	require.Empty(t, f.disp.calls)
}

func TestCriticalListingWalksBatches(t *testing.T) {
	f := newFixture(12)
	f.add(t, "l1", 40*time.Minute, now)

	f.clock = now.Add(4 * time.Minute)
	require.Zero(t, f.tick(t).Escalated)

	f.clock = now.Add(5 * time.Minute)
	st := f.tick(t)
	require.Equal(t, 1, st.Escalated)
	require.Equal(t, 5, st.Notified)
	batch, last := f.state(t, "l1")
	require.Equal(t, 2, batch)
	require.True(t, last.Equal(f.clock))
	require.Equal(t, []string{"ngo-05", "ngo-06", "ngo-07", "ngo-08", "ngo-09"}, f.disp.calls[0])

	// same instant again: window has not elapsed
	require.Zero(t, f.tick(t).Escalated)

	f.clock = now.Add(10 * time.Minute)
	st = f.tick(t)
	require.Equal(t, 2, st.Notified)
	require.Equal(t, []page{{"l1", 5, 5}, {"l1", 5, 10}}, f.rank.pages)

	// pool exhausted: nothing delivered but the pointer still moves on
	f.clock = now.Add(15 * time.Minute)
	st = f.tick(t)
	require.Equal(t, 1, st.Escalated)
	require.Zero(t, st.Notified)
	batch, _ = f.state(t, "l1")
	require.Equal(t, 4, batch)
	require.Len(t, f.disp.calls, 2)
}

func TestTimeoutFollowsUrgency(t *testing.T) {
	cases := []struct {
		name string
		ttl  time.Duration
		wait time.Duration
	}{
		{"critical", 50 * time.Minute, 5 * time.Minute},
		{"high", 90 * time.Minute, 10 * time.Minute},
		{"medium", 3 * time.Hour, 20 * time.Minute},
		{"low", 6 * time.Hour, 30 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(10)
			f.add(t, "l", tc.ttl+tc.wait, now.Add(-tc.wait))
			f.clock = now.Add(-time.Second)
			require.Zero(t, f.tick(t).Escalated)
			f.clock = now
			require.Equal(t, 1, f.tick(t).Escalated)
		})
	}
}

func TestSkipsUnavailableAndExpired(t *testing.T) {
	f := newFixture(10)
	f.add(t, "expired", -time.Minute, now.Add(-time.Hour))
	require.NoError(t, f.store.CreateListing(context.Background(), &models.Listing{
		ID: "done", Status: models.ListingCompleted, ExpiresAt: now.Add(time.Hour), BatchIndex: 1, LastEscalation: now.Add(-time.Hour),
	}))

	st := f.tick(t)
	require.Equal(t, 1, st.Listings)
	require.Zero(t, st.Escalated)
	require.Empty(t, f.rank.pages)
}

func TestErrorOnOneListingDoesNotAbortTick(t *testing.T) {
	f := newFixture(10)
	f.add(t, "bad", 30*time.Minute, now.Add(-time.Hour))
	f.add(t, "good", 30*time.Minute, now.Add(-time.Hour))
	f.rank.fail["bad"] = true

	st := f.tick(t)
	require.Equal(t, 1, st.Failed)
	require.Equal(t, 1, st.Escalated)

	bad, _ := f.state(t, "bad")
	require.Equal(t, 1, bad)
	good, _ := f.state(t, "good")
	require.Equal(t, 2, good)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	f := newFixture(10)
	f.add(t, "l1", 30*time.Minute, now.Add(-time.Hour))

	f.s.running.Lock()
	st := f.tick(t)
	f.s.running.Unlock()
	require.True(t, st.Skipped)
	require.Empty(t, f.rank.pages)

	require.Equal(t, 1, f.tick(t).Escalated)
}

func TestNotifyInitialBatch(t *testing.T) {
	f := newFixture(8)
	f.add(t, "l1", 3*time.Hour, now)

	l, err := f.store.GetListing(context.Background(), "l1")
	require.NoError(t, err)
	n, err := f.s.NotifyInitialBatch(context.Background(), *l)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []page{{"l1", 5, 0}}, f.rank.pages)
	require.Contains(t, f.disp.msgs[0], "HIGH PRIORITY Bistro: Dal (10 servings")

	batch, last := f.state(t, "l1")
	require.Equal(t, 1, batch)
	require.True(t, last.Equal(now))
}
