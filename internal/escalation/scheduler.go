// Package escalation widens the circle of notified claimants for listings that
// nobody has claimed. Each listing walks through its ranked candidates one
// batch at a time; how long it waits between batches depends on its urgency.
package escalation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/food-rescue/internal/config"
	"github.com/example/food-rescue/internal/dispatch"
	"github.com/example/food-rescue/internal/jobs"
	"github.com/example/food-rescue/internal/logging"
	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/observability"
)

// Ranker returns one page of ranked candidates for a listing.
type Ranker interface {
	Candidates(ctx context.Context, l models.Listing, limit, offset int) ([]models.MatchCandidate, error)
}

type Store interface {
	ListListings(ctx context.Context, status models.ListingStatus) ([]models.Listing, error)
	UpdateEscalation(ctx context.Context, id string, batchIndex int, at time.Time) error
}

type Scheduler struct {
	Store      Store
	Ranker     Ranker
	Dispatcher dispatch.Dispatcher
	Config     config.Escalation
	AppName    string
	Log        *slog.Logger
	Now        func() time.Time

	running sync.Mutex
}

// Stats summarises one tick.
type Stats struct {
	Skipped   bool // another tick was still running
	Listings  int
	Escalated int
	Notified  int
	Failed    int
}

func New(store Store, ranker Ranker, d dispatch.Dispatcher, cfg config.Escalation, appName string, log *slog.Logger) *Scheduler {
	if log == nil {
		log = logging.Discard()
	}
	return &Scheduler{
		Store:      store,
		Ranker:     ranker,
		Dispatcher: d,
		Config:     cfg,
		AppName:    appName,
		Log:        logging.Component(log, "escalation"),
		Now:        time.Now,
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run ticks every Config.Tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	jobs.Every(ctx, s.Config.Tick, "escalation", s.Log, func(ctx context.Context) error {
		_, err := s.Tick(ctx)
		return err
	})
}

// Tick escalates every available listing whose wait has elapsed. A tick that
// starts while another is in progress returns immediately with Skipped set.
func (s *Scheduler) Tick(ctx context.Context) (Stats, error) {
	if !s.running.TryLock() {
		s.Log.Warn("escalation tick skipped, previous tick still running")
		return Stats{Skipped: true}, nil
	}
	defer s.running.Unlock()

	start := time.Now()
	defer func() { observability.EscalationTick.Observe(time.Since(start).Seconds()) }()

	listings, err := s.Store.ListListings(ctx, models.ListingAvailable)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Listings: len(listings)}
	now := s.now()
	for i := range listings {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		escalated, notified, err := s.escalate(ctx, listings[i], now)
		if err != nil {
			st.Failed++
			observability.EscalationBatches.WithLabelValues("error").Inc()
			s.Log.Error("escalation failed", "listing_id", listings[i].ID, "error", err)
			continue
		}
		if escalated {
			st.Escalated++
			st.Notified += notified
		}
	}
	if st.Escalated > 0 || st.Failed > 0 {
		s.Log.Info("escalation tick", "listings", st.Listings, "escalated", st.Escalated, "notified", st.Notified, "failed", st.Failed)
	}
	return st, nil
}

func (s *Scheduler) escalate(ctx context.Context, l models.Listing, now time.Time) (bool, int, error) {
	if l.Status != models.ListingAvailable || l.Expired(now) {
		return false, 0, nil
	}
	if l.LastEscalation.IsZero() {
		// first sighting: start the clock without notifying
		return false, 0, s.Store.UpdateEscalation(ctx, l.ID, 1, now)
	}
	timeout := s.Config.Timeout(models.UrgencyAt(now, l.ExpiresAt))
	if now.Sub(l.LastEscalation) < timeout {
		return false, 0, nil
	}

	batch := l.BatchIndex
	if batch < 1 {
		batch = 1
	}
	notified, err := s.notify(ctx, l, batch*s.Config.BatchSize, now)
	if err != nil {
		return false, 0, err
	}
	// the pointer advances even when the batch was empty
	if err := s.Store.UpdateEscalation(ctx, l.ID, batch+1, now); err != nil {
		return false, 0, err
	}
	result := "notified"
	if notified == 0 {
		result = "empty"
	}
	observability.EscalationBatches.WithLabelValues(result).Inc()
	s.Log.Debug("listing escalated", "listing_id", l.ID, "batch", batch, "notified", notified)
	return true, notified, nil
}

// NotifyInitialBatch offers a new listing to its top-ranked claimants. It
// does not touch the listing's escalation state.
func (s *Scheduler) NotifyInitialBatch(ctx context.Context, l models.Listing) (int, error) {
	return s.notify(ctx, l, 0, s.now())
}

func (s *Scheduler) notify(ctx context.Context, l models.Listing, offset int, now time.Time) (int, error) {
	cands, err := s.Ranker.Candidates(ctx, l, s.Config.BatchSize, offset)
	if err != nil {
		return 0, err
	}
	if len(cands) == 0 {
		return 0, nil
	}
	to := make([]models.Contact, len(cands))
	for i, c := range cands {
		to[i] = c.Claimant.Contact()
	}
	return s.Dispatcher.Deliver(ctx, to, dispatch.OfferMessage(l, now, s.AppName)), nil
}
