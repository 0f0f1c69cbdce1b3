package allocation

import (
	"context"

	"github.com/example/food-rescue/internal/apperr"
	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/observability"
)

var systemCaller = Caller{ID: "system", Role: RoleSystem}

// ExpireListings marks available listings past their expiry as EXPIRED.
func (s *Service) ExpireListings(ctx context.Context) (int, error) {
	now := s.now()
	n, err := s.Store.ExpireListings(ctx, now)
	if err != nil {
		return 0, apperr.Internal("expire listings", err)
	}
	if n > 0 {
		observability.ListingsExpired.Add(float64(n))
		s.Log.Info("listings expired", "count", n)
	}
	return n, nil
}

// ReapOverduePickups cancels approved claims whose pickup time has passed,
// returning their quantity to the listing exactly as Cancel does. Failures on
// one claim are logged and do not stop the sweep.
func (s *Service) ReapOverduePickups(ctx context.Context) (int, error) {
	due, err := s.Store.ListOverduePickups(ctx, s.now())
	if err != nil {
		return 0, apperr.Internal("list overdue pickups", err)
	}
	reaped := 0
	for i := range due {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}
		c := &due[i]
		u, err := s.cancel(ctx, c)
		if err != nil {
			// claim may have been collected since the scan
			s.Log.Warn("reap pickup failed", "claim_id", c.ID, "error", err)
			continue
		}
		reaped++
		observability.PickupsReaped.Inc()
		s.done(ctx, "reap", models.EventClaimCancelled, systemCaller, u)
	}
	return reaped, nil
}
