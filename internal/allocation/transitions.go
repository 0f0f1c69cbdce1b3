package allocation

import (
	"context"
	"time"

	"github.com/example/food-rescue/internal/apperr"
	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/observability"
	"github.com/example/food-rescue/internal/storage"
)

// Approve deducts the claimed quantity from the listing and confirms the
// pickup. A zero pickup keeps the time the claimant proposed.
func (s *Service) Approve(ctx context.Context, caller Caller, claimID, response string, pickup time.Time) (*models.ClaimRequest, error) {
	c, l, err := s.load(ctx, claimID)
	if err != nil {
		return nil, s.fail("approve", err)
	}
	if !ownsListing(caller, l) {
		return nil, s.fail("approve", apperr.Unauthorized("no permission to approve claim %s", claimID))
	}
	if c.Status != models.ClaimPending {
		return nil, s.fail("approve", apperr.InvalidState("only pending claims can be approved, claim %s is %s", claimID, c.Status))
	}
	now := s.now()
	if pickup.IsZero() {
		pickup = c.PickupTime
	}
	if pickup.Before(now) || pickup.After(l.ExpiresAt) {
		return nil, s.fail("approve", apperr.InvalidArgument("pickup time must be between now and listing expiry", "pickup_time"))
	}

	u, err := s.withLock(ctx, c, func(u *storage.ClaimUnit) error {
		if err := checkTransition(u.Claim, models.ClaimApproved); err != nil {
			return err
		}
		if u.Listing.Status != models.ListingAvailable || u.Listing.Expired(now) {
			observability.LockRejections.Inc()
			return apperr.InvalidState("listing %s is no longer available", u.Listing.ID)
		}
		if u.Claim.Quantity > u.Listing.Quantity {
			observability.LockRejections.Inc()
			return apperr.InvalidState("insufficient quantity on listing %s: %d left, %d claimed",
				u.Listing.ID, u.Listing.Quantity, u.Claim.Quantity)
		}
		u.Listing.Quantity -= u.Claim.Quantity
		if u.Listing.Quantity == 0 {
			u.Listing.Status = models.ListingCompleted
		} else {
			u.Listing.Status = models.ListingAvailable
		}
		u.Listing.Touch(now)

		u.Claim.Status = models.ClaimApproved
		u.Claim.SupplierResponse = response
		u.Claim.PickupTime = pickup
		u.Claim.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, s.fail("approve", err)
	}
	return s.done(ctx, "approve", models.EventClaimApproved, caller, u), nil
}

func (s *Service) Reject(ctx context.Context, caller Caller, claimID, reason string) (*models.ClaimRequest, error) {
	c, l, err := s.load(ctx, claimID)
	if err != nil {
		return nil, s.fail("reject", err)
	}
	if !ownsListing(caller, l) {
		return nil, s.fail("reject", apperr.Unauthorized("no permission to reject claim %s", claimID))
	}
	now := s.now()
	u, err := s.withLock(ctx, c, func(u *storage.ClaimUnit) error {
		if err := checkTransition(u.Claim, models.ClaimRejected); err != nil {
			return err
		}
		u.Claim.Status = models.ClaimRejected
		u.Claim.SupplierResponse = reason
		u.Claim.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, s.fail("reject", err)
	}
	return s.done(ctx, "reject", models.EventClaimRejected, caller, u), nil
}

func (s *Service) MarkCollected(ctx context.Context, caller Caller, claimID string) (*models.ClaimRequest, error) {
	c, _, err := s.load(ctx, claimID)
	if err != nil {
		return nil, s.fail("collect", err)
	}
	if !ownsClaim(caller, c) {
		return nil, s.fail("collect", apperr.Unauthorized("no permission to update claim %s", claimID))
	}
	now := s.now()
	u, err := s.withLock(ctx, c, func(u *storage.ClaimUnit) error {
		if err := checkTransition(u.Claim, models.ClaimCollected); err != nil {
			return err
		}
		u.Claim.Status = models.ClaimCollected
		u.Claim.CollectedAt = &now
		u.Claim.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, s.fail("collect", err)
	}
	return s.done(ctx, "collect", models.EventClaimCollected, caller, u), nil
}

// Complete closes a collected claim and records the donation. The listing
// itself is left as approval set it.
func (s *Service) Complete(ctx context.Context, caller Caller, claimID string, d CompletionDetails) (*models.ClaimRequest, error) {
	c, _, err := s.load(ctx, claimID)
	if err != nil {
		return nil, s.fail("complete", err)
	}
	if !ownsClaim(caller, c) {
		return nil, s.fail("complete", apperr.Unauthorized("no permission to complete claim %s", claimID))
	}
	var fields []string
	if d.QuantityReceived < 0 {
		fields = append(fields, "quantity_received")
	}
	if d.Rating != nil && (*d.Rating < 1 || *d.Rating > 5) {
		fields = append(fields, "rating")
	}
	if len(fields) > 0 {
		return nil, s.fail("complete", apperr.InvalidArgument("invalid completion details", fields...))
	}

	now := s.now()
	u, err := s.withLock(ctx, c, func(u *storage.ClaimUnit) error {
		if err := checkTransition(u.Claim, models.ClaimCompleted); err != nil {
			return err
		}
		qty := d.QuantityReceived
		if qty == 0 {
			qty = u.Claim.Quantity
		}
		u.Claim.Status = models.ClaimCompleted
		u.Claim.CompletedAt = &now
		u.Claim.UpdatedAt = now
		u.Donation = &models.DonationRecord{
			ID:               s.newID(),
			ClaimID:          u.Claim.ID,
			ListingID:        u.Listing.ID,
			SupplierID:       u.Listing.SupplierID,
			ClaimantID:       u.Claim.ClaimantID,
			FoodName:         u.Listing.FoodName,
			Category:         u.Listing.Category,
			Quantity:         qty,
			SupplierRating:   d.Rating,
			ClaimantFeedback: d.Feedback,
			DonatedAt:        now,
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("complete", err)
	}
	return s.done(ctx, "complete", models.EventClaimCompleted, caller, u), nil
}

// Cancel withdraws a pending or approved claim. Cancelling an approved claim
// returns its quantity to the listing, which reopens, or becomes EXPIRED when
// its expiry has passed.
func (s *Service) Cancel(ctx context.Context, caller Caller, claimID string) (*models.ClaimRequest, error) {
	c, _, err := s.load(ctx, claimID)
	if err != nil {
		return nil, s.fail("cancel", err)
	}
	if !ownsClaim(caller, c) {
		return nil, s.fail("cancel", apperr.Unauthorized("no permission to cancel claim %s", claimID))
	}
	u, err := s.cancel(ctx, c)
	if err != nil {
		return nil, s.fail("cancel", err)
	}
	return s.done(ctx, "cancel", models.EventClaimCancelled, caller, u), nil
}

func (s *Service) cancel(ctx context.Context, c *models.ClaimRequest) (*storage.ClaimUnit, error) {
	now := s.now()
	return s.withLock(ctx, c, func(u *storage.ClaimUnit) error {
		if err := checkTransition(u.Claim, models.ClaimCancelled); err != nil {
			return err
		}
		if u.Claim.Status == models.ClaimApproved {
			u.Listing.Quantity += u.Claim.Quantity
			if u.Listing.Expired(now) {
				u.Listing.Status = models.ListingExpired
			} else {
				u.Listing.Status = models.ListingAvailable
			}
			u.Listing.Touch(now)
		}
		u.Claim.Status = models.ClaimCancelled
		u.Claim.CancelledAt = &now
		u.Claim.UpdatedAt = now
		return nil
	})
}

func (s *Service) withLock(ctx context.Context, c *models.ClaimRequest, fn func(u *storage.ClaimUnit) error) (*storage.ClaimUnit, error) {
	var unit *storage.ClaimUnit
	start := time.Now()
	err := s.Store.WithListingLock(ctx, c.ListingID, c.ID, func(u *storage.ClaimUnit) error {
		unit = u
		return fn(u)
	})
	observability.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.storeErr(err, "claim %s not found", c.ID)
	}
	return unit, nil
}

func (s *Service) fail(op string, err error) error {
	observability.ClaimTransitions.WithLabelValues(op, apperr.KindOf(err).String()).Inc()
	if apperr.Is(err, apperr.KindInternal) {
		s.Log.Error("claim operation failed", "op", op, "error", err)
	} else {
		s.Log.Debug("claim operation refused", "op", op, "error", err)
	}
	return err
}

func (s *Service) done(ctx context.Context, op string, et models.EventType, caller Caller, u *storage.ClaimUnit) *models.ClaimRequest {
	observability.ClaimTransitions.WithLabelValues(op, "ok").Inc()
	s.Log.Info("claim "+op, "claim_id", u.Claim.ID, "listing_id", u.Listing.ID, "status", u.Claim.Status,
		"remaining", u.Listing.Quantity, "listing_status", u.Listing.Status)
	s.publish(ctx, models.Event{
		Type:      et,
		ListingID: u.Listing.ID,
		ClaimID:   u.Claim.ID,
		ActorID:   caller.ID,
		Quantity:  u.Claim.Quantity,
		Remaining: u.Listing.Quantity,
		At:        u.Claim.UpdatedAt,
	})
	c := *u.Claim
	return &c
}

func checkTransition(c *models.ClaimRequest, to models.ClaimStatus) error {
	if !models.CanTransition(c.Status, to) {
		return apperr.InvalidState("claim %s cannot move from %s to %s", c.ID, c.Status, to)
	}
	return nil
}
