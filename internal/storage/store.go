package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/food-rescue/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate active claim")
)

// ClaimUnit is the state handed to a locked unit of work: the listing row as
// read for update, the claim re-read inside the same lock, and an optional
// donation to append when the work commits.
type ClaimUnit struct {
	Listing  *models.Listing
	Claim    *models.ClaimRequest
	Donation *models.DonationRecord
}

// Store defines persistence for listings, claims and the parties involved.
type Store interface {
	UpsertSupplier(ctx context.Context, s *models.Supplier) error
	GetSupplier(ctx context.Context, id string) (*models.Supplier, error)
	UpsertClaimant(ctx context.Context, c *models.Claimant) error
	GetClaimant(ctx context.Context, id string) (*models.Claimant, error)

	CreateListing(ctx context.Context, l *models.Listing) error
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	ListListings(ctx context.Context, status models.ListingStatus) ([]models.Listing, error)
	// UpdateEscalation writes only the escalation pointer of a listing.
	UpdateEscalation(ctx context.Context, id string, batchIndex int, at time.Time) error
	// ExpireListings marks AVAILABLE listings with quantity left and expiry
	// before now as EXPIRED, returning how many changed.
	ExpireListings(ctx context.Context, now time.Time) (int, error)

	// CreateClaim fails with ErrDuplicate when the claimant already holds an
	// active claim on the listing.
	CreateClaim(ctx context.Context, c *models.ClaimRequest) error
	GetClaim(ctx context.Context, id string) (*models.ClaimRequest, error)
	ListClaimsByListing(ctx context.Context, listingID string) ([]models.ClaimRequest, error)
	// ListOverduePickups returns APPROVED claims whose pickup time is before now.
	ListOverduePickups(ctx context.Context, now time.Time) ([]models.ClaimRequest, error)
	ListDonations(ctx context.Context, claimantID string) ([]models.DonationRecord, error)

	// WithListingLock reads the listing for update, re-reads the claim and
	// runs fn. Changes fn makes to the unit are persisted atomically only when
	// fn returns nil; otherwise nothing is written.
	WithListingLock(ctx context.Context, listingID, claimID string, fn func(u *ClaimUnit) error) error
}
