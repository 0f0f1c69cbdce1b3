// Package allocation owns the claim lifecycle on surplus food listings. Every
// change to a listing's quantity or status happens inside the store's
// per-listing unit of work, so concurrent approvals can never oversell.
package allocation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/food-rescue/internal/apperr"
	"github.com/example/food-rescue/internal/geo"
	"github.com/example/food-rescue/internal/logging"
	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/observability"
	"github.com/example/food-rescue/internal/storage"
)

type Role string

const (
	RoleSupplier Role = "supplier"
	RoleClaimant Role = "claimant"
	RoleSystem   Role = "system"
)

// Caller is the authenticated identity behind an operation.
type Caller struct {
	ID   string
	Role Role
}

// Publisher receives allocation events once they are committed.
type Publisher interface {
	PublishEvent(ctx context.Context, e models.Event) error
}

// Announcer sends the first wave of offers for a new listing.
type Announcer interface {
	NotifyInitialBatch(ctx context.Context, l models.Listing) (int, error)
}

type Service struct {
	Store     storage.Store
	Events    Publisher // optional
	Announcer Announcer // optional
	Log       *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

func NewService(store storage.Store, log *slog.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		Store: store,
		Log:   logging.Component(log, "allocation"),
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

type ListingInput struct {
	FoodName    string    `json:"food_name"`
	Category    string    `json:"category"`
	Quantity    int       `json:"quantity"`
	Unit        string    `json:"unit"`
	PreparedAt  time.Time `json:"prepared_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	DietaryInfo string    `json:"dietary_info"`
	Description string    `json:"description"`
}

type ClaimInput struct {
	ListingID  string    `json:"listing_id"`
	Quantity   int       `json:"quantity"`
	PickupTime time.Time `json:"pickup_time"`
	Notes      string    `json:"notes"`
}

type CompletionDetails struct {
	QuantityReceived int    `json:"quantity_received"` // 0 means the claimed quantity
	Rating           *int   `json:"rating"`
	Feedback         string `json:"feedback"`
}

// CreateListing publishes a new listing at the supplier's location and
// triggers the first wave of offers.
func (s *Service) CreateListing(ctx context.Context, caller Caller, in ListingInput) (*models.Listing, error) {
	if caller.Role != RoleSupplier {
		return nil, apperr.Unauthorized("only suppliers can create listings")
	}
	now := s.now()
	if in.PreparedAt.IsZero() {
		in.PreparedAt = now
	}
	var fields []string
	if strings.TrimSpace(in.FoodName) == "" {
		fields = append(fields, "food_name")
	}
	if in.Quantity <= 0 {
		fields = append(fields, "quantity")
	}
	if !in.ExpiresAt.After(now) || !in.ExpiresAt.After(in.PreparedAt) {
		fields = append(fields, "expires_at")
	}
	if len(fields) > 0 {
		return nil, apperr.InvalidArgument("invalid listing", fields...)
	}

	sup, err := s.Store.GetSupplier(ctx, caller.ID)
	if err != nil {
		return nil, s.storeErr(err, "supplier %s not found", caller.ID)
	}

	l := &models.Listing{
		ID:             s.newID(),
		SupplierID:     sup.ID,
		SupplierName:   sup.Name,
		FoodName:       strings.TrimSpace(in.FoodName),
		Category:       in.Category,
		Quantity:       in.Quantity,
		Unit:           in.Unit,
		PreparedAt:     in.PreparedAt,
		ExpiresAt:      in.ExpiresAt,
		DietaryInfo:    in.DietaryInfo,
		Description:    in.Description,
		Status:         models.ListingAvailable,
		BatchIndex:     1,
		LastEscalation: now,
		Loc:            sup.Loc,
		CreatedAt:      now,
	}
	l.Touch(now)
	if err := s.Store.CreateListing(ctx, l); err != nil {
		return nil, apperr.Internal("create listing", err)
	}
	observability.ListingsCreated.Inc()
	s.Log.Info("listing created", "listing_id", l.ID, "supplier_id", l.SupplierID, "quantity", l.Quantity, "urgency", l.Urgency)
	s.publish(ctx, models.Event{Type: models.EventListingCreated, ListingID: l.ID, ActorID: caller.ID, Quantity: l.Quantity, Remaining: l.Quantity, At: now})

	if s.Announcer != nil {
		if n, err := s.Announcer.NotifyInitialBatch(ctx, *l); err != nil {
			s.Log.Warn("initial batch failed", "listing_id", l.ID, "error", err)
		} else {
			s.Log.Info("initial batch sent", "listing_id", l.ID, "notified", n)
		}
	}
	return l, nil
}

func (s *Service) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	l, err := s.Store.GetListing(ctx, id)
	if err != nil {
		return nil, s.storeErr(err, "listing %s not found", id)
	}
	return l, nil
}

func (s *Service) ListListings(ctx context.Context, status models.ListingStatus) ([]models.Listing, error) {
	ls, err := s.Store.ListListings(ctx, status)
	if err != nil {
		return nil, apperr.Internal("list listings", err)
	}
	return ls, nil
}

// CreateClaim records a claimant's request for part of a listing.
func (s *Service) CreateClaim(ctx context.Context, caller Caller, in ClaimInput) (*models.ClaimRequest, error) {
	if caller.Role != RoleClaimant {
		return nil, apperr.Unauthorized("only claimants can request food")
	}
	if _, err := s.Store.GetClaimant(ctx, caller.ID); err != nil {
		return nil, s.storeErr(err, "claimant %s not found", caller.ID)
	}
	l, err := s.Store.GetListing(ctx, in.ListingID)
	if err != nil {
		return nil, s.storeErr(err, "listing %s not found", in.ListingID)
	}

	existing, err := s.Store.ListClaimsByListing(ctx, l.ID)
	if err != nil {
		return nil, apperr.Internal("list claims", err)
	}
	for _, c := range existing {
		if c.ClaimantID == caller.ID && c.Status.Active() {
			return nil, apperr.Conflict("claimant already has an active claim %s on listing %s", c.ID, l.ID)
		}
	}

	now := s.now()
	if l.Status != models.ListingAvailable {
		return nil, apperr.InvalidArgument("listing is no longer available", "listing_id")
	}
	if l.Expired(now) {
		return nil, apperr.InvalidArgument("listing has expired", "listing_id")
	}
	var fields []string
	if in.Quantity <= 0 || in.Quantity >= l.Quantity {
		fields = append(fields, "quantity")
	}
	if !in.PickupTime.After(now) || in.PickupTime.After(l.ExpiresAt) {
		fields = append(fields, "pickup_time")
	}
	if len(fields) > 0 {
		return nil, apperr.InvalidArgument("invalid claim", fields...)
	}

	c := &models.ClaimRequest{
		ID:         s.newID(),
		ListingID:  l.ID,
		ClaimantID: caller.ID,
		Quantity:   in.Quantity,
		Status:     models.ClaimPending,
		Notes:      in.Notes,
		PickupTime: in.PickupTime,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Store.CreateClaim(ctx, c); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict("claimant already has an active claim on listing %s", l.ID)
		}
		return nil, apperr.Internal("create claim", err)
	}
	observability.ClaimTransitions.WithLabelValues("create", "ok").Inc()
	s.Log.Info("claim created", "claim_id", c.ID, "listing_id", l.ID, "claimant_id", caller.ID, "quantity", c.Quantity)
	s.publish(ctx, models.Event{Type: models.EventClaimCreated, ListingID: l.ID, ClaimID: c.ID, ActorID: caller.ID, Quantity: c.Quantity, Remaining: l.Quantity, At: now})
	return c, nil
}

// GetClaim returns a claim to either the claimant who made it or the
// supplier who owns the listing.
func (s *Service) GetClaim(ctx context.Context, caller Caller, id string) (*models.ClaimRequest, error) {
	c, l, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsClaim(caller, c) && !ownsListing(caller, l) {
		return nil, apperr.Unauthorized("no access to claim %s", id)
	}
	return c, nil
}

// ListingClaims lists every claim on a listing for its supplier.
func (s *Service) ListingClaims(ctx context.Context, caller Caller, listingID string) ([]models.ClaimRequest, error) {
	l, err := s.Store.GetListing(ctx, listingID)
	if err != nil {
		return nil, s.storeErr(err, "listing %s not found", listingID)
	}
	if !ownsListing(caller, l) {
		return nil, apperr.Unauthorized("no access to claims of listing %s", listingID)
	}
	cs, err := s.Store.ListClaimsByListing(ctx, listingID)
	if err != nil {
		return nil, apperr.Internal("list claims", err)
	}
	if cs == nil {
		cs = []models.ClaimRequest{}
	}
	return cs, nil
}

// UpsertSupplier registers or updates a supplier profile. Counters are owned
// by the store and never taken from the input.
func (s *Service) UpsertSupplier(ctx context.Context, sup models.Supplier) (*models.Supplier, error) {
	var fields []string
	if strings.TrimSpace(sup.ID) == "" {
		fields = append(fields, "id")
	}
	if strings.TrimSpace(sup.Name) == "" {
		fields = append(fields, "name")
	}
	if !geo.ValidCoord(sup.Loc.Lat, sup.Loc.Lon) {
		fields = append(fields, "loc")
	}
	if len(fields) > 0 {
		return nil, apperr.InvalidArgument("invalid supplier", fields...)
	}
	sup.Updated = s.now()
	if err := s.Store.UpsertSupplier(ctx, &sup); err != nil {
		return nil, apperr.Internal("upsert supplier", err)
	}
	return &sup, nil
}

// UpsertClaimant registers or updates a claimant profile.
func (s *Service) UpsertClaimant(ctx context.Context, c models.Claimant) (*models.Claimant, error) {
	var fields []string
	if strings.TrimSpace(c.ID) == "" {
		fields = append(fields, "id")
	}
	if strings.TrimSpace(c.Name) == "" {
		fields = append(fields, "name")
	}
	if !geo.ValidCoord(c.Loc.Lat, c.Loc.Lon) {
		fields = append(fields, "loc")
	}
	if c.Capacity < 0 {
		fields = append(fields, "capacity")
	}
	if len(fields) > 0 {
		return nil, apperr.InvalidArgument("invalid claimant", fields...)
	}
	c.Updated = s.now()
	if err := s.Store.UpsertClaimant(ctx, &c); err != nil {
		return nil, apperr.Internal("upsert claimant", err)
	}
	return &c, nil
}

func (s *Service) load(ctx context.Context, claimID string) (*models.ClaimRequest, *models.Listing, error) {
	c, err := s.Store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, nil, s.storeErr(err, "claim %s not found", claimID)
	}
	l, err := s.Store.GetListing(ctx, c.ListingID)
	if err != nil {
		return nil, nil, s.storeErr(err, "listing %s not found", c.ListingID)
	}
	return c, l, nil
}

func (s *Service) storeErr(err error, format string, args ...any) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound(format, args...)
	default:
		return apperr.Internal("store", err)
	}
}

func (s *Service) publish(ctx context.Context, e models.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishEvent(ctx, e); err != nil {
		s.Log.Warn("publish event failed", "type", e.Type, "listing_id", e.ListingID, "error", err)
	}
}

func ownsClaim(caller Caller, c *models.ClaimRequest) bool {
	return caller.Role == RoleClaimant && caller.ID == c.ClaimantID
}

func ownsListing(caller Caller, l *models.Listing) bool {
	return caller.Role == RoleSupplier && caller.ID == l.SupplierID
}
