package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/food-rescue/internal/models"
)

// MemoryStore keeps everything in maps. Each listing has its own mutex that
// plays the role of the row lock; mu only guards the maps themselves.
type MemoryStore struct {
	mu        sync.RWMutex
	suppliers map[string]models.Supplier
	claimants map[string]models.Claimant
	listings  map[string]models.Listing
	claims    map[string]models.ClaimRequest
	donations []models.DonationRecord
	locks     map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		suppliers: make(map[string]models.Supplier),
		claimants: make(map[string]models.Claimant),
		listings:  make(map[string]models.Listing),
		claims:    make(map[string]models.ClaimRequest),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) lockFor(listingID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[listingID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[listingID] = l
	}
	return l
}

func (m *MemoryStore) UpsertSupplier(_ context.Context, s *models.Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppliers[s.ID] = *s
	return nil
}

func (m *MemoryStore) GetSupplier(_ context.Context, id string) (*models.Supplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.suppliers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) UpsertClaimant(_ context.Context, c *models.Claimant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimants[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetClaimant(_ context.Context, id string) (*models.Claimant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claimants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) CreateListing(_ context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = *l
	return nil
}

func (m *MemoryStore) GetListing(_ context.Context, id string) (*models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *MemoryStore) ListListings(_ context.Context, status models.ListingStatus) ([]models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Listing, 0, len(m.listings))
	for _, l := range m.listings {
		if status == "" || l.Status == status {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateEscalation(_ context.Context, id string, batchIndex int, at time.Time) error {
	lk := m.lockFor(id)
	lk.Lock()
	defer lk.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.BatchIndex = batchIndex
	l.LastEscalation = at
	l.Touch(at)
	m.listings[id] = l
	return nil
}

func (m *MemoryStore) ExpireListings(_ context.Context, now time.Time) (int, error) {
	m.mu.RLock()
	var due []string
	for id, l := range m.listings {
		if l.Status == models.ListingAvailable && l.Quantity > 0 && l.ExpiresAt.Before(now) {
			due = append(due, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range due {
		lk := m.lockFor(id)
		lk.Lock()
		m.mu.Lock()
		l := m.listings[id]
		// re-check under the lock, an approval may have won the race
		if l.Status == models.ListingAvailable && l.Quantity > 0 && l.ExpiresAt.Before(now) {
			l.Status = models.ListingExpired
			l.Touch(now)
			m.listings[id] = l
			n++
		}
		m.mu.Unlock()
		lk.Unlock()
	}
	return n, nil
}

func (m *MemoryStore) CreateClaim(_ context.Context, c *models.ClaimRequest) error {
	// the listing lock serialises the duplicate check with claim transitions
	lk := m.lockFor(c.ListingID)
	lk.Lock()
	defer lk.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.claims {
		if existing.ListingID == c.ListingID && existing.ClaimantID == c.ClaimantID && existing.Status.Active() {
			return ErrDuplicate
		}
	}
	m.claims[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetClaim(_ context.Context, id string) (*models.ClaimRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) ListClaimsByListing(_ context.Context, listingID string) ([]models.ClaimRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ClaimRequest
	for _, c := range m.claims {
		if c.ListingID == listingID {
			out = append(out, c)
		}
	}
	sortClaims(out)
	return out, nil
}

func (m *MemoryStore) ListOverduePickups(_ context.Context, now time.Time) ([]models.ClaimRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ClaimRequest
	for _, c := range m.claims {
		if c.Status == models.ClaimApproved && c.PickupTime.Before(now) {
			out = append(out, c)
		}
	}
	sortClaims(out)
	return out, nil
}

func (m *MemoryStore) ListDonations(_ context.Context, claimantID string) ([]models.DonationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DonationRecord
	for _, d := range m.donations {
		if claimantID == "" || d.ClaimantID == claimantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) WithListingLock(_ context.Context, listingID, claimID string, fn func(u *ClaimUnit) error) error {
	lk := m.lockFor(listingID)
	lk.Lock()
	defer lk.Unlock()

	m.mu.RLock()
	l, lok := m.listings[listingID]
	c, cok := m.claims[claimID]
	m.mu.RUnlock()
	if !lok || !cok || c.ListingID != listingID {
		return ErrNotFound
	}

	u := &ClaimUnit{Listing: &l, Claim: &c}
	if err := fn(u); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[listingID] = *u.Listing
	m.claims[claimID] = *u.Claim
	if d := u.Donation; d != nil {
		m.donations = append(m.donations, *d)
		if s, ok := m.suppliers[d.SupplierID]; ok {
			applySupplierDonation(&s, d)
			m.suppliers[s.ID] = s
		}
		if cl, ok := m.claimants[d.ClaimantID]; ok {
			applyClaimantDonation(&cl, d)
			m.claimants[cl.ID] = cl
		}
	}
	return nil
}

func applySupplierDonation(s *models.Supplier, d *models.DonationRecord) {
	s.TotalDonations++
	s.ServingsDonated += d.Quantity
	if d.SupplierRating != nil {
		total := s.Rating*float64(s.RatingCount) + float64(*d.SupplierRating)
		s.RatingCount++
		s.Rating = total / float64(s.RatingCount)
	}
}

func applyClaimantDonation(c *models.Claimant, d *models.DonationRecord) {
	c.TotalReceived++
	c.ServingsReceived += d.Quantity
}

func sortClaims(cs []models.ClaimRequest) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
