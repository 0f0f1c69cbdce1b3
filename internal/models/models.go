package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type Supplier struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Loc             Coord     `json:"loc"`
	Phone           string    `json:"phone,omitempty"`
	Email           string    `json:"email,omitempty"`
	TotalDonations  int       `json:"total_donations"`
	ServingsDonated int       `json:"servings_donated"`
	Rating          float64   `json:"rating"` // running average 1..5
	RatingCount     int       `json:"rating_count"`
	Updated         time.Time `json:"updated"`
}

// Claimant is an organisation that can collect food for its beneficiaries.
type Claimant struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Loc                 Coord     `json:"loc"`
	Capacity            int       `json:"capacity"` // beneficiaries served
	DietaryRequirements string    `json:"dietary_requirements,omitempty"`
	Phone               string    `json:"phone,omitempty"`
	Email               string    `json:"email,omitempty"`
	TotalReceived       int       `json:"total_received"`
	ServingsReceived    int       `json:"servings_received"`
	Updated             time.Time `json:"updated"`
}

func (c Claimant) Contact() Contact {
	return Contact{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email}
}

type Listing struct {
	ID             string        `json:"id"`
	SupplierID     string        `json:"supplier_id"`
	SupplierName   string        `json:"supplier_name,omitempty"`
	FoodName       string        `json:"food_name"`
	Category       string        `json:"category"`
	Quantity       int           `json:"quantity"`
	Unit           string        `json:"unit"`
	PreparedAt     time.Time     `json:"prepared_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	DietaryInfo    string        `json:"dietary_info,omitempty"`
	Description    string        `json:"description,omitempty"`
	Status         ListingStatus `json:"status"`
	Urgency        Urgency       `json:"urgency"`
	BatchIndex     int           `json:"batch_index"`
	LastEscalation time.Time     `json:"last_escalation,omitempty"`
	Loc            Coord         `json:"loc"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Expired reports whether expiry has passed at now.
func (l *Listing) Expired(now time.Time) bool { return now.After(l.ExpiresAt) }

// Open reports whether the listing can still take claims at now.
func (l *Listing) Open(now time.Time) bool {
	return l.Status == ListingAvailable && !l.Expired(now)
}

// Touch recomputes derived fields before a write.
func (l *Listing) Touch(now time.Time) {
	l.Urgency = UrgencyAt(now, l.ExpiresAt)
	if l.BatchIndex < 1 {
		l.BatchIndex = 1
	}
	l.UpdatedAt = now
}

type ClaimRequest struct {
	ID               string      `json:"id"`
	ListingID        string      `json:"listing_id"`
	ClaimantID       string      `json:"claimant_id"`
	Quantity         int         `json:"quantity"`
	Status           ClaimStatus `json:"status"`
	Notes            string      `json:"notes,omitempty"`
	SupplierResponse string      `json:"supplier_response,omitempty"`
	PickupTime       time.Time   `json:"pickup_time"`
	CollectedAt      *time.Time  `json:"collected_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	CancelledAt      *time.Time  `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// DonationRecord is written once per completed claim and never updated.
type DonationRecord struct {
	ID               string    `json:"id"`
	ClaimID          string    `json:"claim_id"`
	ListingID        string    `json:"listing_id"`
	SupplierID       string    `json:"supplier_id"`
	ClaimantID       string    `json:"claimant_id"`
	FoodName         string    `json:"food_name"`
	Category         string    `json:"category"`
	Quantity         int       `json:"quantity"`
	SupplierRating   *int      `json:"supplier_rating,omitempty"`
	ClaimantFeedback string    `json:"claimant_feedback,omitempty"`
	DonatedAt        time.Time `json:"donated_at"`
}

// MatchCandidate is a scored claimant for one listing. It is never stored.
type MatchCandidate struct {
	Claimant   Claimant `json:"claimant"`
	Score      int      `json:"score"`
	Reason     string   `json:"reason"`
	DistanceKm float64  `json:"distance_km"`
}
