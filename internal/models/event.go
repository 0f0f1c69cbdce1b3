package models

import "time"

type EventType string

const (
	EventListingCreated EventType = "listing.created"
	EventListingExpired EventType = "listing.expired"
	EventClaimCreated   EventType = "claim.created"
	EventClaimApproved  EventType = "claim.approved"
	EventClaimRejected  EventType = "claim.rejected"
	EventClaimCollected EventType = "claim.collected"
	EventClaimCompleted EventType = "claim.completed"
	EventClaimCancelled EventType = "claim.cancelled"
)

// Event is an allocation fact published after the change is committed.
type Event struct {
	Type      EventType `json:"type"`
	ListingID string    `json:"listing_id"`
	ClaimID   string    `json:"claim_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}
