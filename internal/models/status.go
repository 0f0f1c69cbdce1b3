package models

import (
	"fmt"
	"time"
)

type ListingStatus string

const (
	ListingAvailable ListingStatus = "AVAILABLE"
	ListingReserved  ListingStatus = "RESERVED"
	ListingCompleted ListingStatus = "COMPLETED"
	ListingExpired   ListingStatus = "EXPIRED"
)

func ParseListingStatus(s string) (ListingStatus, error) {
	switch st := ListingStatus(s); st {
	case ListingAvailable, ListingReserved, ListingCompleted, ListingExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown listing status %q", s)
}

type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "PENDING"
	ClaimApproved  ClaimStatus = "APPROVED"
	ClaimRejected  ClaimStatus = "REJECTED"
	ClaimCollected ClaimStatus = "COLLECTED"
	ClaimCompleted ClaimStatus = "COMPLETED"
	ClaimCancelled ClaimStatus = "CANCELLED"
)

var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimPending:   {ClaimApproved, ClaimRejected, ClaimCancelled},
	ClaimApproved:  {ClaimCollected, ClaimCancelled},
	ClaimCollected: {ClaimCompleted},
}

// CanTransition reports whether a claim may move from one status to another.
func CanTransition(from, to ClaimStatus) bool {
	for _, s := range claimTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether the claim still holds a slot on its listing.
func (s ClaimStatus) Active() bool {
	return s == ClaimPending || s == ClaimApproved || s == ClaimCollected
}

func (s ClaimStatus) Terminal() bool { return len(claimTransitions[s]) == 0 }

type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// HoursUntil returns whole hours from now to t, truncated toward zero.
func HoursUntil(now, t time.Time) int64 {
	return int64(t.Sub(now) / time.Hour)
}

// UrgencyAt buckets the time remaining before expiresAt.
func UrgencyAt(now, expiresAt time.Time) Urgency {
	switch h := HoursUntil(now, expiresAt); {
	case h < 1:
		return UrgencyCritical
	case h < 2:
		return UrgencyHigh
	case h < 4:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}
