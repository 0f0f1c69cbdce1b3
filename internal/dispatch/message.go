package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/food-rescue/internal/models"
)

const maxSMSLen = 160

// OfferMessage renders the short offer text sent to claimants for a listing.
func OfferMessage(l models.Listing, now time.Time, appName string) string {
	hours := models.HoursUntil(now, l.ExpiresAt)
	prefix := ""
	switch {
	case hours <= 2:
		prefix = "URGENT "
	case hours <= 4:
		prefix = "HIGH PRIORITY "
	}
	unit := l.Unit
	if unit == "" {
		unit = "servings"
	}
	msg := fmt.Sprintf("%s%s: %s (%d %s, %s) available for %dh. Login to %s to request.",
		prefix, clip(l.SupplierName, 20), clip(l.FoodName, 15), l.Quantity, unit, clip(l.Category, 10), hours, appName)
	if r := []rune(msg); len(r) > maxSMSLen {
		msg = string(r[:maxSMSLen-3]) + "..."
	}
	return msg
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
