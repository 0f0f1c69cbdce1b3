package dispatch

import (
	"context"
	"log/slog"

	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/observability"
)

// Dispatcher delivers one message to a set of recipients and reports how many
// were reached. Failures are logged by the implementation, never returned.
type Dispatcher interface {
	Deliver(ctx context.Context, to []models.Contact, message string) int
}

// LogDispatcher only logs. It is used when no channel is configured.
type LogDispatcher struct {
	Log *slog.Logger
}

func (d LogDispatcher) Deliver(_ context.Context, to []models.Contact, message string) int {
	if d.Log != nil {
		ids := make([]string, len(to))
		for i, c := range to {
			ids[i] = c.ID
		}
		d.Log.Info("notification", "recipients", ids, "message", message)
	}
	observability.NotificationsSent.WithLabelValues("log").Add(float64(len(to)))
	return len(to)
}

// Fanout delivers on every channel and reports the best per-channel reach,
// so a recipient reached on two channels is counted once.
type Fanout []Dispatcher

func (f Fanout) Deliver(ctx context.Context, to []models.Contact, message string) int {
	best := 0
	for _, d := range f {
		if n := d.Deliver(ctx, to, message); n > best {
			best = n
		}
	}
	return best
}

// phones returns the distinct non-empty phone numbers of to.
func phones(to []models.Contact) []string {
	seen := make(map[string]bool, len(to))
	out := make([]string, 0, len(to))
	for _, c := range to {
		if c.Phone == "" || seen[c.Phone] {
			continue
		}
		seen[c.Phone] = true
		out = append(out, c.Phone)
	}
	return out
}
