package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/example/food-rescue/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestPublishKeys(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, timeout: time.Second}
	ctx := context.Background()

	require.NoError(t, p.PublishClaimant(ctx, models.Claimant{ID: "ngo-1", Name: "Shelter", Capacity: 50}))
	require.NoError(t, p.PublishEvent(ctx, models.Event{Type: models.EventClaimApproved, ListingID: "l-9", ClaimID: "c-1", Remaining: 3}))
	require.Len(t, w.msgs, 2)
	require.Equal(t, "ngo-1", string(w.msgs[0].Key))
	require.Equal(t, "l-9", string(w.msgs[1].Key))

	var c models.Claimant
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &c))
	require.Equal(t, 50, c.Capacity)

	var e models.Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &e))
	require.Equal(t, models.EventClaimApproved, e.Type)
	require.Equal(t, 3, e.Remaining)

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}
