package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/example/food-rescue/internal/logging"
	"github.com/example/food-rescue/internal/models"
)

var now = time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

type countDispatcher int

func (c countDispatcher) Deliver(context.Context, []models.Contact, string) int { return int(c) }

func TestFanoutReportsBestChannel(t *testing.T) {
	f := Fanout{countDispatcher(2), countDispatcher(5), countDispatcher(0)}
	require.Equal(t, 5, f.Deliver(context.Background(), nil, "hi"))
	require.Equal(t, 0, Fanout{}.Deliver(context.Background(), nil, "hi"))
}

func TestLogDispatcherCountsEveryone(t *testing.T) {
	d := LogDispatcher{Log: logging.Discard()}
	require.Equal(t, 2, d.Deliver(context.Background(), []models.Contact{{ID: "a"}, {ID: "b"}}, "x"))
}

func TestOfferMessage(t *testing.T) {
	l := models.Listing{
		SupplierName: "Corner Bistro", FoodName: "Vegetable biryani", Category: "cooked",
		Quantity: 12, ExpiresAt: now.Add(90 * time.Minute),
	}
	require.Equal(t,
		"URGENT Corner Bistro: Vegetable birya (12 servings, cooked) available for 1h. Login to FoodRescue to request.",
		OfferMessage(l, now, "FoodRescue"))

	l.ExpiresAt = now.Add(4 * time.Hour)
	l.Unit = "kg"
	require.True(t, strings.HasPrefix(OfferMessage(l, now, "FoodRescue"), "HIGH PRIORITY Corner Bistro: "))
	require.Contains(t, OfferMessage(l, now, "FoodRescue"), "(12 kg, cooked)")

	l.ExpiresAt = now.Add(6 * time.Hour)
	require.True(t, strings.HasPrefix(OfferMessage(l, now, "FoodRescue"), "Corner Bistro: "))

	long := OfferMessage(l, now, strings.Repeat("x", 200))
	require.Len(t, []rune(long), 160)
	require.True(t, strings.HasSuffix(long, "..."))
}

func TestSMSGatewayDeliver(t *testing.T) {
	var (
		mu   sync.Mutex
		got  smsRequest
		auth string
		fail bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"return":true}`))
	}))
	defer srv.Close()

	g := NewSMSGateway(srv.URL, "secret", logging.Discard())
	to := []models.Contact{
		{ID: "a", Phone: "9876543210"},
		{ID: "b"},
		{ID: "c", Phone: "9123456780"},
		{ID: "d", Phone: "9876543210"},
	}
	require.Equal(t, 2, g.Deliver(context.Background(), to, "food nearby"))
	mu.Lock()
	require.Equal(t, "secret", auth)
	require.Equal(t, "9876543210,9123456780", got.Numbers)
	require.Equal(t, "food nearby", got.Message)
	fail = true
	mu.Unlock()

	require.Equal(t, 0, g.Deliver(context.Background(), to, "food nearby"))
	require.Equal(t, 0, g.Deliver(context.Background(), []models.Contact{{ID: "x"}}, "no phones"))
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestOutboxDeliver(t *testing.T) {
	w := &fakeWriter{}
	o := &Outbox{w: w, log: logging.Discard()}
	n := o.Deliver(context.Background(), []models.Contact{{ID: "a", Phone: "1"}, {ID: "b"}, {ID: "c", Phone: "3"}}, "hello")
	require.Equal(t, 2, n)
	require.Len(t, w.msgs, 2)

	var m OutboundMessage
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &m))
	require.Equal(t, "c", m.RecipientID)
	require.Equal(t, "3", m.To)
	require.Equal(t, "hello", m.Body)
	require.NotEmpty(t, m.ID)
	require.Equal(t, "c", string(w.msgs[1].Key))

	w.err = errors.New("broker down")
	require.Equal(t, 0, o.Deliver(context.Background(), []models.Contact{{ID: "a", Phone: "1"}}, "hello"))
}

type flakySender struct {
	failures int
	calls    int
}

func (f *flakySender) SendOne(context.Context, OutboundMessage) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("gateway timeout")
	}
	return nil
}

func newTestConsumer(s Sender, dlq *fakeWriter) *OutboxConsumer {
	return &OutboxConsumer{
		dlq:        dlq,
		sender:     s,
		log:        logging.Discard(),
		MaxRetries: 3,
		Backoff:    func(int) time.Duration { return time.Millisecond },
	}
}

func TestOutboxConsumerRetries(t *testing.T) {
	body, err := json.Marshal(OutboundMessage{ID: "m1", To: "1", Body: "hi"})
	require.NoError(t, err)

	dlq := &fakeWriter{}
	s := &flakySender{failures: 2}
	require.NoError(t, newTestConsumer(s, dlq).handle(context.Background(), kafka.Message{Value: body}))
	require.Equal(t, 3, s.calls)
	require.Empty(t, dlq.msgs)

	s = &flakySender{failures: 5}
	err = newTestConsumer(s, dlq).handle(context.Background(), kafka.Message{Key: []byte("k"), Value: body})
	require.Error(t, err)
	require.Equal(t, 3, s.calls)
	require.Len(t, dlq.msgs, 1)
	require.Equal(t, "k", string(dlq.msgs[0].Key))
}

func TestOutboxConsumerBadPayloadGoesToDLQ(t *testing.T) {
	dlq := &fakeWriter{}
	s := &flakySender{}
	err := newTestConsumer(s, dlq).handle(context.Background(), kafka.Message{Value: []byte("{")})
	require.Error(t, err)
	require.Zero(t, s.calls)
	require.Len(t, dlq.msgs, 1)
}

func TestWSRegistryDeliver(t *testing.T) {
	reg := NewWSRegistry(logging.Discard())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Add(r.URL.Query().Get("id"), conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?id=ngo-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return reg.Connected("ngo-1") }, time.Second, 5*time.Millisecond)

	n := reg.Deliver(context.Background(), []models.Contact{{ID: "ngo-1"}, {ID: "offline"}}, "rice nearby")
	require.Equal(t, 1, n)

	var notice Notice
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&notice))
	require.Equal(t, "offer", notice.Type)
	require.Equal(t, "rice nearby", notice.Message)

	require.ErrorIs(t, reg.Offer("offline", notice), ErrNoSession)
}
