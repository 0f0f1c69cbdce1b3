package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/observability"
)

// SMSGateway posts bulk SMS to an HTTP gateway that accepts a comma separated
// list of numbers and authenticates with an API key header.
type SMSGateway struct {
	Endpoint string
	Key      string
	SenderID string
	client   *resty.Client
	log      *slog.Logger
}

func NewSMSGateway(endpoint, key string, log *slog.Logger) *SMSGateway {
	return &SMSGateway{
		Endpoint: endpoint,
		Key:      key,
		SenderID: "FDRSCU",
		client:   resty.New().SetTimeout(5 * time.Second),
		log:      log,
	}
}

type smsRequest struct {
	SenderID string `json:"sender_id"`
	Message  string `json:"message"`
	Route    string `json:"route"`
	Numbers  string `json:"numbers"`
}

// Send posts message to numbers in one request.
func (g *SMSGateway) Send(ctx context.Context, numbers []string, message string) error {
	if len(numbers) == 0 {
		return nil
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Authorization", g.Key).
		SetBody(smsRequest{SenderID: g.SenderID, Message: message, Route: "q", Numbers: strings.Join(numbers, ",")}).
		Post(g.Endpoint)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("sms gateway status: %d", resp.StatusCode())
	}
	return nil
}

// SendOne satisfies Sender for the outbox consumer.
func (g *SMSGateway) SendOne(ctx context.Context, msg OutboundMessage) error {
	return g.Send(ctx, []string{msg.To}, msg.Body)
}

// Deliver texts every recipient that has a phone number.
func (g *SMSGateway) Deliver(ctx context.Context, to []models.Contact, message string) int {
	nums := phones(to)
	if len(nums) == 0 {
		return 0
	}
	if err := g.Send(ctx, nums, message); err != nil {
		if g.log != nil {
			g.log.Warn("sms delivery failed", "recipients", len(nums), "error", err)
		}
		observability.NotificationsFailed.WithLabelValues("sms").Add(float64(len(nums)))
		return 0
	}
	observability.NotificationsSent.WithLabelValues("sms").Add(float64(len(nums)))
	return len(nums)
}
