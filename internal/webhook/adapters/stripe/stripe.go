package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/stagedesk/stagedesk/internal/clock"
	"github.com/stagedesk/stagedesk/internal/webhook/domain"
)

// Adapter verifies Stripe webhook signatures and parses payloads into
// the provider-neutral event union.
type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	clock         clock.Clock
}

func NewAdapter(webhookSecret string, toleranceSeconds int64, clk clock.Clock) *Adapter {
	return &Adapter{
		webhookSecret: strings.TrimSpace(webhookSecret),
		tolerance:     time.Duration(toleranceSeconds) * time.Second,
		clock:         clk,
	}
}

func (a *Adapter) Provider() string {
	return "stripe"
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	if a.tolerance > 0 {
		seconds, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return domain.ErrInvalidSignature
		}
		age := a.clock.Now().Sub(time.Unix(seconds, 0))
		if age > a.tolerance || age < -a.tolerance {
			return domain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "customer.subscription.created":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionCreated)
	case "customer.subscription.updated":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionDeleted)
	case "customer.subscription.trial_will_end":
		return a.parseSubscription(event, payload, domain.EventTypeTrialWillEnd)
	case "invoice.payment_succeeded":
		return a.parseInvoice(event, payload, domain.EventTypePaymentSucceeded)
	case "invoice.payment_failed":
		return a.parseInvoice(event, payload, domain.EventTypePaymentFailed)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialStart         int64             `json:"trial_start"`
	TrialEnd           int64             `json:"trial_end"`
	Items              stripeItemList    `json:"items"`
	Metadata           map[string]string `json:"metadata"`
}

type stripeItemList struct {
	Data []stripeItem `json:"data"`
}

type stripeItem struct {
	Plan stripePlan `json:"plan"`
}

type stripePlan struct {
	Interval string `json:"interval"`
}

type stripeInvoice struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	PaymentIntent     string            `json:"payment_intent"`
	AmountDue         int64             `json:"amount_due"`
	AmountPaid        int64             `json:"amount_paid"`
	Tax               int64             `json:"tax"`
	Total             int64             `json:"total"`
	Currency          string            `json:"currency"`
	StatusTransitions stripeTransitions `json:"status_transitions"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeTransitions struct {
	PaidAt int64 `json:"paid_at"`
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte, eventType domain.EventType) (*domain.Event, error) {
	var subscription stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &subscription); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(subscription.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	status := mapSubscriptionStatus(subscription.Status)
	if eventType == domain.EventTypeSubscriptionDeleted {
		status = "canceled"
	}

	data := &domain.SubscriptionData{
		ExternalSubscriptionID: subscription.ID,
		ExternalCustomerID:     strings.TrimSpace(subscription.Customer),
		OrgID:                  metadataOrgID(subscription.Metadata),
		PlanID:                 strings.TrimSpace(subscription.Metadata["plan_id"]),
		Status:                 status,
		BillingCycle:           mapInterval(subscription.Items),
		CurrentPeriodStart:     unixTime(subscription.CurrentPeriodStart),
		CurrentPeriodEnd:       unixTime(subscription.CurrentPeriodEnd),
		TrialStart:             optionalUnixTime(subscription.TrialStart),
		TrialEnd:               optionalUnixTime(subscription.TrialEnd),
		CancelAtPeriodEnd:      subscription.CancelAtPeriodEnd,
		CanceledAt:             optionalUnixTime(subscription.CanceledAt),
	}
	if eventType == domain.EventTypeSubscriptionDeleted && data.CanceledAt == nil {
		canceledAt := timestamp(event.Created, a.clock)
		data.CanceledAt = &canceledAt
	}

	return &domain.Event{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Type:            eventType,
		OccurredAt:      timestamp(event.Created, a.clock),
		Subscription:    data,
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte, eventType domain.EventType) (*domain.Event, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	amount := invoice.AmountPaid
	if amount <= 0 {
		amount = invoice.AmountDue
	}

	return &domain.Event{
		Provider:        a.Provider(),
		ProviderEventID: event.ID,
		Type:            eventType,
		OccurredAt:      timestamp(event.Created, a.clock),
		Invoice: &domain.InvoiceData{
			ExternalInvoiceID:       invoice.ID,
			ExternalSubscriptionID:  strings.TrimSpace(invoice.Subscription),
			ExternalPaymentIntentID: strings.TrimSpace(invoice.PaymentIntent),
			OrgID:                   metadataOrgID(invoice.Metadata),
			Amount:                  amount,
			Tax:                     invoice.Tax,
			Total:                   invoice.Total,
			Currency:                strings.ToLower(strings.TrimSpace(invoice.Currency)),
			PaidAt:                  optionalUnixTime(invoice.StatusTransitions.PaidAt),
		},
		RawPayload: payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func mapSubscriptionStatus(status string) string {
	switch strings.TrimSpace(status) {
	case "unpaid":
		return "past_due"
	case "incomplete_expired":
		return "canceled"
	default:
		return strings.TrimSpace(status)
	}
}

func mapInterval(items stripeItemList) string {
	for _, item := range items.Data {
		switch strings.TrimSpace(item.Plan.Interval) {
		case "year":
			return "yearly"
		case "month":
			return "monthly"
		}
	}
	return "monthly"
}

func metadataOrgID(metadata map[string]string) snowflake.ID {
	raw := strings.TrimSpace(metadata["org_id"])
	if raw == "" {
		return 0
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0
	}
	return id
}

func unixTime(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

func optionalUnixTime(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}

func timestamp(value int64, clk clock.Clock) time.Time {
	if value == 0 {
		return clk.Now()
	}
	return time.Unix(value, 0).UTC()
}
