package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventType string

const (
	EventTypeSubscriptionCreated EventType = "subscription.created"
	EventTypeSubscriptionUpdated EventType = "subscription.updated"
	EventTypeSubscriptionDeleted EventType = "subscription.deleted"
	EventTypePaymentSucceeded    EventType = "invoice.payment_succeeded"
	EventTypePaymentFailed       EventType = "invoice.payment_failed"
	EventTypeTrialWillEnd        EventType = "subscription.trial_will_end"
)

// SubscriptionData carries the provider's subscription state. OrgID and
// PlanID come from provider metadata and may be absent.
type SubscriptionData struct {
	ExternalSubscriptionID string
	ExternalCustomerID     string
	OrgID                  snowflake.ID
	PlanID                 string
	Status                 string
	BillingCycle           string
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
	CanceledAt             *time.Time
}

type InvoiceData struct {
	ExternalInvoiceID       string
	ExternalSubscriptionID  string
	ExternalPaymentIntentID string
	OrgID                   snowflake.ID
	Amount                  int64
	Tax                     int64
	Total                   int64
	Currency                string
	PaidAt                  *time.Time
}

// Event is the provider-neutral union an adapter parses a payload into.
// Exactly one of Subscription or Invoice is set, depending on Type.
type Event struct {
	Provider        string
	ProviderEventID string
	Type            EventType
	OccurredAt      time.Time
	Subscription    *SubscriptionData
	Invoice         *InvoiceData
	RawPayload      []byte
}

// ProviderAdapter verifies and parses one provider's webhook payloads.
type ProviderAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

type Service interface {
	// Ingest verifies, dedups, and dispatches one webhook delivery.
	// ErrEventAlreadyProcessed and ErrEventIgnored are acknowledgments,
	// not failures; transient store errors propagate so the provider
	// retries.
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

var (
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
