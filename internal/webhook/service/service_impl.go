package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/stagedesk/stagedesk/internal/billing/domain"
	"github.com/stagedesk/stagedesk/internal/clock"
	obsmetrics "github.com/stagedesk/stagedesk/internal/observability/metrics"
	"github.com/stagedesk/stagedesk/internal/plan"
	subscriptiondomain "github.com/stagedesk/stagedesk/internal/subscription/domain"
	"github.com/stagedesk/stagedesk/internal/webhook/adapters"
	"github.com/stagedesk/stagedesk/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Repo             domain.Repository
	Registry         *adapters.Registry
	Subscriptions    subscriptiondomain.Service
	SubscriptionRepo subscriptiondomain.Repository
	Billing          billingdomain.Service
	Catalog          *plan.CatalogHolder
	GenID            *snowflake.Node
	Clock            clock.Clock
	Log              *zap.Logger
	Metrics          *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db               *gorm.DB
	repo             domain.Repository
	registry         *adapters.Registry
	subscriptions    subscriptiondomain.Service
	subscriptionRepo subscriptiondomain.Repository
	billing          billingdomain.Service
	catalog          *plan.CatalogHolder
	genID            *snowflake.Node
	clock            clock.Clock
	log              *zap.Logger
	metrics          *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:               p.DB,
		repo:             p.Repo,
		registry:         p.Registry,
		subscriptions:    p.Subscriptions,
		subscriptionRepo: p.SubscriptionRepo,
		billing:          p.Billing,
		catalog:          p.Catalog,
		genID:            p.GenID,
		clock:            p.Clock,
		log:              p.Log.Named("webhook.service"),
		metrics:          p.Metrics,
	}
}

func (s *service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	started := time.Now()

	adapter, ok := s.registry.Get(provider)
	if !ok {
		return domain.ErrProviderNotFound
	}
	provider = adapter.Provider()

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "invalid_signature")
		return domain.ErrInvalidSignature
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "ignored")
			return domain.ErrEventIgnored
		}
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "invalid_payload")
		s.log.Warn("webhook payload could not be parsed",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return err
	}

	inserted, err := s.recordEvent(ctx, event)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if existing != nil && existing.ProcessedAt != nil {
			s.metrics.RecordWebhookEvent(ctx, event.Provider, string(event.Type), "duplicate")
			return domain.ErrEventAlreadyProcessed
		}
		// The row exists but processing never finished; run the dispatch
		// again.
	}

	if err := s.dispatch(ctx, event); err != nil {
		s.metrics.RecordWebhookEvent(ctx, event.Provider, string(event.Type), "error")
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, event.Provider, event.ProviderEventID, s.clock.Now()); err != nil {
		return err
	}

	s.metrics.RecordWebhookEvent(ctx, event.Provider, string(event.Type), "processed")
	s.metrics.ObserveWebhookDuration(ctx, event.Provider, time.Since(started))
	return nil
}

func (s *service) recordEvent(ctx context.Context, event *domain.Event) (bool, error) {
	var body datatypes.JSONMap
	if err := json.Unmarshal(event.RawPayload, &body); err != nil {
		body = datatypes.JSONMap{}
	}

	row := &domain.BillingEvent{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       string(event.Type),
		Payload:         body,
		ReceivedAt:      s.clock.Now(),
	}
	if event.Subscription != nil && event.Subscription.OrgID != 0 {
		row.OrgID = &event.Subscription.OrgID
	}
	if event.Invoice != nil && event.Invoice.OrgID != 0 {
		row.OrgID = &event.Invoice.OrgID
	}

	return s.repo.InsertEvent(ctx, s.db, row)
}

func (s *service) dispatch(ctx context.Context, event *domain.Event) error {
	switch event.Type {
	case domain.EventTypeSubscriptionCreated,
		domain.EventTypeSubscriptionUpdated,
		domain.EventTypeSubscriptionDeleted:
		return s.applySubscription(ctx, event)
	case domain.EventTypeTrialWillEnd:
		s.log.Info("subscription trial ending soon",
			zap.String("provider", event.Provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	case domain.EventTypePaymentSucceeded, domain.EventTypePaymentFailed:
		return s.applyInvoice(ctx, event)
	default:
		return domain.ErrInvalidEvent
	}
}

func (s *service) applySubscription(ctx context.Context, event *domain.Event) error {
	data := event.Subscription
	if data == nil {
		return domain.ErrInvalidEvent
	}

	// Events without org and plan metadata cannot be projected onto
	// local state. They are acknowledged so the provider stops retrying.
	if data.OrgID == 0 {
		s.log.Warn("subscription event missing org metadata, acknowledged",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("external_subscription_id", data.ExternalSubscriptionID),
		)
		return nil
	}
	if _, err := s.catalog.Current().Get(data.PlanID); err != nil {
		s.log.Warn("subscription event has unknown plan metadata, acknowledged",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("plan_id", data.PlanID),
		)
		return nil
	}

	applied, err := s.subscriptions.ApplyExternalSnapshot(ctx, subscriptiondomain.ExternalSnapshot{
		ExternalSubscriptionID: data.ExternalSubscriptionID,
		ExternalCustomerID:     data.ExternalCustomerID,
		OrgID:                  data.OrgID,
		PlanID:                 data.PlanID,
		Status:                 subscriptiondomain.Status(data.Status),
		BillingCycle:           subscriptiondomain.BillingCycle(data.BillingCycle),
		CurrentPeriodStart:     data.CurrentPeriodStart,
		CurrentPeriodEnd:       data.CurrentPeriodEnd,
		TrialStart:             data.TrialStart,
		TrialEnd:               data.TrialEnd,
		CancelAtPeriodEnd:      data.CancelAtPeriodEnd,
		CanceledAt:             data.CanceledAt,
	})
	if err != nil {
		// Malformed snapshots are acknowledged like missing metadata;
		// anything else is transient and the provider should retry.
		if errors.Is(err, subscriptiondomain.ErrInvalidSnapshot) ||
			errors.Is(err, subscriptiondomain.ErrInvalidStatus) ||
			errors.Is(err, subscriptiondomain.ErrInvalidPeriod) ||
			errors.Is(err, subscriptiondomain.ErrInvalidBillingCycle) {
			s.log.Warn("subscription event rejected, acknowledged",
				zap.String("provider_event_id", event.ProviderEventID),
				zap.Error(err),
			)
			return nil
		}
		return err
	}
	if !applied {
		s.log.Info("stale subscription event discarded",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("external_subscription_id", data.ExternalSubscriptionID),
		)
	}
	return nil
}

func (s *service) applyInvoice(ctx context.Context, event *domain.Event) error {
	data := event.Invoice
	if data == nil {
		return domain.ErrInvalidEvent
	}

	orgID := data.OrgID
	if orgID == 0 && data.ExternalSubscriptionID != "" {
		subscription, err := s.subscriptionRepo.FindByExternalID(ctx, s.db, data.ExternalSubscriptionID)
		if err != nil {
			return err
		}
		if subscription != nil {
			orgID = subscription.OrgID
		}
	}
	if orgID == 0 {
		s.log.Warn("invoice event missing org metadata, acknowledged",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("external_invoice_id", data.ExternalInvoiceID),
		)
		return nil
	}

	// A failed payment parks the invoice as uncollectible until the
	// provider reports a successful retry.
	status := billingdomain.InvoiceStatusUncollectible
	paidAt := data.PaidAt
	if event.Type == domain.EventTypePaymentSucceeded {
		status = billingdomain.InvoiceStatusPaid
		if paidAt == nil {
			occurred := event.OccurredAt
			paidAt = &occurred
		}
	}

	err := s.billing.RecordInvoice(ctx, billingdomain.RecordInvoiceRequest{
		OrgID:                  orgID,
		ExternalInvoiceID:      data.ExternalInvoiceID,
		ExternalSubscriptionID: data.ExternalSubscriptionID,
		Status:                 status,
		Amount:                 data.Amount,
		Tax:                    data.Tax,
		Total:                  data.Total,
		Currency:               data.Currency,
		PaidAt:                 paidAt,
	})
	if err != nil {
		return err
	}

	if event.Type == domain.EventTypePaymentSucceeded && data.ExternalPaymentIntentID != "" {
		return s.billing.RecordPayment(ctx, billingdomain.RecordPaymentRequest{
			OrgID:                   orgID,
			ExternalPaymentIntentID: data.ExternalPaymentIntentID,
			ExternalInvoiceID:       data.ExternalInvoiceID,
			Amount:                  data.Amount,
			Currency:                data.Currency,
			Status:                  "succeeded",
			Method:                  "card",
		})
	}
	return nil
}
