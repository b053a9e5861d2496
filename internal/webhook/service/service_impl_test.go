package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/stagedesk/stagedesk/internal/billing/domain"
	billingrepository "github.com/stagedesk/stagedesk/internal/billing/repository"
	billingservice "github.com/stagedesk/stagedesk/internal/billing/service"
	"github.com/stagedesk/stagedesk/internal/clock"
	"github.com/stagedesk/stagedesk/internal/plan"
	subscriptiondomain "github.com/stagedesk/stagedesk/internal/subscription/domain"
	subscriptionrepository "github.com/stagedesk/stagedesk/internal/subscription/repository"
	subscriptionservice "github.com/stagedesk/stagedesk/internal/subscription/service"
	"github.com/stagedesk/stagedesk/internal/webhook/adapters"
	"github.com/stagedesk/stagedesk/internal/webhook/adapters/stripe"
	"github.com/stagedesk/stagedesk/internal/webhook/domain"
	"github.com/stagedesk/stagedesk/internal/webhook/repository"
)

const testSecret = "whsec_test"

type fixture struct {
	svc  domain.Service
	db   *gorm.DB
	fake *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&billingdomain.Invoice{},
		&billingdomain.Payment{},
		&domain.BillingEvent{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	catalog := plan.NewStaticHolder(plan.DefaultCatalog())
	log := zap.NewNop()
	subscriptionRepo := subscriptionrepository.NewRepository()

	subscriptions := subscriptionservice.NewService(subscriptionservice.Params{
		DB:      gdb,
		Repo:    subscriptionRepo,
		Catalog: catalog,
		GenID:   node,
		Clock:   fake,
		Log:     log,
	})
	billing := billingservice.NewService(billingservice.Params{
		DB:            gdb,
		Repo:          billingrepository.NewRepository(),
		Subscriptions: subscriptionRepo,
		Catalog:       catalog,
		GenID:         node,
		Clock:         fake,
		Log:           log,
	})
	svc := NewService(Params{
		DB:               gdb,
		Repo:             repository.NewRepository(),
		Registry:         adapters.NewRegistry(stripe.NewAdapter(testSecret, 300, fake)),
		Subscriptions:    subscriptions,
		SubscriptionRepo: subscriptionRepo,
		Billing:          billing,
		Catalog:          catalog,
		GenID:            node,
		Clock:            fake,
		Log:              log,
	})
	return &fixture{svc: svc, db: gdb, fake: fake}
}

func (f *fixture) signedHeaders(payload []byte) http.Header {
	timestamp := f.fake.Now().Unix()
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(testSecret))
	_, _ = mac.Write([]byte(signedPayload))
	header := http.Header{}
	header.Set("Stripe-Signature",
		fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil))))
	return header
}

func subscriptionPayload(t *testing.T, eventID, externalID string, orgID int64, periodEnd time.Time) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    "customer.subscription.updated",
		"created": periodEnd.AddDate(0, -1, 0).Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":                   externalID,
				"customer":             "cus_1",
				"status":               "active",
				"current_period_start": periodEnd.AddDate(0, -1, 0).Unix(),
				"current_period_end":   periodEnd.Unix(),
				"items": map[string]any{
					"data": []map[string]any{
						{"plan": map[string]any{"interval": "month"}},
					},
				},
				"metadata": map[string]any{
					"org_id":  fmt.Sprintf("%d", orgID),
					"plan_id": "STARTER",
				},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func invoicePayload(t *testing.T, eventID string, orgID int64) []byte {
	t.Helper()
	meta := map[string]any{}
	if orgID != 0 {
		meta["org_id"] = fmt.Sprintf("%d", orgID)
	}
	payload, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": "invoice.payment_succeeded",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "in_1",
				"customer":       "cus_1",
				"subscription":   "sub_1",
				"payment_intent": "pi_1",
				"amount_paid":    2900,
				"total":          2900,
				"currency":       "usd",
				"metadata":       meta,
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestIngestSubscriptionEvent(t *testing.T) {
	f := newFixture(t)
	payload := subscriptionPayload(t, "evt_1", "sub_1", 10, f.fake.Now().AddDate(0, 1, 0))

	require.NoError(t, f.svc.Ingest(context.Background(), "stripe", payload, f.signedHeaders(payload)))

	var count int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM subscriptions WHERE external_subscription_id = ?`, "sub_1",
	).Scan(&count).Error)
	require.Equal(t, int64(1), count)

	var processed int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM billing_events WHERE processed_at IS NOT NULL`,
	).Scan(&processed).Error)
	require.Equal(t, int64(1), processed)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	payload := subscriptionPayload(t, "evt_1", "sub_1", 10, f.fake.Now().AddDate(0, 1, 0))

	header := http.Header{}
	header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	err := f.svc.Ingest(context.Background(), "stripe", payload, header)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error)
	require.Zero(t, count)
}

func TestIngestUnknownProvider(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{}`)

	err := f.svc.Ingest(context.Background(), "paypal", payload, http.Header{})
	require.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestIngestDeduplicatesRedelivery(t *testing.T) {
	f := newFixture(t)
	payload := subscriptionPayload(t, "evt_1", "sub_1", 10, f.fake.Now().AddDate(0, 1, 0))
	headers := f.signedHeaders(payload)

	require.NoError(t, f.svc.Ingest(context.Background(), "stripe", payload, headers))
	err := f.svc.Ingest(context.Background(), "stripe", payload, headers)
	require.ErrorIs(t, err, domain.ErrEventAlreadyProcessed)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM billing_events`).Scan(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestIngestIgnoresUnknownEventType(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"evt_x","type":"charge.succeeded","data":{"object":{}}}`)

	err := f.svc.Ingest(context.Background(), "stripe", payload, f.signedHeaders(payload))
	require.ErrorIs(t, err, domain.ErrEventIgnored)
}

func TestIngestAcksMissingOrgMetadata(t *testing.T) {
	f := newFixture(t)
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_noorg",
		"type": "customer.subscription.updated",
		"data": map[string]any{
			"object": map[string]any{
				"id":                   "sub_x",
				"customer":             "cus_1",
				"status":               "active",
				"current_period_start": f.fake.Now().Unix(),
				"current_period_end":   f.fake.Now().AddDate(0, 1, 0).Unix(),
				"metadata":             map[string]any{},
			},
		},
	})
	require.NoError(t, err)

	// Acknowledged without creating local state.
	require.NoError(t, f.svc.Ingest(context.Background(), "stripe", payload, f.signedHeaders(payload)))

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM subscriptions`).Scan(&count).Error)
	require.Zero(t, count)

	var processed int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM billing_events WHERE processed_at IS NOT NULL`,
	).Scan(&processed).Error)
	require.Equal(t, int64(1), processed)
}

func TestIngestInvoiceRecordsLedger(t *testing.T) {
	f := newFixture(t)

	// The invoice carries no org metadata; org resolution goes through
	// the linked subscription.
	sub := subscriptionPayload(t, "evt_sub", "sub_1", 10, f.fake.Now().AddDate(0, 1, 0))
	require.NoError(t, f.svc.Ingest(context.Background(), "stripe", sub, f.signedHeaders(sub)))

	payload := invoicePayload(t, "evt_inv", 0)
	require.NoError(t, f.svc.Ingest(context.Background(), "stripe", payload, f.signedHeaders(payload)))

	var invoices int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM invoices WHERE status = ?`, "paid",
	).Scan(&invoices).Error)
	require.Equal(t, int64(1), invoices)

	var payments int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payments`).Scan(&payments).Error)
	require.Equal(t, int64(1), payments)
}

func TestIngestFailedPaymentRecordsUncollectibleInvoice(t *testing.T) {
	f := newFixture(t)

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_fail",
		"type": "invoice.payment_failed",
		"data": map[string]any{
			"object": map[string]any{
				"id":         "in_fail",
				"customer":   "cus_1",
				"amount_due": 2900,
				"total":      2900,
				"currency":   "usd",
				"metadata":   map[string]any{"org_id": "10"},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Ingest(context.Background(), "stripe", payload, f.signedHeaders(payload)))

	var status string
	require.NoError(t, f.db.Raw(
		`SELECT status FROM invoices WHERE external_invoice_id = ?`, "in_fail",
	).Scan(&status).Error)
	require.Equal(t, "uncollectible", status)

	// No payment intent, no payment row.
	var payments int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payments`).Scan(&payments).Error)
	require.Zero(t, payments)
}

func TestIngestStaleSubscriptionEventIsAcked(t *testing.T) {
	f := newFixture(t)
	now := f.fake.Now()

	newer := subscriptionPayload(t, "evt_new", "sub_1", 10, now.AddDate(0, 2, 0))
	require.NoError(t, f.svc.Ingest(context.Background(), "stripe", newer, f.signedHeaders(newer)))

	older := subscriptionPayload(t, "evt_old", "sub_1", 10, now.AddDate(0, 1, 0))
	require.NoError(t, f.svc.Ingest(context.Background(), "stripe", older, f.signedHeaders(older)))

	var periodEnd time.Time
	require.NoError(t, f.db.Raw(
		`SELECT current_period_end FROM subscriptions WHERE external_subscription_id = ?`, "sub_1",
	).Scan(&periodEnd).Error)
	require.True(t, periodEnd.Equal(now.AddDate(0, 2, 0)))
}
