package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stagedesk/stagedesk/internal/billing/domain"
	"github.com/stagedesk/stagedesk/internal/billing/repository"
	"github.com/stagedesk/stagedesk/internal/clock"
	"github.com/stagedesk/stagedesk/internal/orgcontext"
	"github.com/stagedesk/stagedesk/internal/plan"
	subscriptiondomain "github.com/stagedesk/stagedesk/internal/subscription/domain"
	subscriptionrepository "github.com/stagedesk/stagedesk/internal/subscription/repository"
)

type fixture struct {
	svc  domain.Service
	db   *gorm.DB
	fake *clock.FakeClock
	node *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&domain.Invoice{},
		&domain.Payment{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:            gdb,
		Repo:          repository.NewRepository(),
		Subscriptions: subscriptionrepository.NewRepository(),
		Catalog:       plan.NewStaticHolder(plan.DefaultCatalog()),
		GenID:         node,
		Clock:         fake,
		Log:           zap.NewNop(),
	})
	return &fixture{svc: svc, db: gdb, fake: fake, node: node}
}

func (f *fixture) seedSubscription(t *testing.T, orgID int64, planID, cycle string, status subscriptiondomain.Status, externalID string) {
	t.Helper()
	now := f.fake.Now()
	row := &subscriptiondomain.Subscription{
		ID:                 f.node.Generate(),
		OrgID:              snowflake.ID(orgID),
		PlanID:             planID,
		Status:             status,
		BillingCycle:       subscriptiondomain.BillingCycle(cycle),
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if externalID != "" {
		row.ExternalSubscriptionID = &externalID
	}
	require.NoError(t, f.db.Create(row).Error)
}

func orgCtx(orgID int64) context.Context {
	return orgcontext.WithOrgID(context.Background(), orgID)
}

func TestRecordInvoiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := domain.RecordInvoiceRequest{
		OrgID:             10,
		ExternalInvoiceID: "in_100",
		Status:            domain.InvoiceStatusPaid,
		Amount:            2900,
		Total:             2900,
	}
	require.NoError(t, f.svc.RecordInvoice(ctx, req))
	// Redelivery of the same invoice writes nothing.
	require.NoError(t, f.svc.RecordInvoice(ctx, req))

	var n int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM invoices`).Scan(&n).Error)
	require.Equal(t, int64(1), n)
}

func TestRecordInvoiceLinksSubscription(t *testing.T) {
	f := newFixture(t)
	f.seedSubscription(t, 10, "STARTER", "monthly", subscriptiondomain.StatusActive, "sub_1")

	require.NoError(t, f.svc.RecordInvoice(context.Background(), domain.RecordInvoiceRequest{
		OrgID:                  10,
		ExternalInvoiceID:      "in_100",
		ExternalSubscriptionID: "sub_1",
		Status:                 domain.InvoiceStatusPaid,
		Total:                  2900,
	}))

	var linked int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM invoices WHERE subscription_id IS NOT NULL`,
	).Scan(&linked).Error)
	require.Equal(t, int64(1), linked)
}

func TestRecordInvoiceValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.RecordInvoice(ctx, domain.RecordInvoiceRequest{OrgID: 10})
	require.ErrorIs(t, err, domain.ErrInvalidInvoice)

	err = f.svc.RecordInvoice(ctx, domain.RecordInvoiceRequest{
		OrgID:             10,
		ExternalInvoiceID: "in_1",
		Status:            domain.InvoiceStatus("void"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidInvoice)
}

func TestRecordPaymentIsIdempotentAndLinksInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RecordInvoice(ctx, domain.RecordInvoiceRequest{
		OrgID:             10,
		ExternalInvoiceID: "in_100",
		Status:            domain.InvoiceStatusPaid,
		Total:             2900,
	}))

	req := domain.RecordPaymentRequest{
		OrgID:                   10,
		ExternalPaymentIntentID: "pi_1",
		ExternalInvoiceID:       "in_100",
		Amount:                  2900,
		Status:                  "succeeded",
		Method:                  "card",
	}
	require.NoError(t, f.svc.RecordPayment(ctx, req))
	require.NoError(t, f.svc.RecordPayment(ctx, req))

	var n int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payments`).Scan(&n).Error)
	require.Equal(t, int64(1), n)

	var linked int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM payments WHERE invoice_id IS NOT NULL`,
	).Scan(&linked).Error)
	require.Equal(t, int64(1), linked)
}

func TestListInvoicesPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := orgCtx(10)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.RecordInvoice(context.Background(), domain.RecordInvoiceRequest{
			OrgID:             10,
			ExternalInvoiceID: "in_" + string(rune('a'+i)),
			Status:            domain.InvoiceStatusPaid,
			Total:             1000,
		}))
		f.fake.Advance(time.Minute)
	}

	resp, err := f.svc.ListInvoices(ctx, domain.ListInvoicesRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Invoices, 3)
	require.False(t, resp.PageInfo.HasMore)

	page, err := f.svc.ListInvoices(ctx, listRequest(2, ""))
	require.NoError(t, err)
	require.Len(t, page.Invoices, 2)
	require.True(t, page.PageInfo.HasMore)
	require.NotEmpty(t, page.PageInfo.NextPageToken)

	rest, err := f.svc.ListInvoices(ctx, listRequest(2, page.PageInfo.NextPageToken))
	require.NoError(t, err)
	require.Len(t, rest.Invoices, 1)
	require.False(t, rest.PageInfo.HasMore)
}

func listRequest(size int, token string) domain.ListInvoicesRequest {
	req := domain.ListInvoicesRequest{}
	req.PageSize = size
	req.PageToken = token
	return req
}

func TestListInvoicesRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListInvoices(orgCtx(10), listRequest(10, "not-base64!"))
	require.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestStatsNormalizesRecurringRevenue(t *testing.T) {
	f := newFixture(t)

	// Yearly STARTER (29000/yr) and monthly PROFESSIONAL (7900/mo) in two
	// different orgs; only org 10 is inspected.
	f.seedSubscription(t, 10, "STARTER", "yearly", subscriptiondomain.StatusActive, "")
	f.seedSubscription(t, 11, "PROFESSIONAL", "monthly", subscriptiondomain.StatusActive, "")

	stats, err := f.svc.Stats(orgCtx(10))
	require.NoError(t, err)
	// 29000 / 12 rounds to 2417.
	require.Equal(t, int64(2417), stats.MRR)
	require.Equal(t, int64(29000), stats.ARR)
	require.Equal(t, int64(1), stats.ActiveSubscriptions)
	require.Equal(t, int64(2417), stats.ARPU)
	require.Zero(t, stats.ChurnRate)
}

func TestStatsCountsAndChurn(t *testing.T) {
	f := newFixture(t)
	ctx := orgCtx(10)

	f.seedSubscription(t, 10, "PROFESSIONAL", "monthly", subscriptiondomain.StatusCanceled, "")
	f.seedSubscription(t, 10, "STARTER", "monthly", subscriptiondomain.StatusActive, "")

	require.NoError(t, f.svc.RecordInvoice(context.Background(), domain.RecordInvoiceRequest{
		OrgID:             10,
		ExternalInvoiceID: "in_paid",
		Status:            domain.InvoiceStatusPaid,
		Total:             2900,
	}))
	require.NoError(t, f.svc.RecordInvoice(context.Background(), domain.RecordInvoiceRequest{
		OrgID:             10,
		ExternalInvoiceID: "in_open",
		Status:            domain.InvoiceStatusOpen,
		Total:             7900,
	}))

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2900), stats.TotalRevenue)
	require.Equal(t, int64(2900), stats.MRR)
	require.Equal(t, int64(2900*12), stats.ARR)
	require.Equal(t, int64(1), stats.ActiveSubscriptions)
	require.Equal(t, int64(1), stats.CanceledSubscriptions)
	require.InDelta(t, 50.0, stats.ChurnRate, 0.001)
}

func TestStatsEmptyOrg(t *testing.T) {
	f := newFixture(t)

	stats, err := f.svc.Stats(orgCtx(42))
	require.NoError(t, err)
	require.Zero(t, stats.TotalRevenue)
	require.Zero(t, stats.MRR)
	require.Zero(t, stats.ARPU)
	require.Zero(t, stats.ChurnRate)
}
