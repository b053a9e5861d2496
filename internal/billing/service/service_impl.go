package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stagedesk/stagedesk/internal/billing/domain"
	"github.com/stagedesk/stagedesk/internal/clock"
	obsmetrics "github.com/stagedesk/stagedesk/internal/observability/metrics"
	"github.com/stagedesk/stagedesk/internal/orgcontext"
	"github.com/stagedesk/stagedesk/internal/plan"
	subscriptiondomain "github.com/stagedesk/stagedesk/internal/subscription/domain"
	"github.com/stagedesk/stagedesk/pkg/db/pagination"
)

const defaultCurrency = "usd"

// cursorTimeLayout matches the text form drivers use for timestamp
// columns, so keyset comparisons stay consistent.
const cursorTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

var monthsPerYear = decimal.NewFromInt(12)

type Params struct {
	fx.In

	DB            *gorm.DB
	Repo          domain.Repository
	Subscriptions subscriptiondomain.Repository
	Catalog       *plan.CatalogHolder
	GenID         *snowflake.Node
	Clock         clock.Clock
	Log           *zap.Logger
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db            *gorm.DB
	repo          domain.Repository
	subscriptions subscriptiondomain.Repository
	catalog       *plan.CatalogHolder
	genID         *snowflake.Node
	clock         clock.Clock
	log           *zap.Logger
	metrics       *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:            p.DB,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		catalog:       p.Catalog,
		genID:         p.GenID,
		clock:         p.Clock,
		log:           p.Log.Named("billing.service"),
		metrics:       p.Metrics,
	}
}

func (s *service) RecordInvoice(ctx context.Context, req domain.RecordInvoiceRequest) error {
	externalID := strings.TrimSpace(req.ExternalInvoiceID)
	if externalID == "" || req.OrgID == 0 {
		return domain.ErrInvalidInvoice
	}
	status := req.Status
	if status == "" {
		status = domain.InvoiceStatusOpen
	}
	if !status.Valid() {
		return domain.ErrInvalidInvoice
	}

	invoice := &domain.Invoice{
		ID:                s.genID.Generate(),
		OrgID:             req.OrgID,
		ExternalInvoiceID: externalID,
		Status:            status,
		Amount:            req.Amount,
		Currency:          currencyOrDefault(req.Currency),
		Tax:               req.Tax,
		Total:             req.Total,
		PaidAt:            req.PaidAt,
		Metadata:          datatypes.JSONMap(req.Metadata),
		CreatedAt:         s.clock.Now(),
	}
	if invoice.Metadata == nil {
		invoice.Metadata = datatypes.JSONMap{}
	}

	if externalSubID := strings.TrimSpace(req.ExternalSubscriptionID); externalSubID != "" {
		subscription, err := s.subscriptions.FindByExternalID(ctx, s.db, externalSubID)
		if err != nil {
			return err
		}
		if subscription != nil {
			invoice.SubscriptionID = &subscription.ID
		}
	}

	inserted, err := s.repo.InsertInvoice(ctx, s.db, invoice)
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("invoice already recorded", zap.String("external_invoice_id", externalID))
		return nil
	}

	s.metrics.RecordLedgerUpsert(ctx, "invoice")
	s.log.Info("invoice recorded",
		zap.String("org_id", req.OrgID.String()),
		zap.String("external_invoice_id", externalID),
		zap.String("status", string(status)),
	)
	return nil
}

func (s *service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) error {
	externalID := strings.TrimSpace(req.ExternalPaymentIntentID)
	if externalID == "" || req.OrgID == 0 {
		return domain.ErrInvalidPayment
	}

	payment := &domain.Payment{
		ID:                      s.genID.Generate(),
		OrgID:                   req.OrgID,
		ExternalPaymentIntentID: externalID,
		Amount:                  req.Amount,
		Currency:                currencyOrDefault(req.Currency),
		Status:                  strings.TrimSpace(req.Status),
		Method:                  strings.TrimSpace(req.Method),
		CreatedAt:               s.clock.Now(),
	}

	if externalInvoiceID := strings.TrimSpace(req.ExternalInvoiceID); externalInvoiceID != "" {
		invoice, err := s.repo.FindInvoiceByExternalID(ctx, s.db, externalInvoiceID)
		if err != nil {
			return err
		}
		if invoice != nil {
			payment.InvoiceID = &invoice.ID
		}
	}

	inserted, err := s.repo.InsertPayment(ctx, s.db, payment)
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Debug("payment already recorded", zap.String("external_payment_intent_id", externalID))
		return nil
	}

	s.metrics.RecordLedgerUpsert(ctx, "payment")
	s.log.Info("payment recorded",
		zap.String("org_id", req.OrgID.String()),
		zap.String("external_payment_intent_id", externalID),
	)
	return nil
}

func (s *service) ListInvoices(ctx context.Context, req domain.ListInvoicesRequest) (*domain.ListInvoicesResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	limit := req.PageSize
	if limit < 1 {
		limit = 10
	}
	if limit > 250 {
		limit = 250
	}

	var cursor *pagination.Cursor
	if req.PageToken != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		cursor = decoded
	}

	items, err := s.repo.ListInvoices(ctx, s.db, orgID, cursor, limit)
	if err != nil {
		return nil, err
	}

	pageInfo := &pagination.PageInfo{}
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(cursorTimeLayout),
		})
		if err != nil {
			return nil, err
		}
		pageInfo.HasMore = true
		pageInfo.NextPageToken = token
	}

	return &domain.ListInvoicesResponse{Invoices: items, PageInfo: pageInfo}, nil
}

func (s *service) Stats(ctx context.Context) (*domain.StatsResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	revenue, err := s.repo.SumPaidTotals(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	statusCounts, err := s.repo.CountSubscriptionsByStatus(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	planCycles, err := s.repo.ListEntitledPlanCycles(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	stats := &domain.StatsResponse{TotalRevenue: revenue}
	for _, row := range statusCounts {
		switch subscriptiondomain.Status(row.Status) {
		case subscriptiondomain.StatusActive:
			stats.ActiveSubscriptions = row.Count
		case subscriptiondomain.StatusTrialing:
			stats.TrialingSubscriptions = row.Count
		case subscriptiondomain.StatusCanceled:
			stats.CanceledSubscriptions = row.Count
		}
	}

	catalog := s.catalog.Current()
	mrr := decimal.Zero
	arr := decimal.Zero
	for _, row := range planCycles {
		selected, err := catalog.Get(row.PlanID)
		if err != nil {
			s.log.Warn("subscription references unknown plan, excluded from revenue stats",
				zap.String("plan_id", row.PlanID),
			)
			continue
		}
		// Yearly plans contribute price/12 to MRR; monthly plans
		// contribute price*12 to ARR.
		if subscriptiondomain.BillingCycle(row.BillingCycle) == subscriptiondomain.CycleYearly {
			yearly := decimal.NewFromInt(selected.Price.Yearly)
			mrr = mrr.Add(yearly.Div(monthsPerYear))
			arr = arr.Add(yearly)
		} else {
			monthly := decimal.NewFromInt(selected.Price.Monthly)
			mrr = mrr.Add(monthly)
			arr = arr.Add(monthly.Mul(monthsPerYear))
		}
	}
	stats.MRR = mrr.Round(0).IntPart()
	stats.ARR = arr.Round(0).IntPart()

	payers := stats.ActiveSubscriptions + stats.TrialingSubscriptions
	if payers > 0 {
		stats.ARPU = mrr.Div(decimal.NewFromInt(payers)).Round(0).IntPart()
	}

	total := payers + stats.CanceledSubscriptions
	if total > 0 {
		stats.ChurnRate, _ = decimal.NewFromInt(stats.CanceledSubscriptions).
			Div(decimal.NewFromInt(total)).
			Mul(decimal.NewFromInt(100)).
			Round(2).
			Float64()
	}

	return stats, nil
}

func currencyOrDefault(currency string) string {
	trimmed := strings.ToLower(strings.TrimSpace(currency))
	if trimmed == "" {
		return defaultCurrency
	}
	return trimmed
}
