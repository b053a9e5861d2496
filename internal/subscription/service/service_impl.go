package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stagedesk/stagedesk/internal/clock"
	obsmetrics "github.com/stagedesk/stagedesk/internal/observability/metrics"
	"github.com/stagedesk/stagedesk/internal/orgcontext"
	"github.com/stagedesk/stagedesk/internal/plan"
	"github.com/stagedesk/stagedesk/internal/subscription/domain"
	"github.com/stagedesk/stagedesk/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Repo    domain.Repository
	Catalog *plan.CatalogHolder
	GenID   *snowflake.Node
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	repo    domain.Repository
	catalog *plan.CatalogHolder
	genID   *snowflake.Node
	clock   clock.Clock
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:      p.DB,
		repo:    p.Repo,
		catalog: p.Catalog,
		genID:   p.GenID,
		clock:   p.Clock,
		log:     p.Log.Named("subscription.service"),
		metrics: p.Metrics,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.SubscriptionResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	selected, err := s.catalog.Current().Get(req.PlanID)
	if err != nil {
		return nil, domain.ErrInvalidPlan
	}

	cycle := domain.BillingCycle(strings.ToLower(strings.TrimSpace(req.BillingCycle)))
	if cycle == "" {
		cycle = domain.CycleMonthly
	}
	if !cycle.Valid() {
		return nil, domain.ErrInvalidBillingCycle
	}

	// Free plans activate immediately; paid plans stay incomplete until
	// the billing provider confirms them via webhook.
	status := domain.StatusActive
	if selected.Price.Monthly > 0 || selected.Price.Yearly > 0 {
		status = domain.StatusIncomplete
	}

	now := s.clock.Now()
	subscription := &domain.Subscription{
		ID:                 s.genID.Generate(),
		OrgID:              orgID,
		PlanID:             string(selected.Code),
		Status:             status,
		BillingCycle:       cycle,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd(now, cycle),
		Metadata:           datatypes.JSONMap{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.createReplacingLive(ctx, subscription, now)
	if db.IsDuplicateKeyErr(err) {
		// Lost a race on the one-live-per-org index: the competing row is
		// live now, so cancel it and try once more.
		err = s.createReplacingLive(ctx, subscription, s.clock.Now())
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrConflict
		}
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSubscriptionTransition(ctx, "", string(status))
	s.log.Info("subscription created",
		zap.String("org_id", orgID.String()),
		zap.String("plan_id", subscription.PlanID),
		zap.String("status", string(status)),
	)

	return toResponse(subscription), nil
}

func (s *service) createReplacingLive(ctx context.Context, subscription *domain.Subscription, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CancelLive(ctx, tx, subscription.OrgID, nil, now); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, subscription)
	})
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.SubscriptionResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	subID, err := parseID(id, domain.ErrInvalidSubscription)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, subID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return toResponse(item), nil
}

func (s *service) Current(ctx context.Context) (*domain.SubscriptionResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	item, err := s.repo.FindLiveByOrg(ctx, s.db, orgID, domain.LiveStatuses)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return toResponse(item), nil
}

func (s *service) ListByOrg(ctx context.Context) ([]domain.SubscriptionResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	items, err := s.repo.List(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SubscriptionResponse, 0, len(items))
	for i := range items {
		out = append(out, *toResponse(&items[i]))
	}
	return out, nil
}

func (s *service) CancelAtPeriodEnd(ctx context.Context, id string) (*domain.SubscriptionResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	subID, err := parseID(id, domain.ErrInvalidSubscription)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, subID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	if item.Status.Terminal() {
		return nil, domain.ErrTerminalState
	}
	if item.CancelAtPeriodEnd {
		// Repeated cancel requests are a no-op.
		return toResponse(item), nil
	}

	now := s.clock.Now()
	if err := s.repo.UpdateCancelState(ctx, s.db, item.ID, true, item.CanceledAt, now); err != nil {
		return nil, err
	}
	item.CancelAtPeriodEnd = true
	item.UpdatedAt = now

	s.log.Info("subscription scheduled for cancellation",
		zap.String("org_id", orgID.String()),
		zap.String("subscription_id", item.ID.String()),
	)

	return toResponse(item), nil
}

func (s *service) Resume(ctx context.Context, id string) (*domain.SubscriptionResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	subID, err := parseID(id, domain.ErrInvalidSubscription)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, subID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	if item.Status.Terminal() {
		return nil, domain.ErrAlreadyCanceled
	}
	if !item.CancelAtPeriodEnd && item.CanceledAt == nil {
		return toResponse(item), nil
	}

	now := s.clock.Now()
	if err := s.repo.UpdateCancelState(ctx, s.db, item.ID, false, nil, now); err != nil {
		return nil, err
	}
	item.CancelAtPeriodEnd = false
	item.CanceledAt = nil
	item.UpdatedAt = now

	s.log.Info("subscription resumed",
		zap.String("org_id", orgID.String()),
		zap.String("subscription_id", item.ID.String()),
	)

	return toResponse(item), nil
}

func (s *service) ApplyExternalSnapshot(ctx context.Context, snapshot domain.ExternalSnapshot) (bool, error) {
	externalID := strings.TrimSpace(snapshot.ExternalSubscriptionID)
	if externalID == "" {
		return false, domain.ErrInvalidSnapshot
	}
	if snapshot.OrgID == 0 {
		return false, domain.ErrInvalidOrganization
	}
	if _, err := s.catalog.Current().Get(snapshot.PlanID); err != nil {
		return false, domain.ErrInvalidPlan
	}
	if !snapshot.Status.Valid() {
		return false, domain.ErrInvalidStatus
	}
	if snapshot.CurrentPeriodEnd.Before(snapshot.CurrentPeriodStart) {
		return false, domain.ErrInvalidPeriod
	}

	cycle := snapshot.BillingCycle
	if cycle == "" {
		cycle = domain.CycleMonthly
	}
	if !cycle.Valid() {
		return false, domain.ErrInvalidBillingCycle
	}

	now := s.clock.Now()
	row := &domain.Subscription{
		ID:                     s.genID.Generate(),
		OrgID:                  snapshot.OrgID,
		PlanID:                 strings.ToUpper(strings.TrimSpace(snapshot.PlanID)),
		Status:                 snapshot.Status,
		BillingCycle:           cycle,
		CurrentPeriodStart:     snapshot.CurrentPeriodStart,
		CurrentPeriodEnd:       snapshot.CurrentPeriodEnd,
		TrialStart:             snapshot.TrialStart,
		TrialEnd:               snapshot.TrialEnd,
		CancelAtPeriodEnd:      snapshot.CancelAtPeriodEnd,
		CanceledAt:             snapshot.CanceledAt,
		ExternalSubscriptionID: &externalID,
		ExternalCustomerID:     strings.TrimSpace(snapshot.ExternalCustomerID),
		Metadata:               datatypes.JSONMap(snapshot.Metadata),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if row.Metadata == nil {
		row.Metadata = datatypes.JSONMap{}
	}

	var applied bool
	var previousStatus domain.Status
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}
		if existing != nil {
			previousStatus = existing.Status
		}

		// A live snapshot for this external id supersedes any other live
		// subscription the org holds, locally created incomplete rows
		// included.
		if snapshot.Status.Live() {
			if err := s.repo.CancelLive(ctx, tx, snapshot.OrgID, &externalID, now); err != nil {
				return err
			}
		}

		applied, err = s.repo.UpsertExternal(ctx, tx, row)
		return err
	})
	if err != nil {
		return false, err
	}

	if applied && previousStatus != snapshot.Status {
		s.metrics.RecordSubscriptionTransition(ctx, string(previousStatus), string(snapshot.Status))
	}
	if !applied {
		s.log.Warn("stale subscription snapshot discarded",
			zap.String("external_subscription_id", externalID),
			zap.Time("period_end", snapshot.CurrentPeriodEnd),
		)
	}

	return applied, nil
}

func periodEnd(start time.Time, cycle domain.BillingCycle) time.Time {
	if cycle == domain.CycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func toResponse(item *domain.Subscription) *domain.SubscriptionResponse {
	resp := &domain.SubscriptionResponse{
		ID:                 item.ID.String(),
		OrgID:              item.OrgID.String(),
		PlanID:             item.PlanID,
		Status:             item.Status,
		BillingCycle:       item.BillingCycle,
		CurrentPeriodStart: item.CurrentPeriodStart,
		CurrentPeriodEnd:   item.CurrentPeriodEnd,
		TrialStart:         item.TrialStart,
		TrialEnd:           item.TrialEnd,
		CancelAtPeriodEnd:  item.CancelAtPeriodEnd,
		CanceledAt:         item.CanceledAt,
	}
	if item.ExternalSubscriptionID != nil {
		resp.ExternalSubscriptionID = *item.ExternalSubscriptionID
	}
	return resp
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, invalidErr
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil {
		return 0, invalidErr
	}
	return parsed, nil
}
