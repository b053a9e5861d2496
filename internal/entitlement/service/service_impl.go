package service

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stagedesk/stagedesk/internal/entitlement/domain"
	obsmetrics "github.com/stagedesk/stagedesk/internal/observability/metrics"
	"github.com/stagedesk/stagedesk/internal/orgcontext"
	"github.com/stagedesk/stagedesk/internal/plan"
	subscriptiondomain "github.com/stagedesk/stagedesk/internal/subscription/domain"
	usagedomain "github.com/stagedesk/stagedesk/internal/usage/domain"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Subscriptions subscriptiondomain.Repository
	Usage         usagedomain.Service
	Catalog       *plan.CatalogHolder
	Log           *zap.Logger
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db            *gorm.DB
	subscriptions subscriptiondomain.Repository
	usage         usagedomain.Service
	catalog       *plan.CatalogHolder
	log           *zap.Logger
	metrics       *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:            p.DB,
		subscriptions: p.Subscriptions,
		usage:         p.Usage,
		catalog:       p.Catalog,
		log:           p.Log.Named("entitlement.service"),
		metrics:       p.Metrics,
	}
}

func (s *service) CurrentPlan(ctx context.Context) (plan.Plan, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return plan.Plan{}, domain.ErrInvalidOrganization
	}

	catalog := s.catalog.Current()
	subscription, err := s.subscriptions.FindLiveByOrg(ctx, s.db, orgID, subscriptiondomain.EntitledStatuses)
	if err != nil {
		return plan.Plan{}, err
	}
	if subscription == nil {
		return catalog.Default(), nil
	}

	selected, err := catalog.Get(subscription.PlanID)
	if err != nil {
		// A subscription can outlive a catalog change. Entitlements fall
		// back to the default plan rather than granting unknown limits.
		s.log.Warn("subscription references unknown plan, using default",
			zap.String("org_id", orgID.String()),
			zap.String("plan_id", subscription.PlanID),
		)
		return catalog.Default(), nil
	}
	return selected, nil
}

func (s *service) CanPerform(ctx context.Context, resource plan.Resource) (domain.Decision, error) {
	currentPlan, err := s.CurrentPlan(ctx)
	if err != nil {
		return domain.Decision{}, err
	}

	limit, err := currentPlan.Limits.For(resource)
	if err != nil {
		return domain.Decision{}, domain.ErrUnknownResource
	}
	if limit == -1 {
		s.recordCheck(ctx, resource, true)
		return domain.Decision{Allowed: true}, nil
	}

	snapshot, err := s.usage.Snapshot(ctx)
	if err != nil {
		// Without usage counts the check cannot be answered, so it denies.
		s.recordCheck(ctx, resource, false)
		return domain.Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("usage for %s could not be determined", resource),
		}, fmt.Errorf("%w: %v", domain.ErrUsageUnavailable, err)
	}

	used := usedFor(snapshot, resource)
	if used >= limit {
		s.recordCheck(ctx, resource, false)
		return domain.Decision{
			Allowed: false,
			Reason: fmt.Sprintf("%s limit reached on the %s plan (%d/%d)",
				resource, currentPlan.Name, used, limit),
		}, nil
	}

	s.recordCheck(ctx, resource, true)
	return domain.Decision{Allowed: true}, nil
}

func (s *service) HasFeature(ctx context.Context, feature plan.Feature) (bool, error) {
	currentPlan, err := s.CurrentPlan(ctx)
	if err != nil {
		return false, err
	}
	return currentPlan.Features.Has(feature), nil
}

func (s *service) UsageStats(ctx context.Context) (*domain.UsageStatsResponse, error) {
	currentPlan, err := s.CurrentPlan(ctx)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.usage.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	resources := make(map[plan.Resource]domain.ResourceStats, 5)
	for _, resource := range []plan.Resource{
		plan.ResourceUsers,
		plan.ResourceProjects,
		plan.ResourceContacts,
		plan.ResourceStorage,
		plan.ResourceOrganizations,
	} {
		limit, err := currentPlan.Limits.For(resource)
		if err != nil {
			return nil, err
		}
		used := usedFor(snapshot, resource)
		resources[resource] = domain.ResourceStats{
			Used:        used,
			Limit:       limit,
			Utilization: utilization(used, limit),
		}
	}

	features := make(map[plan.Feature]bool, 6)
	for _, feature := range []plan.Feature{
		plan.FeatureAdvancedReporting,
		plan.FeatureCustomBranding,
		plan.FeatureAPIAccess,
		plan.FeaturePrioritySupport,
		plan.FeatureWhiteLabel,
		plan.FeatureMultiOrganization,
	} {
		features[feature] = currentPlan.Features.Has(feature)
	}

	s.metrics.RecordUsageSnapshot(ctx, "all")

	return &domain.UsageStatsResponse{
		PlanID:    string(currentPlan.Code),
		PlanName:  currentPlan.Name,
		Resources: resources,
		Features:  features,
	}, nil
}

func (s *service) recordCheck(ctx context.Context, resource plan.Resource, allowed bool) {
	decision := "allow"
	if !allowed {
		decision = "deny"
	}
	s.metrics.RecordEntitlementCheck(ctx, string(resource), decision)
}

func usedFor(snapshot usagedomain.Snapshot, resource plan.Resource) int64 {
	switch resource {
	case plan.ResourceUsers:
		return snapshot.Users
	case plan.ResourceProjects:
		return snapshot.Projects
	case plan.ResourceContacts:
		return snapshot.Contacts
	case plan.ResourceStorage:
		return snapshot.StorageMB
	case plan.ResourceOrganizations:
		return snapshot.Organizations
	default:
		return 0
	}
}

// utilization returns percentage use of a limit. Unlimited and zero
// limits report 0 to keep the division defined.
func utilization(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}
