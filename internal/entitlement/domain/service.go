package domain

import (
	"context"
	"errors"

	"github.com/stagedesk/stagedesk/internal/plan"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrUnknownResource     = errors.New("unknown_resource")
	ErrUnknownFeature      = errors.New("unknown_feature")
	// ErrUsageUnavailable marks checks that failed because usage could not
	// be read. Such checks always deny.
	ErrUsageUnavailable = errors.New("usage_unavailable")
)

// Decision is the outcome of an entitlement check. Reason is set only
// when the action is denied.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ResourceStats reports consumption of one resource against its plan
// limit. Limit -1 means unlimited; Utilization is 0 in that case.
type ResourceStats struct {
	Used        int64   `json:"used"`
	Limit       int64   `json:"limit"`
	Utilization float64 `json:"utilization"`
}

// UsageStatsResponse is the full usage report for an organization.
type UsageStatsResponse struct {
	PlanID    string                          `json:"plan_id"`
	PlanName  string                          `json:"plan_name"`
	Resources map[plan.Resource]ResourceStats `json:"resources"`
	Features  map[plan.Feature]bool           `json:"features"`
}

// Service answers "may this org do X" questions. Checks are advisory:
// usage is read at check time, so a concurrent write can still push an
// org slightly past a limit.
type Service interface {
	// CurrentPlan resolves the effective plan for the org in context.
	// Orgs without a trialing or active subscription fall back to FREE.
	CurrentPlan(ctx context.Context) (plan.Plan, error)
	// CanPerform reports whether the org may create one more unit of
	// resource. It denies when the usage store is unreachable.
	CanPerform(ctx context.Context, resource plan.Resource) (Decision, error)
	HasFeature(ctx context.Context, feature plan.Feature) (bool, error)
	UsageStats(ctx context.Context) (*UsageStatsResponse, error)
}
