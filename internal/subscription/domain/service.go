package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateSubscriptionRequest struct {
	PlanID       string `json:"plan_id"`
	BillingCycle string `json:"billing_cycle"`
}

// ExternalSnapshot is a provider's view of a subscription, projected
// onto local state keyed by ExternalSubscriptionID. Last writer wins;
// snapshots with an older period end than the stored row are discarded.
type ExternalSnapshot struct {
	ExternalSubscriptionID string
	ExternalCustomerID     string
	OrgID                  snowflake.ID
	PlanID                 string
	Status                 Status
	BillingCycle           BillingCycle
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
	CanceledAt             *time.Time
	Metadata               map[string]any
}

type SubscriptionResponse struct {
	ID                     string       `json:"id"`
	OrgID                  string       `json:"org_id"`
	PlanID                 string       `json:"plan_id"`
	Status                 Status       `json:"status"`
	BillingCycle           BillingCycle `json:"billing_cycle"`
	CurrentPeriodStart     time.Time    `json:"current_period_start"`
	CurrentPeriodEnd       time.Time    `json:"current_period_end"`
	TrialStart             *time.Time   `json:"trial_start,omitempty"`
	TrialEnd               *time.Time   `json:"trial_end,omitempty"`
	CancelAtPeriodEnd      bool         `json:"cancel_at_period_end"`
	CanceledAt             *time.Time   `json:"canceled_at,omitempty"`
	ExternalSubscriptionID string       `json:"external_subscription_id,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResponse, error)
	GetByID(ctx context.Context, id string) (*SubscriptionResponse, error)
	// Current returns the live subscription for the org in context, or
	// ErrSubscriptionNotFound when the org has none.
	Current(ctx context.Context) (*SubscriptionResponse, error)
	ListByOrg(ctx context.Context) ([]SubscriptionResponse, error)
	CancelAtPeriodEnd(ctx context.Context, id string) (*SubscriptionResponse, error)
	Resume(ctx context.Context, id string) (*SubscriptionResponse, error)
	// ApplyExternalSnapshot upserts provider state and reports whether
	// the write applied (false when rejected as stale).
	ApplyExternalSnapshot(ctx context.Context, snapshot ExternalSnapshot) (bool, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidBillingCycle  = errors.New("invalid_billing_cycle")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidSnapshot      = errors.New("invalid_snapshot")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	// ErrTerminalState rejects mutations of canceled subscriptions.
	ErrTerminalState = errors.New("terminal_state")
	// ErrAlreadyCanceled rejects resuming a canceled subscription.
	ErrAlreadyCanceled = errors.New("already_canceled")
	ErrConflict        = errors.New("subscription_conflict")
)
