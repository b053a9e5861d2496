// Package domain contains persistence models for organization subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s == StatusCanceled }

// Live reports whether the status counts against the one-per-org invariant.
func (s Status) Live() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusIncomplete:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Live() || s == StatusCanceled
}

// LiveStatuses are all non-terminal states.
var LiveStatuses = []Status{StatusTrialing, StatusActive, StatusPastDue, StatusIncomplete}

// EntitledStatuses are the states that grant plan entitlements.
var EntitledStatuses = []Status{StatusTrialing, StatusActive}

// BillingCycle is the renewal period of a subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Valid reports whether c is a known billing cycle.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Subscription captures an organization's plan agreement. At most one
// live row may exist per organization; canceled rows are kept as history.
type Subscription struct {
	ID                     snowflake.ID      `gorm:"primaryKey"`
	OrgID                  snowflake.ID      `gorm:"not null;index"`
	PlanID                 string            `gorm:"type:text;not null"`
	Status                 Status            `gorm:"type:text;not null"`
	BillingCycle           BillingCycle      `gorm:"type:text;not null;default:'monthly'"`
	CurrentPeriodStart     time.Time         `gorm:"not null"`
	CurrentPeriodEnd       time.Time         `gorm:"not null"`
	TrialStart             *time.Time        `gorm:""`
	TrialEnd               *time.Time        `gorm:""`
	CancelAtPeriodEnd      bool              `gorm:"not null;default:false"`
	CanceledAt             *time.Time        `gorm:""`
	ExternalSubscriptionID *string           `gorm:"type:text;uniqueIndex:ux_subscriptions_external_id"`
	ExternalCustomerID     string            `gorm:"type:text"`
	Metadata               datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
