package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/stagedesk/stagedesk/pkg/db/pagination"
)

// StatusCount is one row of a subscriptions-by-status aggregation.
type StatusCount struct {
	Status string `gorm:"column:status"`
	Count  int64  `gorm:"column:count"`
}

// PlanCycle is the pricing-relevant projection of one entitled subscription.
type PlanCycle struct {
	PlanID       string `gorm:"column:plan_id"`
	BillingCycle string `gorm:"column:billing_cycle"`
}

type Repository interface {
	// InsertInvoice writes the invoice unless its external id already
	// exists, reporting whether a row was written.
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindInvoiceByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Invoice, error)
	// ListInvoices returns up to limit+1 rows so the caller can detect a
	// following page.
	ListInvoices(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cursor *pagination.Cursor, limit int) ([]Invoice, error)
	SumPaidTotals(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error)
	CountSubscriptionsByStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]StatusCount, error)
	// ListEntitledPlanCycles returns plan and cycle for each trialing or
	// active subscription of the org.
	ListEntitledPlanCycles(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]PlanCycle, error)
}
