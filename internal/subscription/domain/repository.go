package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// CancelLive marks every live subscription of the org canceled,
	// optionally sparing the row with the given external id.
	CancelLive(ctx context.Context, db *gorm.DB, orgID snowflake.ID, spareExternalID *string, at time.Time) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	FindLiveByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID, statuses []Status) (*Subscription, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Subscription, error)
	UpdateCancelState(ctx context.Context, db *gorm.DB, id snowflake.ID, cancelAtPeriodEnd bool, canceledAt *time.Time, at time.Time) error
	// UpsertExternal atomically inserts or refreshes the row keyed by
	// external_subscription_id, skipping writes whose period end is older
	// than the stored one. Reports whether the write applied.
	UpsertExternal(ctx context.Context, db *gorm.DB, subscription *Subscription) (bool, error)
}
