package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent writes the dedup row unless (provider, provider_event_id)
	// already exists, reporting whether a row was written.
	InsertEvent(ctx context.Context, db *gorm.DB, event *BillingEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*BillingEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, provider, providerEventID string, at time.Time) error
}
