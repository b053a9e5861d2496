package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/stagedesk/stagedesk/internal/webhook/domain"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.BillingEvent) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO billing_events (
			id, provider, provider_event_id, event_type, org_id,
			payload, received_at, processed_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.OrgID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.BillingEvent, error) {
	var item domain.BillingEvent
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM billing_events WHERE provider = ? AND provider_event_id = ?`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) MarkProcessed(ctx context.Context, db *gorm.DB, provider, providerEventID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_events
		 SET processed_at = ?
		 WHERE provider = ? AND provider_event_id = ?`,
		at,
		provider,
		providerEventID,
	).Error
}
