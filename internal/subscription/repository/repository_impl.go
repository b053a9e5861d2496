package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stagedesk/stagedesk/internal/subscription/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) CancelLive(ctx context.Context, db *gorm.DB, orgID snowflake.ID, spareExternalID *string, at time.Time) error {
	query := `UPDATE subscriptions
		 SET status = ?, canceled_at = ?, updated_at = ?
		 WHERE org_id = ? AND status IN (?, ?, ?, ?)`
	args := []any{
		domain.StatusCanceled,
		at,
		at,
		orgID,
		domain.StatusTrialing,
		domain.StatusActive,
		domain.StatusPastDue,
		domain.StatusIncomplete,
	}
	if spareExternalID != nil {
		query += ` AND (external_subscription_id IS NULL OR external_subscription_id <> ?)`
		args = append(args, *spareExternalID)
	}
	return db.WithContext(ctx).Exec(query, args...).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) FindLiveByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID, statuses []domain.Status) (*domain.Subscription, error) {
	if len(statuses) == 0 {
		statuses = domain.LiveStatuses
	}
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions
		 WHERE org_id = ? AND status IN ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		orgID,
		statuses,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE external_subscription_id = ?`,
		externalID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE org_id = ? ORDER BY created_at DESC`,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) UpdateCancelState(ctx context.Context, db *gorm.DB, id snowflake.ID, cancelAtPeriodEnd bool, canceledAt *time.Time, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET cancel_at_period_end = ?, canceled_at = ?, updated_at = ?
		 WHERE id = ?`,
		cancelAtPeriodEnd,
		canceledAt,
		at,
		id,
	).Error
}

func (r *repository) UpsertExternal(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, org_id, plan_id, status, billing_cycle,
			current_period_start, current_period_end, trial_start, trial_end,
			cancel_at_period_end, canceled_at,
			external_subscription_id, external_customer_id, metadata,
			created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_subscription_id) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = excluded.status,
			billing_cycle = excluded.billing_cycle,
			current_period_start = excluded.current_period_start,
			current_period_end = excluded.current_period_end,
			trial_start = excluded.trial_start,
			trial_end = excluded.trial_end,
			cancel_at_period_end = excluded.cancel_at_period_end,
			canceled_at = excluded.canceled_at,
			external_customer_id = excluded.external_customer_id,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
		 WHERE subscriptions.current_period_end <= excluded.current_period_end`,
		subscription.ID,
		subscription.OrgID,
		subscription.PlanID,
		subscription.Status,
		subscription.BillingCycle,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.TrialStart,
		subscription.TrialEnd,
		subscription.CancelAtPeriodEnd,
		subscription.CanceledAt,
		subscription.ExternalSubscriptionID,
		subscription.ExternalCustomerID,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
