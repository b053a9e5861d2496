package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/stagedesk/stagedesk/internal/billing/domain"
	"github.com/stagedesk/stagedesk/pkg/db/pagination"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, org_id, subscription_id, external_invoice_id, status,
			amount, currency, tax, total, paid_at, metadata, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_invoice_id) DO NOTHING`,
		invoice.ID,
		invoice.OrgID,
		invoice.SubscriptionID,
		invoice.ExternalInvoiceID,
		invoice.Status,
		invoice.Amount,
		invoice.Currency,
		invoice.Tax,
		invoice.Total,
		invoice.PaidAt,
		invoice.Metadata,
		invoice.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, org_id, invoice_id, external_payment_intent_id,
			amount, currency, status, method, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_payment_intent_id) DO NOTHING`,
		payment.ID,
		payment.OrgID,
		payment.InvoiceID,
		payment.ExternalPaymentIntentID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.Method,
		payment.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindInvoiceByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Invoice, error) {
	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE external_invoice_id = ?`,
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

func (r *repository) ListInvoices(ctx context.Context, db *gorm.DB, orgID snowflake.ID, cursor *pagination.Cursor, limit int) ([]domain.Invoice, error) {
	query := `SELECT * FROM invoices WHERE org_id = ?`
	args := []any{orgID}
	if cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	var items []domain.Invoice
	err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) SumPaidTotals(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(total), 0) FROM invoices WHERE org_id = ? AND status = ?`,
		orgID,
		domain.InvoiceStatusPaid,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) CountSubscriptionsByStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.StatusCount, error) {
	var rows []domain.StatusCount
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS count
		 FROM subscriptions
		 WHERE org_id = ?
		 GROUP BY status`,
		orgID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListEntitledPlanCycles(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.PlanCycle, error) {
	var rows []domain.PlanCycle
	err := db.WithContext(ctx).Raw(
		`SELECT plan_id, billing_cycle
		 FROM subscriptions
		 WHERE org_id = ? AND status IN (?, ?)`,
		orgID,
		"trialing",
		"active",
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
