package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPaid, InvoiceStatusOpen, InvoiceStatusUncollectible:
		return true
	default:
		return false
	}
}

// Invoice mirrors a provider invoice. Amounts are minor currency units.
type Invoice struct {
	ID                snowflake.ID      `gorm:"column:id;primaryKey" json:"id"`
	OrgID             snowflake.ID      `gorm:"column:org_id;index" json:"org_id"`
	SubscriptionID    *snowflake.ID     `gorm:"column:subscription_id" json:"subscription_id,omitempty"`
	ExternalInvoiceID string            `gorm:"column:external_invoice_id;uniqueIndex:uq_invoices_external_invoice_id" json:"external_invoice_id"`
	Status            InvoiceStatus     `gorm:"column:status" json:"status"`
	Amount            int64             `gorm:"column:amount" json:"amount"`
	Currency          string            `gorm:"column:currency" json:"currency"`
	Tax               int64             `gorm:"column:tax" json:"tax"`
	Total             int64             `gorm:"column:total" json:"total"`
	PaidAt            *time.Time        `gorm:"column:paid_at" json:"paid_at,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt         time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}

type Payment struct {
	ID                      snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	OrgID                   snowflake.ID  `gorm:"column:org_id;index" json:"org_id"`
	InvoiceID               *snowflake.ID `gorm:"column:invoice_id" json:"invoice_id,omitempty"`
	ExternalPaymentIntentID string        `gorm:"column:external_payment_intent_id;uniqueIndex:uq_payments_external_payment_intent_id" json:"external_payment_intent_id"`
	Amount                  int64         `gorm:"column:amount" json:"amount"`
	Currency                string        `gorm:"column:currency" json:"currency"`
	Status                  string        `gorm:"column:status" json:"status"`
	Method                  string        `gorm:"column:method" json:"method"`
	CreatedAt               time.Time     `gorm:"column:created_at" json:"created_at"`
}

func (Payment) TableName() string {
	return "payments"
}
