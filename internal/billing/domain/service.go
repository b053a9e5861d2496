package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/stagedesk/stagedesk/pkg/db/pagination"
)

type RecordInvoiceRequest struct {
	OrgID                  snowflake.ID
	ExternalInvoiceID      string
	ExternalSubscriptionID string
	Status                 InvoiceStatus
	Amount                 int64
	Tax                    int64
	Total                  int64
	Currency               string
	PaidAt                 *time.Time
	Metadata               map[string]any
}

type RecordPaymentRequest struct {
	OrgID                   snowflake.ID
	ExternalPaymentIntentID string
	ExternalInvoiceID       string
	Amount                  int64
	Currency                string
	Status                  string
	Method                  string
}

type ListInvoicesRequest struct {
	pagination.Pagination
}

type ListInvoicesResponse struct {
	Invoices []Invoice            `json:"invoices"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// StatsResponse summarizes revenue and subscription health for one
// organization. Monetary values are minor currency units; recurring
// revenue is normalized, so yearly plans contribute price/12 to MRR and
// monthly plans contribute price*12 to ARR.
type StatsResponse struct {
	TotalRevenue          int64   `json:"total_revenue"`
	MRR                   int64   `json:"mrr"`
	ARR                   int64   `json:"arr"`
	ARPU                  int64   `json:"arpu"`
	ActiveSubscriptions   int64   `json:"active_subscriptions"`
	TrialingSubscriptions int64   `json:"trialing_subscriptions"`
	CanceledSubscriptions int64   `json:"canceled_subscriptions"`
	ChurnRate             float64 `json:"churn_rate"`
}

type Service interface {
	// RecordInvoice upserts a provider invoice; redelivery of the same
	// external id is a no-op.
	RecordInvoice(ctx context.Context, req RecordInvoiceRequest) error
	// RecordPayment appends a payment, linking it to the invoice with the
	// given external id when one exists.
	RecordPayment(ctx context.Context, req RecordPaymentRequest) error
	ListInvoices(ctx context.Context, req ListInvoicesRequest) (*ListInvoicesResponse, error)
	Stats(ctx context.Context) (*StatsResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidPayment      = errors.New("invalid_payment")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
