package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BillingEvent is the webhook dedup ledger. One row per provider event,
// unique on (provider, provider_event_id); processed_at is set only
// after the side effects committed.
type BillingEvent struct {
	ID              snowflake.ID      `gorm:"column:id;primaryKey" json:"id"`
	Provider        string            `gorm:"column:provider;uniqueIndex:uq_billing_events_provider_event" json:"provider"`
	ProviderEventID string            `gorm:"column:provider_event_id;uniqueIndex:uq_billing_events_provider_event" json:"provider_event_id"`
	EventType       string            `gorm:"column:event_type" json:"event_type"`
	OrgID           *snowflake.ID     `gorm:"column:org_id" json:"org_id,omitempty"`
	Payload         datatypes.JSONMap `gorm:"column:payload;type:jsonb" json:"payload"`
	ReceivedAt      time.Time         `gorm:"column:received_at" json:"received_at"`
	ProcessedAt     *time.Time        `gorm:"column:processed_at" json:"processed_at,omitempty"`
}

func (BillingEvent) TableName() string {
	return "billing_events"
}
