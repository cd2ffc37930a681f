package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event type constants. Postback-bearing events (approval/payment) are
// delivered to the shop's postback URL; the rest feed the integration stream.
const (
	EventClickRecorded      = "click.recorded"
	EventOrderAttributed    = "order.attributed"
	EventCommissionCreated  = "commission.created"
	EventCommissionApproval = "commission.approval"
	EventCommissionPayment  = "commission.payment"
	EventCommissionReversed = "commission.reversed"
	EventPayoutRunPaid      = "payout_run.paid"
	EventLedgerEntryCreated = "ledger.entry_created"
)

// OutboxEvent is the durable outbox row written in the same transaction as
// the state change it announces.
type OutboxEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	ShopID      snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_outbox_events_dedupe,priority:1"`
	EventType   string            `gorm:"type:text;not null;index"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_outbox_events_dedupe,priority:2"`
	Published   bool              `gorm:"not null;default:false;index"`
	PublishedAt *time.Time        `gorm:""`
	Attempts    int               `gorm:"not null;default:0"`
	LastError   *string           `gorm:"type:text"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "outbox_events" }
