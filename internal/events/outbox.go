package events

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	pkgdb "github.com/smallbiznis/partnerly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is the publish request. DedupeKey, when set, makes repeated
// publication of the same logical event a no-op.
type Event struct {
	ShopID    snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

type OutboxParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

// Outbox appends events inside the caller's transaction so a state change
// and its announcement commit or roll back together.
type Outbox struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{
		db:    p.DB,
		log:   p.Log.Named("events.outbox"),
		genID: p.GenID,
	}
}

// Publish appends an event outside any caller transaction.
func (o *Outbox) Publish(ctx context.Context, ev Event) error {
	return o.PublishTx(ctx, o.db, ev)
}

// PublishTx appends an event using tx. A duplicate dedupe key is treated as
// already-published and returns nil.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, ev Event) error {
	if tx == nil {
		tx = o.db
	}
	eventType := strings.TrimSpace(ev.Type)
	if eventType == "" {
		return nil
	}

	record := OutboxEvent{
		ID:        o.genID.Generate(),
		ShopID:    ev.ShopID,
		EventType: eventType,
		Payload:   datatypes.JSONMap(ev.Payload),
		CreatedAt: time.Now().UTC(),
	}
	if key := strings.TrimSpace(ev.DedupeKey); key != "" {
		record.DedupeKey = &key
	}

	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	return nil
}

// PendingBatch returns up to limit unpublished events with fewer than
// maxAttempts delivery attempts, oldest first.
func (o *Outbox) PendingBatch(ctx context.Context, limit, maxAttempts int) ([]OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []OutboxEvent
	err := o.db.WithContext(ctx).
		Where("published = ? AND attempts < ?", false, maxAttempts).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkPublished records a successful delivery.
func (o *Outbox) MarkPublished(ctx context.Context, id snowflake.ID) error {
	now := time.Now().UTC()
	return o.db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET published = ?, published_at = ?, attempts = attempts + 1, last_error = NULL
		 WHERE id = ?`,
		true, now, id,
	).Error
}

// MarkPublishedByKey records a successful out-of-band delivery for the
// event carrying the dedupe key, so the dispatcher does not send it again.
func (o *Outbox) MarkPublishedByKey(ctx context.Context, shopID snowflake.ID, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	now := time.Now().UTC()
	return o.db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET published = ?, published_at = ?, attempts = attempts + 1, last_error = NULL
		 WHERE shop_id = ? AND dedupe_key = ? AND published = ?`,
		true, now, shopID, key, false,
	).Error
}

// MarkFailed records a delivery attempt that did not succeed; the event
// stays pending until the attempt cap is reached.
func (o *Outbox) MarkFailed(ctx context.Context, id snowflake.ID, deliveryErr error) error {
	msg := ""
	if deliveryErr != nil {
		msg = deliveryErr.Error()
	}
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return o.db.WithContext(ctx).Exec(
		`UPDATE outbox_events
		 SET attempts = attempts + 1, last_error = ?
		 WHERE id = ?`,
		msg, id,
	).Error
}
