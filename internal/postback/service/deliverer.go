package service

import (
	"context"

	"github.com/smallbiznis/partnerly/internal/events"
	postbackdomain "github.com/smallbiznis/partnerly/internal/postback/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type DelivererParams struct {
	fx.In

	Log        *zap.Logger
	Dispatcher postbackdomain.Dispatcher
	Outbox     *events.Outbox
}

type Deliverer struct {
	log        *zap.Logger
	dispatcher postbackdomain.Dispatcher
	outbox     *events.Outbox
}

func NewDeliverer(p DelivererParams) postbackdomain.Deliverer {
	return &Deliverer{
		log:        p.Log.Named("postback.deliverer"),
		dispatcher: p.Dispatcher,
		outbox:     p.Outbox,
	}
}

// DeliverAll implements domain.Deliverer. It runs strictly after the
// owning transaction committed: successes retire their outbox rows,
// failures stay queued for the redelivery job.
func (d *Deliverer) DeliverAll(ctx context.Context, deliveries []postbackdomain.Delivery) []postbackdomain.Result {
	results := make([]postbackdomain.Result, 0, len(deliveries))
	for _, delivery := range deliveries {
		result := d.dispatcher.Deliver(ctx, delivery)
		if result.OK {
			if d.outbox != nil && delivery.DedupeKey != "" {
				if err := d.outbox.MarkPublishedByKey(ctx, delivery.ShopID, delivery.DedupeKey); err != nil {
					d.log.Warn("retire delivered postback",
						zap.String("dedupe_key", delivery.DedupeKey),
						zap.Error(err),
					)
				}
			}
		} else {
			d.log.Warn("postback left for redelivery",
				zap.String("commission_id", result.CommissionID),
				zap.String("event", result.Event),
				zap.String("error", result.Error),
			)
		}
		results = append(results, result)
	}
	return results
}
