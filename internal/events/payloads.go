package events

// CommissionEventPayload describes a commission lifecycle event. Approval
// and payment events double as postback deliveries.
type CommissionEventPayload struct {
	CommissionID  string
	AffiliateID   string
	OrderID       string
	AmountCents   int64
	Currency      string
	Status        string
	PostbackEvent string
}

func (p CommissionEventPayload) ToMap() map[string]any {
	out := map[string]any{
		"commission_id": p.CommissionID,
		"affiliate_id":  p.AffiliateID,
		"amount_cents":  p.AmountCents,
		"currency":      p.Currency,
		"status":        p.Status,
	}
	if p.OrderID != "" {
		out["order_id"] = p.OrderID
	}
	if p.PostbackEvent != "" {
		out["postback_event"] = p.PostbackEvent
	}
	return out
}

// ClickRecordedPayload announces an accepted click.
type ClickRecordedPayload struct {
	ClickID     string
	AffiliateID string
	LinkID      string
}

func (p ClickRecordedPayload) ToMap() map[string]any {
	out := map[string]any{
		"click_id":     p.ClickID,
		"affiliate_id": p.AffiliateID,
	}
	if p.LinkID != "" {
		out["link_id"] = p.LinkID
	}
	return out
}

// OrderAttributedPayload announces a resolved order attribution.
type OrderAttributedPayload struct {
	AttributionID string
	OrderID       string
	AffiliateID   string
	Method        string
}

func (p OrderAttributedPayload) ToMap() map[string]any {
	return map[string]any{
		"attribution_id": p.AttributionID,
		"order_id":       p.OrderID,
		"affiliate_id":   p.AffiliateID,
		"method":         p.Method,
	}
}

// PayoutRunPaidPayload announces a completed payout run.
type PayoutRunPaidPayload struct {
	PayoutRunID     string
	ExternalBatchID string
	TotalCents      int64
	Currency        string
	CommissionCount int
}

func (p PayoutRunPaidPayload) ToMap() map[string]any {
	out := map[string]any{
		"payout_run_id":    p.PayoutRunID,
		"total_cents":      p.TotalCents,
		"currency":         p.Currency,
		"commission_count": p.CommissionCount,
	}
	if p.ExternalBatchID != "" {
		out["external_batch_id"] = p.ExternalBatchID
	}
	return out
}
