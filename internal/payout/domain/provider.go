package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// PayoutItem is one commission line handed to a payment provider.
type PayoutItem struct {
	CommissionID string `json:"commission_id"`
	AffiliateID  string `json:"affiliate_id"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

// Provider is the external payout API: submit a batch, poll its
// settlement. Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	// Async reports whether settlement completes out of band. An async
	// provider leaves an approved run open until polling confirms the
	// batch; a synchronous one settles at approval time.
	Async() bool
	// SubmitPayout hands the batch to the provider and returns its batch
	// reference. Called strictly after the paying transaction committed.
	SubmitPayout(ctx context.Context, run *PayoutRun, items []PayoutItem) (string, error)
	// GetPayoutStatus reports a submitted batch as submitted, settled or
	// failed.
	GetPayoutStatus(ctx context.Context, batchID string) (string, error)
}

// ProviderSettings carries one shop's resolved provider credentials.
type ProviderSettings struct {
	ShopID snowflake.ID
	Config map[string]any
}

// ProviderFactory builds a provider instance from shop credentials.
type ProviderFactory interface {
	Provider() string
	NewProvider(settings ProviderSettings) (Provider, error)
}
