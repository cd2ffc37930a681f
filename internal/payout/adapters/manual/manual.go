// Package manual is the default payout provider. Money moves outside the
// system and the operator records the settlement reference by hand, so
// approval settles the run immediately.
package manual

import (
	"context"

	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "manual"
}

func (f *Factory) NewProvider(payoutdomain.ProviderSettings) (payoutdomain.Provider, error) {
	return &Provider{}, nil
}

type Provider struct{}

func (p *Provider) Name() string { return "manual" }

func (p *Provider) Async() bool { return false }

func (p *Provider) SubmitPayout(context.Context, *payoutdomain.PayoutRun, []payoutdomain.PayoutItem) (string, error) {
	return "", nil
}

func (p *Provider) GetPayoutStatus(context.Context, string) (string, error) {
	return payoutdomain.ProviderStatusSettled, nil
}
