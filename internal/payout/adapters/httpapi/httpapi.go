// Package httpapi bridges payout runs to a REST payout service: one POST
// submits the batch, one GET polls its settlement. The endpoint and key
// come from PAYOUT_* env defaults, overridable per shop.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/partnerly/internal/config"
	payoutdomain "github.com/smallbiznis/partnerly/internal/payout/domain"
)

type Factory struct {
	defaults config.PayoutConfig
}

func NewFactory(defaults config.PayoutConfig) *Factory {
	return &Factory{defaults: defaults}
}

func (f *Factory) Provider() string {
	return "http"
}

func (f *Factory) NewProvider(settings payoutdomain.ProviderSettings) (payoutdomain.Provider, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(f.defaults.Endpoint), "/")
	apiKey := strings.TrimSpace(f.defaults.APIKey)
	timeout := time.Duration(f.defaults.TimeoutSeconds) * time.Second

	if value, ok := readString(settings.Config, "endpoint"); ok {
		endpoint = strings.TrimRight(strings.TrimSpace(value), "/")
	}
	if value, ok := readString(settings.Config, "api_key"); ok {
		apiKey = strings.TrimSpace(value)
	}
	if value, ok := settings.Config["timeout_seconds"].(float64); ok && value > 0 {
		timeout = time.Duration(value) * time.Second
	}
	if endpoint == "" {
		return nil, payoutdomain.ErrInvalidProviderConfig
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Provider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type Provider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func (p *Provider) Name() string { return "http" }

func (p *Provider) Async() bool { return true }

type submitRequest struct {
	Reference   string                    `json:"reference"`
	Currency    string                    `json:"currency"`
	TotalCents  int64                     `json:"total_cents"`
	MemberCount int                       `json:"member_count"`
	Items       []payoutdomain.PayoutItem `json:"items"`
}

type submitResponse struct {
	BatchID string `json:"batch_id"`
}

func (p *Provider) SubmitPayout(ctx context.Context, run *payoutdomain.PayoutRun, items []payoutdomain.PayoutItem) (string, error) {
	payload, err := json.Marshal(submitRequest{
		Reference:   run.ID.String(),
		Currency:    run.Currency,
		TotalCents:  run.TotalCents,
		MemberCount: run.MemberCount,
		Items:       items,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/payout-batches", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		drain(resp.Body)
		return "", fmt.Errorf("payout_submit_status_%d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.BatchID) == "" {
		return "", fmt.Errorf("payout_submit_missing_batch_id")
	}
	return out.BatchID, nil
}

type statusResponse struct {
	Status string `json:"status"`
}

func (p *Provider) GetPayoutStatus(ctx context.Context, batchID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/payout-batches/"+batchID, nil)
	if err != nil {
		return "", err
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		drain(resp.Body)
		return "", fmt.Errorf("payout_status_status_%d", resp.StatusCode)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return normalizeStatus(out.Status), nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// normalizeStatus folds provider wording into the three states the run
// lifecycle understands.
func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "settled", "paid", "confirmed", "completed":
		return payoutdomain.ProviderStatusSettled
	case "failed", "rejected", "cancelled", "error":
		return payoutdomain.ProviderStatusFailed
	default:
		return payoutdomain.ProviderStatusSubmitted
	}
}

func readString(cfg map[string]any, key string) (string, bool) {
	value, ok := cfg[key].(string)
	return value, ok
}

func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
}
