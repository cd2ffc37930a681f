package domain

import (
	"context"
	"errors"
	"time"
)

// Scopes gate the tracker surface: ingest credentials write clicks and
// order events, reporting credentials read aggregates.
const (
	ScopeClicksWrite = "clicks:write"
	ScopeOrdersWrite = "orders:write"
	ScopeReportsRead = "reports:read"
)

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
}

type CreateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type Response struct {
	KeyID            string     `json:"key_id"`
	Name             string     `json:"name"`
	Scopes           []string   `json:"scopes"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	RotatedFromKeyID *string    `json:"rotated_from_key_id"`
}

// SecretResponse carries the plaintext key. It exists only in the
// create/rotate response; afterwards only the hash survives.
type SecretResponse struct {
	KeyID  string   `json:"key_id"`
	APIKey string   `json:"api_key"`
	Scopes []string `json:"scopes"`
}

var (
	ErrInvalidShop  = errors.New("invalid_shop")
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidScope = errors.New("invalid_scope")
	ErrInvalidKeyID = errors.New("invalid_key_id")
	ErrNotFound     = errors.New("api_key_not_found")
)
