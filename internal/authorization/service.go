package authorization

import (
	"context"
	"errors"

	"go.uber.org/fx"
)

// Service answers whether an actor may perform an action on an object
// within one shop. Actors are "system", "api_key:<id>" or
// "user:<external id>"; user roles come from shop_members.
type Service interface {
	Authorize(ctx context.Context, actor string, shopID string, object string, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidShop   = errors.New("invalid_shop")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
