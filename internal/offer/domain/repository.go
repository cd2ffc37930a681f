package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerly/pkg/db/option"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, offer *Offer) error
	FindByID(ctx context.Context, db *gorm.DB, shopID, id snowflake.ID) (*Offer, error)
	List(ctx context.Context, db *gorm.DB, shopID snowflake.ID, filter ListOfferFilter, opts ...option.QueryOption) ([]*Offer, error)
	Update(ctx context.Context, db *gorm.DB, offer *Offer) error
	CountAffiliates(ctx context.Context, db *gorm.DB, shopID, offerID snowflake.ID) (int64, error)
}
