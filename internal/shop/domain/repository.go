package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, shop *Shop) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Shop, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Shop, error)
	List(ctx context.Context, db *gorm.DB) ([]*Shop, error)
	Update(ctx context.Context, db *gorm.DB, shop *Shop) error

	UpsertMember(ctx context.Context, db *gorm.DB, member *ShopMember) error
	DeleteMember(ctx context.Context, db *gorm.DB, shopID snowflake.ID, userID string) (bool, error)
	ListMembers(ctx context.Context, db *gorm.DB, shopID snowflake.ID) ([]*ShopMember, error)
	FindMember(ctx context.Context, db *gorm.DB, shopID snowflake.ID, userID string) (*ShopMember, error)
	CountMembersByRole(ctx context.Context, db *gorm.DB, shopID snowflake.ID, role string) (int64, error)
}
