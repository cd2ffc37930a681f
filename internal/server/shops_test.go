package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/partnerly/internal/audit/domain"
	shopdomain "github.com/smallbiznis/partnerly/internal/shop/domain"
	"github.com/smallbiznis/partnerly/internal/shopcontext"
)

type fakeShopService struct {
	created       *shopdomain.CreateShopRequest
	createErr     error
	memberUpserts []shopdomain.UpsertMemberRequest
	memberShopID  snowflake.ID
}

func (f *fakeShopService) Create(ctx context.Context, req shopdomain.CreateShopRequest) (*shopdomain.ShopResponse, error) {
	_ = ctx
	f.created = &req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &shopdomain.ShopResponse{
		ID:       snowflake.ID(7001).String(),
		Name:     req.Name,
		Currency: req.Currency,
		Status:   "active",
	}, nil
}

func (f *fakeShopService) GetByID(ctx context.Context, id string) (*shopdomain.ShopResponse, error) {
	_ = ctx
	_ = id
	return nil, shopdomain.ErrShopNotFound
}

func (f *fakeShopService) List(ctx context.Context) ([]shopdomain.ShopResponse, error) {
	_ = ctx
	return nil, nil
}

func (f *fakeShopService) Update(ctx context.Context, id string, req shopdomain.UpdateShopRequest) (*shopdomain.ShopResponse, error) {
	_ = ctx
	_ = id
	_ = req
	return nil, shopdomain.ErrShopNotFound
}

func (f *fakeShopService) UpsertMember(ctx context.Context, req shopdomain.UpsertMemberRequest) (*shopdomain.MemberResponse, error) {
	f.memberUpserts = append(f.memberUpserts, req)
	if shopID, ok := shopcontext.ShopIDFromContext(ctx); ok {
		f.memberShopID = shopID
	}
	return &shopdomain.MemberResponse{UserID: req.UserID, Role: req.Role}, nil
}

func (f *fakeShopService) RemoveMember(ctx context.Context, userID string) error {
	_ = ctx
	_ = userID
	return nil
}

func (f *fakeShopService) ListMembers(ctx context.Context) ([]shopdomain.MemberResponse, error) {
	_ = ctx
	return nil, nil
}

type fakeAuditService struct {
	actions []string
	shopIDs []snowflake.ID
}

func (f *fakeAuditService) AuditLog(ctx context.Context, shopID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	_ = ctx
	_ = actorType
	_ = actorID
	_ = targetType
	_ = targetID
	_ = metadata
	f.actions = append(f.actions, action)
	if shopID != nil {
		f.shopIDs = append(f.shopIDs, *shopID)
	}
	return nil
}

func (f *fakeAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	_ = ctx
	_ = req
	return auditdomain.ListAuditLogResponse{}, nil
}

func TestCreateShopEnrollsCreatorAsOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)

	shopSvc := &fakeShopService{}
	auditSvc := &fakeAuditService{}
	srv := &Server{shopSvc: shopSvc, auditSvc: auditSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/admin/v1/shops", srv.ActorRequired(), srv.CreateShop)

	body := `{"name":"Acme Outdoors","currency":"USD","domain":"acme.example"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/shops", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUser, "42")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if shopSvc.created == nil || shopSvc.created.Name != "Acme Outdoors" {
		t.Fatalf("expected create request forwarded, got %+v", shopSvc.created)
	}
	if len(shopSvc.memberUpserts) != 1 {
		t.Fatalf("expected one member upsert, got %d", len(shopSvc.memberUpserts))
	}
	member := shopSvc.memberUpserts[0]
	if member.UserID != "42" || member.Role != shopdomain.RoleOwner {
		t.Fatalf("expected creator enrolled as owner, got %+v", member)
	}
	if shopSvc.memberShopID != snowflake.ID(7001) {
		t.Fatalf("expected member upsert scoped to new shop, got %d", shopSvc.memberShopID)
	}
	if len(auditSvc.actions) != 1 || auditSvc.actions[0] != "shop.created" {
		t.Fatalf("expected shop.created audit, got %v", auditSvc.actions)
	}
	if len(auditSvc.shopIDs) != 1 || auditSvc.shopIDs[0] != snowflake.ID(7001) {
		t.Fatalf("expected audit bound to new shop, got %v", auditSvc.shopIDs)
	}
}

func TestCreateShopRequiresUserActor(t *testing.T) {
	gin.SetMode(gin.TestMode)

	shopSvc := &fakeShopService{}
	srv := &Server{shopSvc: shopSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	// No ActorRequired: simulates a request that reached the handler
	// without a proxy-authenticated user.
	router.POST("/admin/v1/shops", srv.CreateShop)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/shops", bytes.NewBufferString(`{"name":"Acme"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if shopSvc.created != nil {
		t.Fatalf("expected shop service untouched")
	}
}

func TestCreateShopSurfacesServiceValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)

	shopSvc := &fakeShopService{createErr: shopdomain.ErrInvalidCurrency}
	srv := &Server{shopSvc: shopSvc}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/admin/v1/shops", srv.ActorRequired(), srv.CreateShop)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/shops", bytes.NewBufferString(`{"name":"Acme","currency":"DOLLARS"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUser, "42")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if len(shopSvc.memberUpserts) != 0 {
		t.Fatalf("expected no member upsert after failed create")
	}
}
