package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/market-orders/internal/core/domain"
	"github.com/rl1809/market-orders/internal/port"
)

type ProductService struct {
	products port.ProductRepository
	users    port.UserRepository
	log      *slog.Logger
}

func NewProductService(products port.ProductRepository, users port.UserRepository, log *slog.Logger) *ProductService {
	return &ProductService{products: products, users: users, log: log}
}

// CreateProduct lists a product for a seller.
func (s *ProductService) CreateProduct(ctx context.Context, sellerID, name string, cost, stock int64) (*domain.Product, error) {
	if name == "" || cost < 0 || stock < 0 ||
		cost > domain.MaxProductCost || stock > domain.MaxProductStock {
		return nil, domain.ErrInvalidProduct
	}

	seller, err := s.users.GetUser(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if seller.Role != domain.RoleSeller {
		return nil, domain.ErrNotAuthorizedToPerformAction
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:        uuid.NewString(),
		Name:      name,
		Cost:      cost,
		Stock:     stock,
		SellerID:  sellerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.products.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.log.Info("product created", "product_id", product.ID, "seller_id", sellerID)
	return &product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return s.products.GetProduct(ctx, productID)
}
