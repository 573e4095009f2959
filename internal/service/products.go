package service

import (
	"context"
	"fmt"
	"strings"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := s.read(ctx, func(ctx context.Context, r store.Reader) error {
		var err error
		products, err = r.ListProducts(ctx)
		return err
	})
	return products, err
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var product domain.Product
	err := s.read(ctx, func(ctx context.Context, r store.Reader) error {
		p, err := r.GetProduct(ctx, trimmed(id))
		if err != nil {
			return err
		}
		product = *p
		return nil
	})
	return product, err
}

// ListLowStock returns products at or below their reorder threshold.
func (s *Service) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.Product, 0)
	for _, p := range products {
		if p.StockOnHand <= p.ReorderThreshold {
			low = append(low, p)
		}
	}
	return low, nil
}

// CreateProduct registers a product with no stock. Stock arrives only through
// purchases and consignment intakes.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(trimmed(req.SKU))
	req.Name = trimmed(req.Name)
	req.OwnershipType = domain.OwnershipType(strings.ToUpper(trimmed(string(req.OwnershipType))))
	if err := checkRequest(s.validate, req); err != nil {
		return domain.Product{}, err
	}
	if req.SellPrice.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: negative sell price", store.ErrInvalidTransaction)
	}

	product := domain.Product{
		ID:               xid.New("prd"),
		SKU:              req.SKU,
		Name:             req.Name,
		OwnershipType:    req.OwnershipType,
		SellPrice:        req.SellPrice,
		ReorderThreshold: req.ReorderThreshold,
	}

	switch product.OwnershipType {
	case domain.OwnershipStoreOwned:
		if req.UnitCost != nil {
			if req.UnitCost.IsNegative() {
				return domain.Product{}, fmt.Errorf("%w: negative unit cost", store.ErrInvalidTransaction)
			}
			product.UnitCost = domain.DecimalPtr(*req.UnitCost)
		}
	case domain.OwnershipConsigned:
		if req.UnitCost != nil {
			return domain.Product{}, fmt.Errorf("%w: consigned products carry no unit cost", store.ErrInvalidTransaction)
		}
	}

	err := s.write(ctx, nil, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}

	return s.GetProduct(ctx, product.ID)
}
