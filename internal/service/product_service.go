package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

// ProductService manages the catalog.
type ProductService struct {
	products repository.ProductRepository
	logger   *logging.LoggerV2
}

func NewProductService(stores *repository.Stores) *ProductService {
	return &ProductService{
		products: stores.Products,
		logger:   logging.NewLoggerV2("product-service"),
	}
}

func (s *ProductService) ListProducts(ctx context.Context) ([]*models.Product, error) {
	products, err := s.products.List(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []*models.Product{}
	}
	return products, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return s.products.Get(ctx, id)
}

func (s *ProductService) CreateProduct(ctx context.Context, req *models.CreateProductRequest) (*models.Product, error) {
	if err := ValidateCreateProductRequest(req); err != nil {
		return nil, err
	}

	product := &models.Product{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("Product created", logging.Fields{
		"product_id": product.ID,
		"stock":      product.Stock,
	})
	return product, nil
}

// UpdateProduct applies a partial update. Price changes never affect
// existing orders. Only the fields set in req are written, so concurrent
// stock reservations survive an update that does not touch stock.
func (s *ProductService) UpdateProduct(ctx context.Context, id string, req *models.UpdateProductRequest) (*models.Product, error) {
	if err := ValidateUpdateProductRequest(req); err != nil {
		return nil, err
	}

	product, err := s.products.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("Product updated", logging.Fields{"product_id": id})
	return product, nil
}

func (s *ProductService) DeleteProduct(ctx context.Context, id string) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.WithContext(ctx).Info("Product deleted", logging.Fields{"product_id": id})
	return nil
}
