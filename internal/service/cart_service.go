package service

import (
	"context"
	stderrors "errors"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/lock"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

// CartService edits carts under the same per-user lock as checkout.
type CartService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	orders   repository.OrderRepository
	locker   lock.Locker
	logger   *logging.LoggerV2
}

func NewCartService(stores *repository.Stores, locker lock.Locker) *CartService {
	return &CartService{
		carts:    stores.Carts,
		products: stores.Products,
		orders:   stores.Orders,
		locker:   locker,
		logger:   logging.NewLoggerV2("cart-service"),
	}
}

// GetCart returns the user's cart, creating an empty one on first use.
// Lines already bought by an order whose cart clear failed are left out.
func (s *CartService) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	cart, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, errors.KindNotFound) {
		return s.carts.CreateEmpty(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, cart)
}

// settle drops the lines of an order already placed for this exact cart
// version. The version is kept, so the next write persists the repair.
func (s *CartService) settle(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	if cart.IsEmpty() {
		return cart, nil
	}
	order, err := s.orders.GetByCheckoutKey(ctx, CheckoutKey(cart.UserID, cart.Version))
	if errors.Is(err, errors.KindNotFound) {
		return cart, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Warn("Cart still holds purchased lines, settling", logging.Fields{
		"user_id":  cart.UserID,
		"order_id": order.ID,
		"version":  cart.Version,
	})
	settled := cart.Clone()
	settled.Items = subtractPurchased(cart.Items, order.Items)
	return settled, nil
}

// AddItem adds quantity to the product's line, creating the line if needed.
// The resulting quantity may not exceed the product's stock.
func (s *CartService) AddItem(ctx context.Context, userID string, req *models.AddCartItemRequest) (*models.Cart, error) {
	if err := ValidateAddCartItemRequest(req); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, userLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer release()

	product, err := s.products.Get(ctx, req.ProductID)
	if errors.Is(err, errors.KindNotFound) {
		return nil, errors.ProductNotFound(req.ProductID)
	}
	if err != nil {
		return nil, err
	}

	cart, err := s.update(ctx, userID, func(cart *models.Cart) ([]models.CartItem, error) {
		want := cart.Quantity(req.ProductID) + req.Quantity
		if want > product.Stock {
			return nil, errors.NewValidationError("quantity", "requested quantity exceeds available stock")
		}

		items := make([]models.CartItem, 0, len(cart.Items)+1)
		found := false
		for _, item := range cart.Items {
			if item.ProductID == req.ProductID {
				item.Quantity = want
				found = true
			}
			items = append(items, item)
		}
		if !found {
			items = append(items, models.CartItem{ProductID: req.ProductID, Quantity: want})
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Debug("Cart item added", logging.Fields{
		"user_id":    userID,
		"product_id": req.ProductID,
		"quantity":   req.Quantity,
	})
	return cart, nil
}

// RemoveItem drops the product's line from the cart.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*models.Cart, error) {
	release, err := s.locker.Acquire(ctx, userLockKey(userID))
	if err != nil {
		return nil, err
	}
	defer release()

	return s.update(ctx, userID, func(cart *models.Cart) ([]models.CartItem, error) {
		if cart.Quantity(productID) == 0 {
			return nil, errors.New(errors.KindNotFound, "cart item not found: %s", productID)
		}

		items := make([]models.CartItem, 0, len(cart.Items))
		for _, item := range cart.Items {
			if item.ProductID != productID {
				items = append(items, item)
			}
		}
		return items, nil
	})
}

// update applies edit to the latest cart, retrying on version conflicts.
func (s *CartService) update(ctx context.Context, userID string, edit func(*models.Cart) ([]models.CartItem, error)) (*models.Cart, error) {
	var lastErr error
	for attempt := 0; attempt < maxCartWriteAttempts; attempt++ {
		cart, err := s.GetCart(ctx, userID)
		if err != nil {
			return nil, err
		}

		items, err := edit(cart)
		if err != nil {
			return nil, err
		}

		updated, err := s.carts.ReplaceItems(ctx, userID, items, cart.Version)
		if err == nil {
			return updated, nil
		}
		if !stderrors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
