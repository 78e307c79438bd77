package service

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

// OrderEventPublisher announces order lifecycle changes.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error
}

// OrderService handles order reads and status transitions.
type OrderService struct {
	orderRepo      repository.OrderRepository
	productRepo    repository.ProductRepository
	orderCache     repository.OrderCache
	eventPublisher OrderEventPublisher
	config         *config.Config
	logger         *logging.LoggerV2
}

// NewOrderService creates a new order service. orderCache and eventPublisher
// may be nil when the matching feature is disabled.
func NewOrderService(
	stores *repository.Stores,
	orderCache repository.OrderCache,
	eventPublisher OrderEventPublisher,
	cfg *config.Config,
) *OrderService {
	return &OrderService{
		orderRepo:      stores.Orders,
		productRepo:    stores.Products,
		orderCache:     orderCache,
		eventPublisher: eventPublisher,
		config:         cfg,
		logger:         logging.NewLoggerV2("order-service"),
	}
}

func (s *OrderService) cacheEnabled() bool {
	return s.config.Features.EnableOrderCaching && s.orderCache != nil
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.logger.Debug("Getting order", logging.Fields{"order_id": id})

	// Check cache first
	if s.cacheEnabled() {
		if order, err := s.orderCache.Get(ctx, id); err == nil && order != nil {
			s.logger.Debug("Order found in cache", logging.Fields{"order_id": id})
			return order, nil
		}
	}

	order, err := s.orderRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cacheEnabled() {
		s.orderCache.Set(ctx, order)
	}

	return order, nil
}

// GetOrderForUser returns the order if user owns it or is an admin. Other
// callers get ErrNotFound so order IDs cannot be probed.
func (s *OrderService) GetOrderForUser(ctx context.Context, user *models.User, id string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.UserID != user.ID && !user.IsAdmin {
		s.logger.WithContext(ctx).Warn("Order requested by non-owner", logging.Fields{
			"order_id": id,
			"user_id":  user.ID,
		})
		return nil, errors.ErrNotFound
	}

	return order, nil
}

// ListOrders returns the user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]*models.Order, error) {
	if s.cacheEnabled() {
		if orders, err := s.orderCache.GetByUserID(ctx, userID); err == nil && orders != nil {
			return orders, nil
		}
	}

	orders, err := s.orderRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []*models.Order{}
	}

	if s.cacheEnabled() {
		if err := s.orderCache.SetByUserID(ctx, userID, orders); err != nil {
			s.logger.Error("Failed to cache user orders", logging.Fields{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}

	return orders, nil
}

// FindByPaymentRef returns the order paid for by a provider session.
func (s *OrderService) FindByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	return s.orderRepo.GetByPaymentRef(ctx, ref)
}

// UpdateOrderStatus moves an order to status. Moving to the current status is
// a no-op. A failed order returns its items to stock.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	log := s.logger.WithContext(ctx).With(logging.Fields{"order_id": id})

	current, err := s.orderRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}

	if !isValidStatusTransition(current.Status, status) {
		return nil, errors.NewValidationError("status", fmt.Sprintf(
			"invalid status transition from %s to %s",
			current.Status,
			status,
		))
	}

	updated, err := s.orderRepo.UpdateStatus(ctx, id, current.Status, status)
	if stderrors.Is(err, repository.ErrStatusConflict) {
		// Someone else moved it first.
		latest, getErr := s.orderRepo.Get(ctx, id)
		if getErr == nil && latest.Status == status {
			return latest, nil
		}
		return nil, err
	}
	if err != nil {
		log.Error("Failed to update order status", logging.Fields{"error": err.Error()})
		return nil, err
	}

	if status == models.OrderStatusFailed {
		s.restock(ctx, updated)
	}

	if s.cacheEnabled() {
		s.orderCache.Delete(ctx, id)
		s.orderCache.InvalidateByUserID(ctx, updated.UserID)
	}

	if s.config.Features.EnableOrderEvents && s.eventPublisher != nil {
		if err := s.eventPublisher.PublishOrderStatusChanged(ctx, updated, current.Status); err != nil {
			log.Error("Failed to publish status changed event", logging.Fields{"error": err.Error()})
		}
	}

	log.Info("Order status updated", logging.Fields{
		"from": current.Status,
		"to":   status,
	})
	return updated, nil
}

func (s *OrderService) restock(ctx context.Context, order *models.Order) {
	for _, item := range order.Items {
		if err := s.productRepo.Increment(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.WithContext(ctx).Error("Failed to restock item of failed order", logging.Fields{
				"order_id":   order.ID,
				"product_id": item.ProductID,
				"quantity":   item.Quantity,
				"error":      err.Error(),
				"critical":   true,
			})
		}
	}
}

func isValidStatusTransition(from, to models.OrderStatus) bool {
	validTransitions := map[models.OrderStatus][]models.OrderStatus{
		models.OrderStatusPending: {models.OrderStatusPaid, models.OrderStatusFailed},
		models.OrderStatusPaid:    {},
		models.OrderStatusFailed:  {},
	}

	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, status := range allowed {
		if status == to {
			return true
		}
	}
	return false
}
