package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// PostgresOrderRepository implements OrderRepository using PostgreSQL.
type PostgresOrderRepository struct {
	db     *sql.DB
	logger *logging.LoggerV2
}

// NewPostgresOrderRepository creates a new PostgreSQL order repository.
func NewPostgresOrderRepository(db *sql.DB, logger *logging.LoggerV2) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		db:     db,
		logger: logger,
	}
}

const orderColumns = `id, user_id, items, total_price, currency, status, checkout_key, payment_ref, created_at, updated_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var itemsJSON []byte
	var checkoutKey, paymentRef sql.NullString

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&itemsJSON,
		&order.TotalPrice,
		&order.Currency,
		&order.Status,
		&checkoutKey,
		&paymentRef,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	if checkoutKey.Valid {
		order.CheckoutKey = checkoutKey.String
	}
	if paymentRef.Valid {
		order.PaymentRef = paymentRef.String
	}
	return &order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Insert persists a new order. A repeated checkout key yields ErrDuplicateCheckout.
func (r *PostgresOrderRepository) Insert(ctx context.Context, order *models.Order) (*models.Order, error) {
	r.logger.Debug("Inserting order", logging.Fields{
		"user_id":      order.UserID,
		"checkout_key": order.CheckoutKey,
	})

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}

	stored := order.Clone()
	stored.ID = generateOrderID()

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, user_id, items, total_price, currency, status, checkout_key, payment_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		stored.ID,
		stored.UserID,
		itemsJSON,
		stored.TotalPrice,
		stored.Currency,
		stored.Status,
		nullString(stored.CheckoutKey),
		nullString(stored.PaymentRef),
	).Scan(&stored.CreatedAt, &stored.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateCheckout
	}
	if err != nil {
		r.logger.Error("Failed to insert order", logging.Fields{
			"user_id": order.UserID,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("insert order: %w", err)
	}

	r.logger.Info("Order inserted", logging.Fields{
		"order_id": stored.ID,
		"user_id":  stored.UserID,
	})
	return stored, nil
}

func (r *PostgresOrderRepository) getOne(ctx context.Context, what, value, where string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+` = $1`, value)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, notFound(what, value)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", what, value, err)
	}
	return order, nil
}

// Get retrieves an order by its unique identifier.
func (r *PostgresOrderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	return r.getOne(ctx, "order", id, "id")
}

func (r *PostgresOrderRepository) GetByCheckoutKey(ctx context.Context, key string) (*models.Order, error) {
	return r.getOne(ctx, "order with checkout key", key, "checkout_key")
}

func (r *PostgresOrderRepository) GetByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	return r.getOne(ctx, "order with payment ref", ref, "payment_ref")
}

// ListByUser returns a user's orders, newest first.
func (r *PostgresOrderRepository) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// UpdateStatus applies a status transition only while the order is still in from.
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns, id, from, to)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update order status %s: %w", id, err)
	}

	r.logger.Info("Order status updated", logging.Fields{
		"order_id": id,
		"from":     from,
		"to":       to,
	})
	return order, nil
}

// PostgresCallbackRepository implements CallbackRepository using PostgreSQL.
type PostgresCallbackRepository struct {
	db     *sql.DB
	logger *logging.LoggerV2
}

func NewPostgresCallbackRepository(db *sql.DB, logger *logging.LoggerV2) *PostgresCallbackRepository {
	return &PostgresCallbackRepository{db: db, logger: logger}
}

const callbackColumns = `key, event_id, event_type, user_id, state, order_id, detail, attempts, created_at, updated_at`

func scanCallback(row rowScanner) (*models.PaymentCallback, error) {
	var cb models.PaymentCallback
	err := row.Scan(&cb.Key, &cb.EventID, &cb.EventType, &cb.UserID, &cb.State,
		&cb.OrderID, &cb.Detail, &cb.Attempts, &cb.CreatedAt, &cb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cb, nil
}

// Claim inserts the callback, or takes over a stale processing row, in one statement.
func (r *PostgresCallbackRepository) Claim(ctx context.Context, cb *models.PaymentCallback, lease time.Duration) (*models.PaymentCallback, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO payment_callbacks (key, event_id, event_type, user_id, state, attempts)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (key) DO UPDATE
			SET attempts = payment_callbacks.attempts + 1, updated_at = NOW()
			WHERE payment_callbacks.state = $5
			  AND payment_callbacks.updated_at <= NOW() - make_interval(secs => $6)
		RETURNING `+callbackColumns,
		cb.Key, cb.EventID, cb.EventType, cb.UserID, models.CallbackStateProcessing, lease.Seconds())
	claimed, err := scanCallback(row)
	if err == nil {
		return claimed, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("claim callback %s: %w", cb.Key, err)
	}

	existing, err := r.Get(ctx, cb.Key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresCallbackRepository) Finish(ctx context.Context, key string, state models.CallbackState, orderID, detail string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_callbacks SET state = $2, order_id = $3, detail = $4, updated_at = NOW()
		WHERE key = $1`, key, state, orderID, detail)
	if err != nil {
		return fmt.Errorf("finish callback %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("callback", key)
	}
	return nil
}

func (r *PostgresCallbackRepository) Get(ctx context.Context, key string) (*models.PaymentCallback, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+callbackColumns+` FROM payment_callbacks WHERE key = $1`, key)
	cb, err := scanCallback(row)
	if err == sql.ErrNoRows {
		return nil, notFound("callback", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get callback %s: %w", key, err)
	}
	return cb, nil
}
