package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pgUniqueViolation = "23505"

// OpenPostgres connects to the database and verifies the connection.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// NewPostgresStores builds all repositories on one connection pool.
func NewPostgresStores(db *sql.DB, logger *logging.LoggerV2) *Stores {
	return &Stores{
		Products:  NewPostgresProductRepository(db, logger),
		Carts:     NewPostgresCartRepository(db, logger),
		Orders:    NewPostgresOrderRepository(db, logger),
		Callbacks: NewPostgresCallbackRepository(db, logger),
		closer:    func(context.Context) error { return db.Close() },
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresProductRepository implements ProductRepository using PostgreSQL.
type PostgresProductRepository struct {
	db     *sql.DB
	logger *logging.LoggerV2
}

func NewPostgresProductRepository(db *sql.DB, logger *logging.LoggerV2) *PostgresProductRepository {
	return &PostgresProductRepository{db: db, logger: logger}
}

const productColumns = `id, name, description, price, stock, created_at, updated_at`

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresProductRepository) Get(ctx context.Context, id string) (*models.Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, notFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

func (r *PostgresProductRepository) List(ctx context.Context) ([]*models.Product, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, description, price, stock)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		product.ID, product.Name, product.Description, product.Price, product.Stock,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.KindConflict, "product already exists: %s", product.ID)
	}
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}

	r.logger.Debug("Product created", logging.Fields{"product_id": product.ID})
	return nil
}

func (r *PostgresProductRepository) Update(ctx context.Context, id string, patch *models.UpdateProductRequest) (*models.Product, error) {
	var price, stock any
	if patch.Price != nil {
		price = patch.Price.String()
	}
	if patch.Stock != nil {
		stock = *patch.Stock
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE products SET
			name = COALESCE($2::text, name),
			description = COALESCE($3::text, description),
			price = COALESCE($4::numeric, price),
			stock = COALESCE($5::integer, stock),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		id, nullableString(patch.Name), nullableString(patch.Description), price, stock,
	)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, notFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("update product %s: %w", id, err)
	}
	return p, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (r *PostgresProductRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("product", id)
	}
	return nil
}

func (r *PostgresProductRepository) ConditionalDecrement(ctx context.Context, id string, qty int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2`, id, qty)
	if err != nil {
		return fmt.Errorf("decrement stock %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement stock %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("decrement stock %s: %w", id, err)
	}
	if !exists {
		return errors.ProductNotFound(id)
	}
	return errors.InsufficientStock(id)
}

func (r *PostgresProductRepository) Increment(ctx context.Context, id string, qty int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`, id, qty)
	if err != nil {
		return fmt.Errorf("increment stock %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ProductNotFound(id)
	}
	return nil
}

// PostgresCartRepository implements CartRepository with one row per user and
// the lines stored as JSON.
type PostgresCartRepository struct {
	db     *sql.DB
	logger *logging.LoggerV2
}

func NewPostgresCartRepository(db *sql.DB, logger *logging.LoggerV2) *PostgresCartRepository {
	return &PostgresCartRepository{db: db, logger: logger}
}

func scanCart(row rowScanner) (*models.Cart, error) {
	var c models.Cart
	var itemsJSON []byte
	if err := row.Scan(&c.UserID, &itemsJSON, &c.Version, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &c.Items); err != nil {
		return nil, fmt.Errorf("decode cart items: %w", err)
	}
	if c.Items == nil {
		c.Items = []models.CartItem{}
	}
	return &c, nil
}

func (r *PostgresCartRepository) GetByUser(ctx context.Context, userID string) (*models.Cart, error) {
	row := r.db.QueryRowContext(ctx, `SELECT user_id, items, version, updated_at FROM carts WHERE user_id = $1`, userID)
	c, err := scanCart(row)
	if err == sql.ErrNoRows {
		return nil, notFound("cart", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get cart %s: %w", userID, err)
	}
	return c, nil
}

func (r *PostgresCartRepository) CreateEmpty(ctx context.Context, userID string) (*models.Cart, error) {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO carts (user_id, items, version) VALUES ($1, '[]', 0)
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("create cart %s: %w", userID, err)
	}
	return r.GetByUser(ctx, userID)
}

func (r *PostgresCartRepository) ReplaceItems(ctx context.Context, userID string, items []models.CartItem, expectedVersion int64) (*models.Cart, error) {
	if items == nil {
		items = []models.CartItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE carts SET items = $2, version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND version = $3
		RETURNING user_id, items, version, updated_at`, userID, itemsJSON, expectedVersion)
	c, err := scanCart(row)
	if err == sql.ErrNoRows {
		if _, getErr := r.GetByUser(ctx, userID); getErr != nil {
			return nil, getErr
		}
		r.logger.Debug("Cart version conflict", logging.Fields{
			"user_id":          userID,
			"expected_version": expectedVersion,
		})
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("replace cart items %s: %w", userID, err)
	}
	return c, nil
}
