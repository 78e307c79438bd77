package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	productsCollection  = "products"
	cartsCollection     = "carts"
	ordersCollection    = "orders"
	callbacksCollection = "payment_callbacks"
)

// ConnectMongoDB opens a client and returns the configured database.
func ConnectMongoDB(ctx context.Context, cfg config.MongoConfig) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.Timeout).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(cfg.Database), nil
}

// EnsureMongoIndexes creates the unique indexes the stores rely on.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(ordersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "checkout_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"checkout_key": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "payment_ref", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

// NewMongoStores builds all repositories on one database handle.
func NewMongoStores(db *mongo.Database, logger *logging.LoggerV2) *Stores {
	return &Stores{
		Products:  &MongoProductRepository{collection: db.Collection(productsCollection), logger: logger},
		Carts:     &MongoCartRepository{collection: db.Collection(cartsCollection), logger: logger},
		Orders:    &MongoOrderRepository{collection: db.Collection(ordersCollection), logger: logger},
		Callbacks: &MongoCallbackRepository{collection: db.Collection(callbacksCollection), logger: logger},
		closer:    func(ctx context.Context) error { return db.Client().Disconnect(ctx) },
	}
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(v.String())
}

type productDoc struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Description string               `bson:"description"`
	Price       primitive.Decimal128 `bson:"price"`
	Stock       int                  `bson:"stock"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func newProductDoc(p *models.Product) (*productDoc, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return nil, err
	}
	return &productDoc{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       price,
		Stock:       p.Stock,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func (d *productDoc) model() (*models.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return nil, err
	}
	return &models.Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Price:       price,
		Stock:       d.Stock,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

// MongoProductRepository implements ProductRepository on a MongoDB collection.
type MongoProductRepository struct {
	collection *mongo.Collection
	logger     *logging.LoggerV2
}

func (r *MongoProductRepository) Get(ctx context.Context, id string) (*models.Product, error) {
	var doc productDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return doc.model()
}

func (r *MongoProductRepository) List(ctx context.Context) ([]*models.Product, error) {
	cur, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.Product
	for cur.Next(ctx) {
		var doc productDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		p, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, cur.Err()
}

func (r *MongoProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	ts := now()
	product.CreatedAt = ts
	product.UpdatedAt = ts

	doc, err := newProductDoc(product)
	if err != nil {
		return err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New(errors.KindConflict, "product already exists: %s", product.ID)
		}
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

func (r *MongoProductRepository) Update(ctx context.Context, id string, patch *models.UpdateProductRequest) (*models.Product, error) {
	set := bson.M{"updated_at": now()}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Price != nil {
		price, err := toDecimal128(*patch.Price)
		if err != nil {
			return nil, err
		}
		set["price"] = price
	}
	if patch.Stock != nil {
		set["stock"] = *patch.Stock
	}

	var doc productDoc
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return doc.model()
}

func (r *MongoProductRepository) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if res.DeletedCount == 0 {
		return notFound("product", id)
	}
	return nil
}

// ConditionalDecrement relies on the filter matching only while stock >= qty,
// so the check and the $inc are one document-level operation.
func (r *MongoProductRepository) ConditionalDecrement(ctx context.Context, id string, qty int) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "stock": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"stock": -qty},
			"$set": bson.M{"updated_at": now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if n == 0 {
		return errors.ProductNotFound(id)
	}
	return errors.InsufficientStock(id)
}

func (r *MongoProductRepository) Increment(ctx context.Context, id string, qty int) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$inc": bson.M{"stock": qty},
			"$set": bson.M{"updated_at": now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return errors.ProductNotFound(id)
	}
	return nil
}

type cartItemDoc struct {
	ProductID string `bson:"product_id"`
	Quantity  int    `bson:"quantity"`
}

type cartDoc struct {
	UserID    string        `bson:"_id"`
	Items     []cartItemDoc `bson:"items"`
	Version   int64         `bson:"version"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

func (d *cartDoc) model() *models.Cart {
	c := &models.Cart{UserID: d.UserID, Version: d.Version, UpdatedAt: d.UpdatedAt, Items: make([]models.CartItem, 0, len(d.Items))}
	for _, item := range d.Items {
		c.Items = append(c.Items, models.CartItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return c
}

// MongoCartRepository stores one document per user, keyed by user ID.
type MongoCartRepository struct {
	collection *mongo.Collection
	logger     *logging.LoggerV2
}

func (r *MongoCartRepository) GetByUser(ctx context.Context, userID string) (*models.Cart, error) {
	var doc cartDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("cart", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.model(), nil
}

func (r *MongoCartRepository) CreateEmpty(ctx context.Context, userID string) (*models.Cart, error) {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$setOnInsert": bson.M{
			"items":      []cartItemDoc{},
			"version":    int64(0),
			"updated_at": now(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return r.GetByUser(ctx, userID)
}

func (r *MongoCartRepository) ReplaceItems(ctx context.Context, userID string, items []models.CartItem, expectedVersion int64) (*models.Cart, error) {
	docs := make([]cartItemDoc, 0, len(items))
	for _, item := range items {
		docs = append(docs, cartItemDoc{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	var doc cartDoc
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "version": expectedVersion},
		bson.M{
			"$set": bson.M{"items": docs, "updated_at": now()},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := r.GetByUser(ctx, userID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to replace cart items: %w", err)
	}
	return doc.model(), nil
}

type orderItemDoc struct {
	ProductID       string               `bson:"product_id"`
	ProductName     string               `bson:"product_name"`
	Quantity        int                  `bson:"quantity"`
	PriceAtPurchase primitive.Decimal128 `bson:"price_at_purchase"`
}

type orderDoc struct {
	ID          string               `bson:"_id"`
	UserID      string               `bson:"user_id"`
	Items       []orderItemDoc       `bson:"items"`
	TotalPrice  primitive.Decimal128 `bson:"total_price"`
	Currency    string               `bson:"currency"`
	Status      models.OrderStatus   `bson:"status"`
	CheckoutKey string               `bson:"checkout_key,omitempty"`
	PaymentRef  string               `bson:"payment_ref,omitempty"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

func newOrderDoc(o *models.Order) (*orderDoc, error) {
	total, err := toDecimal128(o.TotalPrice)
	if err != nil {
		return nil, err
	}
	doc := &orderDoc{
		ID:          o.ID,
		UserID:      o.UserID,
		TotalPrice:  total,
		Currency:    o.Currency,
		Status:      o.Status,
		CheckoutKey: o.CheckoutKey,
		PaymentRef:  o.PaymentRef,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	for _, item := range o.Items {
		price, err := toDecimal128(item.PriceAtPurchase)
		if err != nil {
			return nil, err
		}
		doc.Items = append(doc.Items, orderItemDoc{
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			PriceAtPurchase: price,
		})
	}
	return doc, nil
}

func (d *orderDoc) model() (*models.Order, error) {
	total, err := fromDecimal128(d.TotalPrice)
	if err != nil {
		return nil, err
	}
	o := &models.Order{
		ID:          d.ID,
		UserID:      d.UserID,
		TotalPrice:  total,
		Currency:    d.Currency,
		Status:      d.Status,
		CheckoutKey: d.CheckoutKey,
		PaymentRef:  d.PaymentRef,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, item := range d.Items {
		price, err := fromDecimal128(item.PriceAtPurchase)
		if err != nil {
			return nil, err
		}
		o.Items = append(o.Items, models.OrderItem{
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			Quantity:        item.Quantity,
			PriceAtPurchase: price,
		})
	}
	return o, nil
}

// MongoOrderRepository implements OrderRepository on a MongoDB collection.
type MongoOrderRepository struct {
	collection *mongo.Collection
	logger     *logging.LoggerV2
}

func (r *MongoOrderRepository) Insert(ctx context.Context, order *models.Order) (*models.Order, error) {
	stored := order.Clone()
	stored.ID = generateOrderID()
	ts := now()
	stored.CreatedAt = ts
	stored.UpdatedAt = ts

	doc, err := newOrderDoc(stored)
	if err != nil {
		return nil, err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateCheckout
		}
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	r.logger.Info("Order inserted", logging.Fields{"order_id": stored.ID, "user_id": stored.UserID})
	return stored, nil
}

func (r *MongoOrderRepository) findOne(ctx context.Context, what, value string, filter bson.M) (*models.Order, error) {
	var doc orderDoc
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(what, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return doc.model()
}

func (r *MongoOrderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	return r.findOne(ctx, "order", id, bson.M{"_id": id})
}

func (r *MongoOrderRepository) GetByCheckoutKey(ctx context.Context, key string) (*models.Order, error) {
	return r.findOne(ctx, "order with checkout key", key, bson.M{"checkout_key": key})
}

func (r *MongoOrderRepository) GetByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	return r.findOne(ctx, "order with payment ref", ref, bson.M{"payment_ref": ref})
}

func (r *MongoOrderRepository) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	cur, err := r.collection.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.Order
	for cur.Next(ctx) {
		var doc orderDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		o, err := doc.model()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, cur.Err()
}

func (r *MongoOrderRepository) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	var doc orderDoc
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "updated_at": now()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return doc.model()
}

type callbackDoc struct {
	Key       string               `bson:"_id"`
	EventID   string               `bson:"event_id"`
	EventType string               `bson:"event_type"`
	UserID    string               `bson:"user_id"`
	State     models.CallbackState `bson:"state"`
	OrderID   string               `bson:"order_id"`
	Detail    string               `bson:"detail"`
	Attempts  int                  `bson:"attempts"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func (d *callbackDoc) model() *models.PaymentCallback {
	return &models.PaymentCallback{
		Key:       d.Key,
		EventID:   d.EventID,
		EventType: d.EventType,
		UserID:    d.UserID,
		State:     d.State,
		OrderID:   d.OrderID,
		Detail:    d.Detail,
		Attempts:  d.Attempts,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// MongoCallbackRepository implements CallbackRepository on a MongoDB collection.
type MongoCallbackRepository struct {
	collection *mongo.Collection
	logger     *logging.LoggerV2
}

func (r *MongoCallbackRepository) Claim(ctx context.Context, cb *models.PaymentCallback, lease time.Duration) (*models.PaymentCallback, bool, error) {
	ts := now()
	doc := &callbackDoc{
		Key:       cb.Key,
		EventID:   cb.EventID,
		EventType: cb.EventType,
		UserID:    cb.UserID,
		State:     models.CallbackStateProcessing,
		Attempts:  1,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	_, err := r.collection.InsertOne(ctx, doc)
	if err == nil {
		return doc.model(), true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("failed to claim callback: %w", err)
	}

	var taken callbackDoc
	err = r.collection.FindOneAndUpdate(ctx,
		bson.M{
			"_id":        cb.Key,
			"state":      models.CallbackStateProcessing,
			"updated_at": bson.M{"$lte": ts.Add(-lease)},
		},
		bson.M{
			"$inc": bson.M{"attempts": 1},
			"$set": bson.M{"updated_at": ts},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&taken)
	if err == nil {
		return taken.model(), true, nil
	}
	if !stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("failed to reclaim callback: %w", err)
	}

	existing, err := r.Get(ctx, cb.Key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *MongoCallbackRepository) Finish(ctx context.Context, key string, state models.CallbackState, orderID, detail string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{
			"state":      state,
			"order_id":   orderID,
			"detail":     detail,
			"updated_at": now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to finish callback: %w", err)
	}
	if res.MatchedCount == 0 {
		return notFound("callback", key)
	}
	return nil
}

func (r *MongoCallbackRepository) Get(ctx context.Context, key string) (*models.PaymentCallback, error) {
	var doc callbackDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("callback", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get callback: %w", err)
	}
	return doc.model(), nil
}
