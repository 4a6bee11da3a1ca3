// internal/service/order/infrastructure/mongo_stock_ledger.go
package infrastructure

import (
	"context"
	"time"

	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	productsCollection = "products"
	ordersCollection   = "orders"
)

// ConnectMongo 建立连接并 ping 一次，确保启动时就能发现配置错误。
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, errors.Wrap(err, "ping mongo")
	}
	return client, nil
}

// MongoStockLedger 使用 FindOneAndUpdate：过滤条件里带上数量守卫，$inc 同时修改两个计数，
// 单文档更新本身是原子的。
type MongoStockLedger struct {
	coll *mongo.Collection
}

func NewMongoStockLedger(db *mongo.Database) *MongoStockLedger {
	return &MongoStockLedger{coll: db.Collection(productsCollection)}
}

func (l *MongoStockLedger) TryReserve(ctx context.Context, productID string, amount int) (*domain.StockEntry, error) {
	filter := bson.M{"_id": productID, "countInStock": bson.M{"$gte": amount}}
	update := bson.M{"$inc": bson.M{"countInStock": -amount, "selled": amount}}
	return l.conditionalUpdate(ctx, productID, filter, update, domain.ErrInsufficientStock)
}

func (l *MongoStockLedger) TryRelease(ctx context.Context, productID string, amount int) (*domain.StockEntry, error) {
	filter := bson.M{"_id": productID, "selled": bson.M{"$gte": amount}}
	update := bson.M{"$inc": bson.M{"countInStock": amount, "selled": -amount}}
	return l.conditionalUpdate(ctx, productID, filter, update, domain.ErrInsufficientCommitted)
}

func (l *MongoStockLedger) conditionalUpdate(ctx context.Context, productID string, filter, update bson.M, insufficient error) (*domain.StockEntry, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc stockDocument
	err := l.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(err, "conditional stock update for %s", productID)
	}

	n, err := l.coll.CountDocuments(ctx, bson.M{"_id": productID})
	if err != nil {
		return nil, errors.Wrapf(err, "stock existence check for %s", productID)
	}
	if n == 0 {
		return nil, domain.ErrProductNotFound
	}
	return nil, insufficient
}

func (l *MongoStockLedger) SeedStock(ctx context.Context, entry domain.StockEntry) error {
	doc := stockDocument{ID: entry.ProductID, CountInStock: entry.CountInStock, Selled: entry.Selled}
	_, err := l.coll.ReplaceOne(ctx, bson.M{"_id": entry.ProductID}, doc, options.Replace().SetUpsert(true))
	return errors.Wrapf(err, "seed stock %s", entry.ProductID)
}

func (l *MongoStockLedger) GetStock(ctx context.Context, productID string) (*domain.StockEntry, error) {
	var doc stockDocument
	err := l.coll.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get stock %s", productID)
	}
	return doc.toDomain(), nil
}
