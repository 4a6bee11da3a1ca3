// internal/service/order/infrastructure/mongo_order_repository.go
package infrastructure

import (
	"context"

	"fulfillment/internal/service/order/domain"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var recencySort = bson.D{{Key: "createdAt", Value: -1}, {Key: "updatedAt", Value: -1}}

type MongoOrderRepository struct {
	coll *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{coll: db.Collection(ordersCollection)}
}

// EnsureIndexes 为按用户查询的排序建立复合索引。
func (r *MongoOrderRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "updatedAt", Value: -1}},
	})
	return errors.Wrap(err, "create orders index")
}

func (r *MongoOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	_, err := r.coll.InsertOne(ctx, newOrderDocument(order))
	return errors.Wrapf(err, "create order %s", order.ID)
}

func (r *MongoOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var doc orderDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return doc.toDomain(), nil
}

func (r *MongoOrderRepository) FindByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	return r.find(ctx, bson.M{"user": userID})
}

func (r *MongoOrderRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	return r.find(ctx, bson.M{})
}

func (r *MongoOrderRepository) find(ctx context.Context, filter bson.M) ([]*domain.Order, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(recencySort))
	if err != nil {
		return nil, errors.Wrap(err, "find orders")
	}
	var docs []orderDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}
	out := make([]*domain.Order, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}
	return out, nil
}

func (r *MongoOrderRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrapf(err, "delete order %s", id)
	}
	if res.DeletedCount == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}
