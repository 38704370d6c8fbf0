package cache

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend keeps entries in a collection with a TTL index on expiresAt.
// Reads also filter on expiresAt because the server reaps expired documents
// only periodically.
type MongoBackend struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ Backend = (*MongoBackend)(nil)

type cacheDoc struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	Tags      []string  `bson:"tags,omitempty"`
	ExpiresAt time.Time `bson:"expiresAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func NewMongoBackend(client *mongo.Client, dbName, collectionName string) *MongoBackend {
	return &MongoBackend{
		collection: client.Database(dbName).Collection(collectionName),
		now:        time.Now,
	}
}

// ConnectMongo dials uri with any extra client options applied after it.
func ConnectMongo(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (m *MongoBackend) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
	}
	_, err := m.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (m *MongoBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var doc cacheDoc
	err := m.collection.FindOne(ctx, bson.M{
		"_id":       key,
		"expiresAt": bson.M{"$gt": m.now()},
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return doc.Value, true, nil
}

func (m *MongoBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	now := m.now()
	doc := cacheDoc{
		Key:       key,
		Value:     value,
		Tags:      tags,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoBackend) Delete(ctx context.Context, key string) error {
	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (m *MongoBackend) InvalidateTag(ctx context.Context, tag string) error {
	_, err := m.collection.DeleteMany(ctx, bson.M{"tags": tag})
	return err
}

func (m *MongoBackend) Ping(ctx context.Context) error {
	return m.collection.Database().Client().Ping(ctx, nil)
}
