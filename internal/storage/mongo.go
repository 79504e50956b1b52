package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo persists entity documents in MongoDB, one collection per kind,
// with the entity id as _id and the JSON state as a single field.
type Mongo struct {
	client   *mongo.Client
	database *mongo.Database
}

type mongoDoc struct {
	ID        string    `bson:"_id"`
	State     []byte    `bson:"state"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func NewMongo(uri, database string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(5 * time.Minute)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Mongo{
		client:   client,
		database: client.Database(database),
	}, nil
}

func (m *Mongo) Get(ctx context.Context, kind, id string, out interface{}) error {
	var doc mongoDoc
	err := m.database.Collection(kind).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("mongo get %s/%s: %w", kind, id, err)
	}
	return json.Unmarshal(doc.State, out)
}

func (m *Mongo) Put(ctx context.Context, kind, id string, v interface{}) error {
	state, err := json.Marshal(v)
	if err != nil {
		return err
	}
	doc := mongoDoc{ID: id, State: state, UpdatedAt: time.Now()}
	opts := options.Replace().SetUpsert(true)
	_, err = m.database.Collection(kind).ReplaceOne(ctx, bson.M{"_id": id}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongo put %s/%s: %w", kind, id, err)
	}
	return nil
}

func (m *Mongo) Delete(ctx context.Context, kind, id string) error {
	_, err := m.database.Collection(kind).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo delete %s/%s: %w", kind, id, err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
