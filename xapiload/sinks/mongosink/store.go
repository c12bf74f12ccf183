package mongosink

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// store is the part of a Mongo database the sink talks to.
type store interface {
	InsertMany(ctx context.Context, collection string, documents []any) error
	Drop(ctx context.Context, collection string) error
	CreateIndexes(ctx context.Context, collection string, models []mongo.IndexModel) error
	Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.Raw, error)
	Close(ctx context.Context) error
}

// databaseStore implements store for a *mongo.Database.
type databaseStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func (s databaseStore) InsertMany(ctx context.Context, collection string, documents []any) error {
	_, err := s.db.Collection(collection).InsertMany(ctx, documents, options.InsertMany().SetOrdered(true))
	return err
}

func (s databaseStore) Drop(ctx context.Context, collection string) error {
	return s.db.Collection(collection).Drop(ctx)
}

func (s databaseStore) CreateIndexes(ctx context.Context, collection string, models []mongo.IndexModel) error {
	if len(models) == 0 {
		return nil
	}

	_, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models)
	return err
}

func (s databaseStore) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.Raw, error) {
	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var results []bson.Raw
	for cursor.Next(ctx) {
		results = append(results, append(bson.Raw(nil), cursor.Current...))
	}

	return results, errors.Join(cursor.Err(), cursor.Close(ctx))
}

func (s databaseStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
