package rag

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoRunStore implements RunStore backed by a MongoDB collection. The
// caller owns the mongo.Client lifecycle.
type MongoRunStore struct {
	Collection *mongo.Collection
}

// NewMongoRunStore creates a MongoRunStore from a *mongo.Collection.
func NewMongoRunStore(collection *mongo.Collection) *MongoRunStore {
	return &MongoRunStore{Collection: collection}
}

func (s *MongoRunStore) Save(ctx context.Context, summary *RunSummary) error {
	if summary == nil || summary.RunID == "" {
		return fmt.Errorf("run summary with run id is required")
	}
	_, err := s.Collection.ReplaceOne(ctx,
		bson.M{"_id": summary.RunID},
		summary,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save run summary %s: %w", summary.RunID, err)
	}
	return nil
}

func (s *MongoRunStore) Get(ctx context.Context, runID string) (*RunSummary, error) {
	var summary RunSummary
	err := s.Collection.FindOne(ctx, bson.M{"_id": runID}).Decode(&summary)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run summary %s: %w", runID, err)
	}
	return &summary, nil
}

func (s *MongoRunStore) List(ctx context.Context) ([]RunSummary, error) {
	cursor, err := s.Collection.Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"started_at": -1}),
	)
	if err != nil {
		return nil, fmt.Errorf("list run summaries: %w", err)
	}
	defer cursor.Close(ctx)

	var summaries []RunSummary
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, fmt.Errorf("decode run summaries: %w", err)
	}
	return summaries, nil
}
