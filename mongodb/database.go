package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mongoward/mongoward/docdb"
)

var pingCommand = bson.D{{Key: "ping", Value: 1}}

// Database implements docdb.Database for MongoDB.
type Database struct {
	database *mongo.Database
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.database.Name()
}

// Collection returns a collection handle by name.
func (d *Database) Collection(name string) docdb.Collection {
	return &Collection{collection: d.database.Collection(name)}
}

// CreateCollection explicitly creates a collection.
func (d *Database) CreateCollection(ctx context.Context, name string) error {
	if err := d.database.CreateCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, classify(err))
	}
	return nil
}

// ListCollectionNames lists all collection names in the database.
func (d *Database) ListCollectionNames(ctx context.Context) ([]string, error) {
	names, err := d.database.ListCollectionNames(ctx, bson.D{}, options.ListCollections().SetNameOnly(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", classify(err))
	}
	return names, nil
}

// Drop drops the database.
func (d *Database) Drop(ctx context.Context) error {
	if err := d.database.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop database %q: %w", d.Name(), classify(err))
	}
	return nil
}

// Collection implements docdb.Collection for MongoDB.
type Collection struct {
	collection *mongo.Collection
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.collection.Name()
}

// DatabaseName returns the name of the owning database.
func (c *Collection) DatabaseName() string {
	return c.collection.Database().Name()
}

// InsertOne inserts a single document.
func (c *Collection) InsertOne(ctx context.Context, document interface{}) (interface{}, error) {
	result, err := c.collection.InsertOne(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", classify(err))
	}
	return result.InsertedID, nil
}

// InsertMany inserts multiple documents.
func (c *Collection) InsertMany(ctx context.Context, documents []interface{}) ([]interface{}, error) {
	result, err := c.collection.InsertMany(ctx, documents)
	if err != nil {
		return nil, fmt.Errorf("failed to insert documents: %w", classify(err))
	}
	return result.InsertedIDs, nil
}

// FindOne finds a single document matching the filter.
func (c *Collection) FindOne(ctx context.Context, filter interface{}) docdb.SingleResult {
	return &SingleResult{result: c.collection.FindOne(ctx, filter)}
}

// Find finds all documents matching the filter.
func (c *Collection) Find(ctx context.Context, filter interface{}, opts *docdb.FindOptions) (docdb.Cursor, error) {
	findOpts := options.Find()
	if opts != nil {
		if opts.Limit > 0 {
			findOpts.SetLimit(opts.Limit)
		}
		if opts.Skip > 0 {
			findOpts.SetSkip(opts.Skip)
		}
		if opts.Sort != nil {
			findOpts.SetSort(opts.Sort)
		}
	}

	cursor, err := c.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", classify(err))
	}
	return &Cursor{cursor: cursor}, nil
}

// FindOneAndUpdate atomically updates a single document. The pre-update
// document is returned unless opts.ReturnNew is set.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts *docdb.FindOneAndUpdateOptions) docdb.SingleResult {
	updateOpts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	if opts != nil {
		if opts.Upsert {
			updateOpts.SetUpsert(true)
		}
		if opts.ReturnNew {
			updateOpts.SetReturnDocument(options.After)
		}
	}
	return &SingleResult{result: c.collection.FindOneAndUpdate(ctx, filter, update, updateOpts)}
}

// UpdateOne updates a single document matching the filter.
func (c *Collection) UpdateOne(ctx context.Context, filter interface{}, update interface{}) (*docdb.UpdateResult, error) {
	result, err := c.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", classify(err))
	}
	return toUpdateResult(result), nil
}

// UpdateMany updates all documents matching the filter.
func (c *Collection) UpdateMany(ctx context.Context, filter interface{}, update interface{}) (*docdb.UpdateResult, error) {
	result, err := c.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update documents: %w", classify(err))
	}
	return toUpdateResult(result), nil
}

// DeleteOne deletes a single document matching the filter.
func (c *Collection) DeleteOne(ctx context.Context, filter interface{}) (*docdb.DeleteResult, error) {
	result, err := c.collection.DeleteOne(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to delete document: %w", classify(err))
	}
	return &docdb.DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// DeleteMany deletes all documents matching the filter.
func (c *Collection) DeleteMany(ctx context.Context, filter interface{}) (*docdb.DeleteResult, error) {
	result, err := c.collection.DeleteMany(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to delete documents: %w", classify(err))
	}
	return &docdb.DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// Aggregate runs an aggregation pipeline.
func (c *Collection) Aggregate(ctx context.Context, pipeline interface{}) (docdb.Cursor, error) {
	cursor, err := c.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate: %w", classify(err))
	}
	return &Cursor{cursor: cursor}, nil
}

// CountDocuments counts documents matching the filter.
func (c *Collection) CountDocuments(ctx context.Context, filter interface{}) (int64, error) {
	count, err := c.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", classify(err))
	}
	return count, nil
}

// CreateIndex creates an index and returns its name.
func (c *Collection) CreateIndex(ctx context.Context, model docdb.IndexModel) (string, error) {
	indexOpts := options.Index()
	if model.Name != "" {
		indexOpts.SetName(model.Name)
	}
	if model.Unique {
		indexOpts.SetUnique(true)
	}
	name, err := c.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    model.Keys,
		Options: indexOpts,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create index %q: %w", model.Name, classify(err))
	}
	return name, nil
}

// ListIndexNames lists the names of existing indexes.
func (c *Collection) ListIndexNames(ctx context.Context) ([]string, error) {
	cursor, err := c.collection.Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", classify(err))
	}
	defer func() { _ = cursor.Close(ctx) }()

	var names []string
	for cursor.Next(ctx) {
		var spec struct {
			Name string `bson:"name"`
		}
		if err := cursor.Decode(&spec); err != nil {
			return nil, fmt.Errorf("failed to decode index spec: %w", err)
		}
		names = append(names, spec.Name)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate indexes: %w", classify(err))
	}
	return names, nil
}

func toUpdateResult(result *mongo.UpdateResult) *docdb.UpdateResult {
	return &docdb.UpdateResult{
		MatchedCount:  result.MatchedCount,
		ModifiedCount: result.ModifiedCount,
		UpsertedCount: result.UpsertedCount,
		UpsertedID:    result.UpsertedID,
	}
}

// SingleResult wraps a MongoDB single result, classifying its error.
type SingleResult struct {
	result *mongo.SingleResult
}

// Decode decodes the result into the provided value.
func (r *SingleResult) Decode(v interface{}) error {
	if err := r.result.Decode(v); err != nil {
		return classify(err)
	}
	return nil
}

// Err returns any error from the operation.
func (r *SingleResult) Err() error {
	return classify(r.result.Err())
}

// Cursor wraps a MongoDB cursor.
type Cursor struct {
	cursor *mongo.Cursor
}

// Next advances the cursor.
func (c *Cursor) Next(ctx context.Context) bool {
	return c.cursor.Next(ctx)
}

// Decode decodes the current document.
func (c *Cursor) Decode(v interface{}) error {
	return c.cursor.Decode(v)
}

// All decodes all remaining documents.
func (c *Cursor) All(ctx context.Context, results interface{}) error {
	return c.cursor.All(ctx, results)
}

// Err returns any cursor error.
func (c *Cursor) Err() error {
	return classify(c.cursor.Err())
}

// Close closes the cursor.
func (c *Cursor) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}
