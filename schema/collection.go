package schema

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoward/mongoward/docdb"
	"github.com/mongoward/mongoward/executor"
)

// Collection pairs a named remote collection with the owning executor.
// Handles are safe to share and keep working across reconnects: the
// executor re-resolves the name on every attempt, and the registry's
// reconnect hook rewrites the cached raw reference in place.
type Collection struct {
	name     string
	database string
	exec     *executor.Executor

	mu  sync.RWMutex
	ref docdb.Collection
}

func newCollection(name, database string, exec *executor.Executor, ref docdb.Collection) *Collection {
	return &Collection{name: name, database: database, exec: exec, ref: ref}
}

// CollectionName returns the collection name.
func (c *Collection) CollectionName() string { return c.name }

// DatabaseName returns the owning database name.
func (c *Collection) DatabaseName() string { return c.database }

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// FullName returns the namespaced collection name.
func (c *Collection) FullName() string { return c.database + "." + c.name }

// Raw returns the currently cached remote reference. Operations through
// it bypass retry; prefer the methods below.
func (c *Collection) Raw() docdb.Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ref
}

// setRef rewrites the cached reference. Called by the registry's
// reconnect hook, under the executor's tower.
func (c *Collection) setRef(ref docdb.Collection) {
	c.mu.Lock()
	c.ref = ref
	c.mu.Unlock()
}

// FindOne returns the first document matching the filter, or
// docdb.ErrNoDocuments.
func (c *Collection) FindOne(ctx context.Context, filter interface{}) (bson.M, error) {
	return c.exec.FindOne(ctx, c, filter)
}

// Find returns a cursor over documents matching the filter.
func (c *Collection) Find(ctx context.Context, filter interface{}, opts *docdb.FindOptions) (docdb.Cursor, error) {
	return c.exec.Find(ctx, c, filter, opts)
}

// FindOneAndUpdate atomically updates one document, returning it in its
// pre-update state unless opts says otherwise.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update interface{}, opts *docdb.FindOneAndUpdateOptions) (bson.M, error) {
	return c.exec.FindOneAndUpdate(ctx, c, filter, update, opts)
}

// UpdateOne updates a single document matching the filter.
func (c *Collection) UpdateOne(ctx context.Context, filter, update interface{}) (*docdb.UpdateResult, error) {
	return c.exec.UpdateOne(ctx, c, filter, update)
}

// UpdateMany updates all documents matching the filter.
func (c *Collection) UpdateMany(ctx context.Context, filter, update interface{}) (*docdb.UpdateResult, error) {
	return c.exec.UpdateMany(ctx, c, filter, update)
}

// InsertOne inserts a single document and returns its id.
func (c *Collection) InsertOne(ctx context.Context, document interface{}) (interface{}, error) {
	return c.exec.InsertOne(ctx, c, document)
}

// InsertMany inserts multiple documents and returns their ids.
func (c *Collection) InsertMany(ctx context.Context, documents []interface{}) ([]interface{}, error) {
	return c.exec.InsertMany(ctx, c, documents)
}

// DeleteOne deletes a single document matching the filter.
func (c *Collection) DeleteOne(ctx context.Context, filter interface{}) (*docdb.DeleteResult, error) {
	return c.exec.DeleteOne(ctx, c, filter)
}

// DeleteMany deletes all documents matching the filter.
func (c *Collection) DeleteMany(ctx context.Context, filter interface{}) (*docdb.DeleteResult, error) {
	return c.exec.DeleteMany(ctx, c, filter)
}

// Aggregate runs an aggregation pipeline.
func (c *Collection) Aggregate(ctx context.Context, pipeline interface{}) (docdb.Cursor, error) {
	return c.exec.Aggregate(ctx, c, pipeline)
}

// CountDocuments counts documents matching the filter.
func (c *Collection) CountDocuments(ctx context.Context, filter interface{}) (int64, error) {
	return c.exec.CountDocuments(ctx, c, filter)
}
