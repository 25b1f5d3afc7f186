// Package docdb defines the document database capability consumed by the
// executor and schema layers. Implementations live in the mongodb package;
// memdocdb provides an in-memory implementation for tests.
package docdb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Connector builds a fresh client from fixed connection parameters.
// The executor holds one and invokes it at construction and on every
// reconnect; implementations must not reuse a previously returned client.
type Connector interface {
	// Connect establishes a new client.
	Connect(ctx context.Context) (Client, error)

	// Address returns the host:port the connector dials, for logging.
	Address() string
}

// Client is one live handle to the remote document database service.
type Client interface {
	// Database returns a database handle by name.
	Database(name string) Database

	// Ping checks whether the named database is reachable.
	Ping(ctx context.Context, database string) error

	// DropDatabase drops the named database.
	DropDatabase(ctx context.Context, name string) error

	// Disconnect closes the client and releases its resources.
	Disconnect(ctx context.Context) error
}

// Database defines the interface for database-level operations.
type Database interface {
	// Name returns the database name.
	Name() string

	// Collection returns a collection handle by name.
	Collection(name string) Collection

	// CreateCollection explicitly creates a collection.
	CreateCollection(ctx context.Context, name string) error

	// ListCollectionNames lists all collection names.
	ListCollectionNames(ctx context.Context) ([]string, error)

	// Drop drops the database.
	Drop(ctx context.Context) error
}

// Collection defines the interface for document collection operations.
// Every handle carries a back-reference to its owning database name so
// callers can re-resolve it against a replaced client.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// DatabaseName returns the name of the owning database.
	DatabaseName() string

	// InsertOne inserts a single document and returns its id.
	InsertOne(ctx context.Context, document interface{}) (interface{}, error)

	// InsertMany inserts multiple documents and returns their ids.
	InsertMany(ctx context.Context, documents []interface{}) ([]interface{}, error)

	// FindOne finds a single document.
	FindOne(ctx context.Context, filter interface{}) SingleResult

	// Find finds multiple documents.
	Find(ctx context.Context, filter interface{}, opts *FindOptions) (Cursor, error)

	// FindOneAndUpdate atomically updates a single document and returns it
	// in its pre-update state, or ErrNoDocuments when nothing matched.
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts *FindOneAndUpdateOptions) SingleResult

	// UpdateOne updates a single document.
	UpdateOne(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error)

	// UpdateMany updates multiple documents.
	UpdateMany(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error)

	// DeleteOne deletes a single document.
	DeleteOne(ctx context.Context, filter interface{}) (*DeleteResult, error)

	// DeleteMany deletes multiple documents.
	DeleteMany(ctx context.Context, filter interface{}) (*DeleteResult, error)

	// Aggregate runs an aggregation pipeline.
	Aggregate(ctx context.Context, pipeline interface{}) (Cursor, error)

	// CountDocuments counts documents matching the filter.
	CountDocuments(ctx context.Context, filter interface{}) (int64, error)

	// CreateIndex creates an index and returns its name.
	CreateIndex(ctx context.Context, model IndexModel) (string, error)

	// ListIndexNames lists the names of existing indexes.
	ListIndexNames(ctx context.Context) ([]string, error)
}

// SingleResult represents the result of a single-document operation.
type SingleResult interface {
	// Decode decodes the result into the provided value.
	Decode(v interface{}) error
	// Err returns any error from the operation.
	Err() error
}

// Cursor represents a cursor for iterating over query results.
type Cursor interface {
	// Next advances the cursor to the next document.
	Next(ctx context.Context) bool
	// Decode decodes the current document.
	Decode(v interface{}) error
	// All decodes all remaining documents.
	All(ctx context.Context, results interface{}) error
	// Err returns any cursor error.
	Err() error
	// Close closes the cursor.
	Close(ctx context.Context) error
}

// FindOptions represents options for Find operations.
type FindOptions struct {
	Limit int64
	Skip  int64
	Sort  interface{}
}

// FindOneAndUpdateOptions represents options for FindOneAndUpdate.
type FindOneAndUpdateOptions struct {
	// Upsert inserts the document when no match exists.
	Upsert bool
	// ReturnNew returns the post-update document instead of the pre-update one.
	ReturnNew bool
}

// IndexModel describes an index to create. Keys is ordered.
type IndexModel struct {
	Keys   bson.D
	Name   string
	Unique bool
}

// UpdateResult represents the result of an update operation.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    interface{}
}

// DeleteResult represents the result of a delete operation.
type DeleteResult struct {
	DeletedCount int64
}
