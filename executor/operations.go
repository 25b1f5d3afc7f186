package executor

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoward/mongoward/docdb"
)

// ExhaustedError is returned when an operation still fails after its full
// retry budget. It wraps the last underlying error.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// retryCommand runs one operation with the write retry budget. The
// collection is re-resolved against the current client on every attempt,
// so a reconnect between attempts is transparent.
func retryCommand[T any](ctx context.Context, ex *Executor, ref CollectionRef, operation string, run func(docdb.Collection) (T, error)) (T, error) {
	var zero T

	if ex.Disposed() {
		if err := ex.sleep(ctx, ex.writeRetryDelay); err != nil {
			return zero, err
		}
		// best effort; a failure here surfaces on the attempts below
		if err := ex.Reconnect(ctx); err != nil {
			ex.logger.Info().Err(err).Str("operation", operation).Msg("pre-attempt reconnect failed")
		}
	}

	var lastErr error
	attempts := 0
	for attempts <= ex.writeRetry {
		attempts++
		coll := ex.Database(ref.DatabaseName()).Collection(ref.CollectionName())
		result, err := run(coll)
		if err == nil {
			return result, nil
		}
		if !ex.retryable(err) {
			if docdb.IsNoDocuments(err) {
				return zero, err
			}
			ex.logger.Error().Err(err).
				Str("operation", operation).
				Str("collection", ref.CollectionName()).
				Msg("operation failed")
			return zero, err
		}

		lastErr = err
		ex.collector.IncRetry(operation)
		ex.logger.Info().Err(err).
			Str("operation", operation).
			Str("collection", ref.CollectionName()).
			Int("attempt", attempts).
			Int("budget", ex.writeRetry+1).
			Msg("transient failure, retrying")

		if err := ex.sleep(ctx, ex.writeRetryDelay); err != nil {
			return zero, err
		}
		if err := ex.Reconnect(ctx); err != nil {
			// not retried here; the next attempt consumes the budget
			lastErr = err
		}
	}

	ex.collector.IncExhausted(operation)
	ex.logger.Warn().Err(lastErr).
		Str("operation", operation).
		Str("collection", ref.CollectionName()).
		Int("attempts", attempts).
		Msg("fatal failure, retry budget exhausted")
	return zero, &ExhaustedError{Operation: operation, Attempts: attempts, Err: lastErr}
}

// FindOne returns the first document matching the filter, or
// docdb.ErrNoDocuments.
func (ex *Executor) FindOne(ctx context.Context, ref CollectionRef, filter interface{}) (bson.M, error) {
	return retryCommand(ctx, ex, ref, "find_one", func(coll docdb.Collection) (bson.M, error) {
		var doc bson.M
		if err := coll.FindOne(ctx, filter).Decode(&doc); err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// Find returns a cursor over documents matching the filter. Only cursor
// creation is retried; iteration errors surface to the caller.
func (ex *Executor) Find(ctx context.Context, ref CollectionRef, filter interface{}, opts *docdb.FindOptions) (docdb.Cursor, error) {
	return retryCommand(ctx, ex, ref, "find", func(coll docdb.Collection) (docdb.Cursor, error) {
		return coll.Find(ctx, filter, opts)
	})
}

// FindOneAndUpdate atomically updates one document and returns its
// pre-update state (or post-update with opts.ReturnNew), or
// docdb.ErrNoDocuments when nothing matched.
func (ex *Executor) FindOneAndUpdate(ctx context.Context, ref CollectionRef, filter interface{}, update interface{}, opts *docdb.FindOneAndUpdateOptions) (bson.M, error) {
	return retryCommand(ctx, ex, ref, "find_one_and_update", func(coll docdb.Collection) (bson.M, error) {
		var doc bson.M
		if err := coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
			return nil, err
		}
		return doc, nil
	})
}

// UpdateOne updates a single document matching the filter.
func (ex *Executor) UpdateOne(ctx context.Context, ref CollectionRef, filter interface{}, update interface{}) (*docdb.UpdateResult, error) {
	return retryCommand(ctx, ex, ref, "update_one", func(coll docdb.Collection) (*docdb.UpdateResult, error) {
		return coll.UpdateOne(ctx, filter, update)
	})
}

// UpdateMany updates all documents matching the filter.
func (ex *Executor) UpdateMany(ctx context.Context, ref CollectionRef, filter interface{}, update interface{}) (*docdb.UpdateResult, error) {
	return retryCommand(ctx, ex, ref, "update_many", func(coll docdb.Collection) (*docdb.UpdateResult, error) {
		return coll.UpdateMany(ctx, filter, update)
	})
}

// InsertOne inserts a single document and returns its id.
func (ex *Executor) InsertOne(ctx context.Context, ref CollectionRef, document interface{}) (interface{}, error) {
	return retryCommand(ctx, ex, ref, "insert_one", func(coll docdb.Collection) (interface{}, error) {
		return coll.InsertOne(ctx, document)
	})
}

// InsertMany inserts multiple documents and returns their ids.
func (ex *Executor) InsertMany(ctx context.Context, ref CollectionRef, documents []interface{}) ([]interface{}, error) {
	return retryCommand(ctx, ex, ref, "insert_many", func(coll docdb.Collection) ([]interface{}, error) {
		return coll.InsertMany(ctx, documents)
	})
}

// DeleteOne deletes a single document matching the filter.
func (ex *Executor) DeleteOne(ctx context.Context, ref CollectionRef, filter interface{}) (*docdb.DeleteResult, error) {
	return retryCommand(ctx, ex, ref, "delete_one", func(coll docdb.Collection) (*docdb.DeleteResult, error) {
		return coll.DeleteOne(ctx, filter)
	})
}

// DeleteMany deletes all documents matching the filter.
func (ex *Executor) DeleteMany(ctx context.Context, ref CollectionRef, filter interface{}) (*docdb.DeleteResult, error) {
	return retryCommand(ctx, ex, ref, "delete_many", func(coll docdb.Collection) (*docdb.DeleteResult, error) {
		return coll.DeleteMany(ctx, filter)
	})
}

// Aggregate runs an aggregation pipeline.
func (ex *Executor) Aggregate(ctx context.Context, ref CollectionRef, pipeline interface{}) (docdb.Cursor, error) {
	return retryCommand(ctx, ex, ref, "aggregate", func(coll docdb.Collection) (docdb.Cursor, error) {
		return coll.Aggregate(ctx, pipeline)
	})
}

// CountDocuments counts documents matching the filter.
func (ex *Executor) CountDocuments(ctx context.Context, ref CollectionRef, filter interface{}) (int64, error) {
	return retryCommand(ctx, ex, ref, "count_documents", func(coll docdb.Collection) (int64, error) {
		return coll.CountDocuments(ctx, filter)
	})
}

// CreateIndex creates an index on the referenced collection.
func (ex *Executor) CreateIndex(ctx context.Context, ref CollectionRef, model docdb.IndexModel) (string, error) {
	return retryCommand(ctx, ex, ref, "create_index", func(coll docdb.Collection) (string, error) {
		return coll.CreateIndex(ctx, model)
	})
}

// ListIndexNames lists index names on the referenced collection.
func (ex *Executor) ListIndexNames(ctx context.Context, ref CollectionRef) ([]string, error) {
	return retryCommand(ctx, ex, ref, "list_index_names", func(coll docdb.Collection) ([]string, error) {
		return coll.ListIndexNames(ctx)
	})
}
