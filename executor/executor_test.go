package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoward/mongoward/docdb"
	"github.com/mongoward/mongoward/docdb/memdocdb"
)

// countingCollector records telemetry calls for assertions.
type countingCollector struct {
	reconnects int
	retries    int
	exhausted  int
	lockWaits  int
}

func (c *countingCollector) IncReconnect()       { c.reconnects++ }
func (c *countingCollector) IncRetry(string)     { c.retries++ }
func (c *countingCollector) IncExhausted(string) { c.exhausted++ }
func (c *countingCollector) IncLockWait(string)  { c.lockWaits++ }

type staticRef struct {
	collection string
	database   string
}

func (r staticRef) CollectionName() string { return r.collection }
func (r staticRef) DatabaseName() string   { return r.database }

func connectivityErr() error {
	return docdb.NewError(docdb.KindConnectivity, 0, errors.New("connection reset by peer"))
}

func newTestExecutor(t *testing.T, store *memdocdb.Store, collector *countingCollector) *Executor {
	t.Helper()
	ex, err := New(context.Background(), memdocdb.NewConnector(store), Options{
		WriteRetry:      3,
		WriteRetryDelay: time.Millisecond,
		ReadRetry:       2,
		ReadRetryDelay:  time.Millisecond,
		RetryCodes:      []int32{91, 189, 10107, 11600, 11602, 13435, 13436},
		Logger:          zerolog.Nop(),
		Collector:       collector,
	})
	require.NoError(t, err)
	return ex
}

func TestNewFailsWhenConnectFails(t *testing.T) {
	store := memdocdb.NewStore()
	store.FailNextConnects(1, connectivityErr())

	_, err := New(context.Background(), memdocdb.NewConnector(store), Options{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.True(t, docdb.IsConnectivity(err))
}

func TestNewRejectsNilConnector(t *testing.T) {
	_, err := New(context.Background(), nil, Options{})
	require.Error(t, err)
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	collector := &countingCollector{}
	ex := newTestExecutor(t, store, collector)
	defer ex.Dispose(ctx)

	ref := staticRef{collection: "game", database: "arcade"}
	_, err := ex.InsertOne(ctx, ref, bson.M{"name": "tetris"})
	require.NoError(t, err)

	// two transient failures, budget is four attempts
	store.FailNextOps(2, connectivityErr())

	doc, err := ex.FindOne(ctx, ref, bson.M{"name": "tetris"})
	require.NoError(t, err)
	assert.Equal(t, "tetris", doc["name"])

	assert.Equal(t, 2, collector.retries)
	assert.Equal(t, 2, collector.reconnects)
	assert.Equal(t, 0, collector.exhausted)
	// initial connect plus one per transient failure
	assert.Equal(t, 3, store.ConnectCount())
}

func TestRetryExhaustedReturnsExhaustedError(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	collector := &countingCollector{}
	ex := newTestExecutor(t, store, collector)
	defer ex.Dispose(ctx)

	ref := staticRef{collection: "game", database: "arcade"}
	store.FailNextOps(4, connectivityErr())

	_, err := ex.FindOne(ctx, ref, bson.M{"name": "tetris"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "find_one", exhausted.Operation)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.True(t, docdb.IsConnectivity(exhausted.Err))
	assert.Equal(t, 1, collector.exhausted)
	assert.Equal(t, 4, collector.retries)
}

func TestWriteConflictWithConfiguredCodeRetries(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	collector := &countingCollector{}
	ex := newTestExecutor(t, store, collector)
	defer ex.Dispose(ctx)

	ref := staticRef{collection: "game", database: "arcade"}
	store.FailNextOps(1, docdb.NewError(docdb.KindWriteConflict, 91, errors.New("ShutdownInProgress")))

	_, err := ex.InsertOne(ctx, ref, bson.M{"name": "pong"})
	require.NoError(t, err)
	assert.Equal(t, 1, collector.retries)
	assert.Equal(t, 2, store.ConnectCount())
}

func TestWriteConflictWithUnknownCodeFailsImmediately(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	collector := &countingCollector{}
	ex := newTestExecutor(t, store, collector)
	defer ex.Dispose(ctx)

	ref := staticRef{collection: "game", database: "arcade"}
	permanent := docdb.NewError(docdb.KindWriteConflict, 50, errors.New("MaxTimeMSExpired"))
	store.FailNextOps(1, permanent)

	_, err := ex.InsertOne(ctx, ref, bson.M{"name": "pong"})
	require.Error(t, err)
	assert.Equal(t, docdb.KindWriteConflict, docdb.KindOf(err))
	assert.Equal(t, 0, collector.retries)
	assert.Equal(t, 0, collector.reconnects)
	// no reconnect happened
	assert.Equal(t, 1, store.ConnectCount())
}

func TestFindOneNoDocumentsPassesThrough(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	ex := newTestExecutor(t, store, &countingCollector{})
	defer ex.Dispose(ctx)

	_, err := ex.FindOne(ctx, staticRef{collection: "game", database: "arcade"}, bson.M{"name": "absent"})
	require.Error(t, err)
	assert.True(t, docdb.IsNoDocuments(err))
}

func TestDisposeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	ex := newTestExecutor(t, store, &countingCollector{})

	ex.Dispose(ctx)
	assert.True(t, ex.Disposed())
	ex.Dispose(ctx)
	assert.True(t, ex.Disposed())
}

func TestOperationAfterDisposeReconnects(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	collector := &countingCollector{}
	ex := newTestExecutor(t, store, collector)

	ref := staticRef{collection: "game", database: "arcade"}
	_, err := ex.InsertOne(ctx, ref, bson.M{"name": "tetris"})
	require.NoError(t, err)

	ex.Dispose(ctx)
	require.True(t, ex.Disposed())

	doc, err := ex.FindOne(ctx, ref, bson.M{"name": "tetris"})
	require.NoError(t, err)
	assert.Equal(t, "tetris", doc["name"])
	assert.False(t, ex.Disposed())
	assert.Equal(t, 2, store.ConnectCount())
}

func TestReconnectFiresHooksInOrder(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	ex := newTestExecutor(t, store, &countingCollector{})
	defer ex.Dispose(ctx)

	var order []string
	ex.RegisterHook(func(*Executor) { order = append(order, "first") })
	ex.RegisterHook(func(*Executor) { order = append(order, "second") })

	require.NoError(t, ex.Reconnect(ctx))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.False(t, ex.Disposed())
}

func TestReconnectFailureLeavesExecutorUsableForRetry(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	collector := &countingCollector{}
	ex := newTestExecutor(t, store, collector)
	defer ex.Dispose(ctx)

	ref := staticRef{collection: "game", database: "arcade"}
	_, err := ex.InsertOne(ctx, ref, bson.M{"name": "tetris"})
	require.NoError(t, err)

	// the first transient failure triggers a reconnect that also fails;
	// the next attempt reconnects successfully and serves the read
	store.FailNextOps(1, connectivityErr())
	store.FailNextConnects(1, connectivityErr())

	doc, err := ex.FindOne(ctx, ref, bson.M{"name": "tetris"})
	require.NoError(t, err)
	assert.Equal(t, "tetris", doc["name"])
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	ex := newTestExecutor(t, store, &countingCollector{})
	defer ex.Dispose(ctx)

	assert.True(t, ex.Ping(ctx, "arcade"))

	// one transient failure fits the read budget
	store.FailNextOps(1, connectivityErr())
	assert.True(t, ex.Ping(ctx, "arcade"))

	// persistent failure exhausts it
	store.FailNextOps(10, connectivityErr())
	assert.False(t, ex.Ping(ctx, ""))
}

func TestConcurrentOperationsDuringReconnect(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	ex := newTestExecutor(t, store, &countingCollector{})
	defer ex.Dispose(ctx)

	ref := staticRef{collection: "game", database: "arcade"}
	_, err := ex.InsertOne(ctx, ref, bson.M{"name": "tetris"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				doc, err := ex.FindOne(ctx, ref, bson.M{"name": "tetris"})
				assert.NoError(t, err)
				assert.Equal(t, "tetris", doc["name"])
				_ = ex.Disposed()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			assert.NoError(t, ex.Reconnect(ctx))
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			ex.RegisterHook(func(*Executor) {})
		}
	}()
	wg.Wait()
}

func TestNegativeRetryDisablesRetries(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	collector := &countingCollector{}
	ex, err := New(ctx, memdocdb.NewConnector(store), Options{
		WriteRetry:      -1,
		WriteRetryDelay: -1,
		ReadRetry:       -1,
		ReadRetryDelay:  -1,
		Logger:          zerolog.Nop(),
		Collector:       collector,
	})
	require.NoError(t, err)
	defer ex.Dispose(ctx)

	assert.Equal(t, 0, ex.writeRetry)
	assert.Equal(t, time.Duration(0), ex.writeRetryDelay)

	ref := staticRef{collection: "game", database: "arcade"}
	store.FailNextOps(1, connectivityErr())

	_, err = ex.FindOne(ctx, ref, bson.M{"name": "tetris"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
}

func TestZeroOptionsKeepDefaults(t *testing.T) {
	ctx := context.Background()
	ex, err := New(ctx, memdocdb.NewConnector(memdocdb.NewStore()), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer ex.Dispose(ctx)

	assert.Equal(t, defaultWriteRetry, ex.writeRetry)
	assert.Equal(t, defaultWriteRetryDelay, ex.writeRetryDelay)
	assert.Equal(t, defaultReadRetry, ex.readRetry)
	assert.Equal(t, defaultReadRetryDelay, ex.readRetryDelay)
}

func TestOperationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memdocdb.NewStore()
	ex := newTestExecutor(t, store, &countingCollector{})
	defer ex.Dispose(ctx)

	ref := staticRef{collection: "game", database: "arcade"}

	ids, err := ex.InsertMany(ctx, ref, []interface{}{
		bson.M{"name": "tetris", "genre": "puzzle"},
		bson.M{"name": "pong", "genre": "sports"},
		bson.M{"name": "snake", "genre": "puzzle"},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	count, err := ex.CountDocuments(ctx, ref, bson.M{"genre": "puzzle"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	result, err := ex.UpdateMany(ctx, ref, bson.M{"genre": "puzzle"}, bson.M{"$set": bson.M{"tag": "classic"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.ModifiedCount)

	cursor, err := ex.Find(ctx, ref, bson.M{"tag": "classic"}, nil)
	require.NoError(t, err)
	var docs []bson.M
	require.NoError(t, cursor.All(ctx, &docs))
	assert.Len(t, docs, 2)

	before, err := ex.FindOneAndUpdate(ctx, ref, bson.M{"name": "pong"}, bson.M{"$set": bson.M{"genre": "arcade"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "sports", before["genre"])

	aggregated, err := ex.Aggregate(ctx, ref, []bson.M{{"$match": bson.M{"genre": "arcade"}}})
	require.NoError(t, err)
	var matched []bson.M
	require.NoError(t, aggregated.All(ctx, &matched))
	assert.Len(t, matched, 1)

	name, err := ex.CreateIndex(ctx, ref, docdb.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Name: "ux__game__name", Unique: true})
	require.NoError(t, err)
	assert.Equal(t, "ux__game__name", name)

	names, err := ex.ListIndexNames(ctx, ref)
	require.NoError(t, err)
	assert.Contains(t, names, "ux__game__name")

	deleted, err := ex.DeleteMany(ctx, ref, bson.M{"tag": "classic"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted.DeletedCount)
}
