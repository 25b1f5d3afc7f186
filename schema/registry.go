package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoward/mongoward/docdb"
	"github.com/mongoward/mongoward/executor"
	"github.com/mongoward/mongoward/semaphore"
	"github.com/mongoward/mongoward/telemetry"
)

// LockCollection is the reserved, library-owned collection holding the
// bootstrap lock document. Consumers must not declare this name.
const LockCollection = "mongoward_lock"

// lockOwnerID identifies the single lock document.
const lockOwnerID = "master"

// creationRaceDelay is slept before re-fetching a collection another
// process created first.
const creationRaceDelay = 500 * time.Millisecond

// ErrCollectionNotFound is returned by GetCollection for names never
// realized via CreateCollection.
var ErrCollectionNotFound = errors.New("schema: collection not found")

// ErrReservedCollection is returned when a definition claims the lock
// collection's name.
var ErrReservedCollection = errors.New("schema: collection name is reserved")

// lockDefinition seeds the lock collection with the unlocked document.
func lockDefinition() CollectionDefinition {
	return CollectionDefinition{
		Name: LockCollection,
		DefaultDocs: []Document{{
			UniqueKey: bson.M{"_id": lockOwnerID},
			Data:      bson.M{"_id": lockOwnerID, "locked": false},
		}},
	}
}

// Options tunes a registry. Zero values fall back to defaults.
type Options struct {
	// WaitStep is slept between bootstrap lock attempts.
	WaitStep time.Duration
	// MaxWait bounds the total bootstrap lock wait; past it the lock is
	// force-released and bootstrap proceeds without confirmed exclusivity.
	MaxWait time.Duration
	// TowerTimeout bounds the in-host mutual exclusion.
	TowerTimeout time.Duration
	// StrictIndexes propagates index creation errors instead of
	// swallowing them.
	StrictIndexes bool

	Logger    zerolog.Logger
	Collector telemetry.Collector
}

const (
	defaultWaitStep = 7 * time.Second
	defaultMaxWait  = 55 * time.Second
)

// Registry owns a database's declared topology and its realized
// collection handles, and coordinates bootstrap across processes through
// the lock document.
type Registry struct {
	name          string
	exec          *executor.Executor
	tower         *semaphore.Tower
	logger        zerolog.Logger
	collector     telemetry.Collector
	waitStep      time.Duration
	maxWait       time.Duration
	strictIndexes bool

	// mu guards db, topology and collections; the reconnect hook rewrites
	// db and every handle's reference while holding it.
	mu          sync.RWMutex
	db          docdb.Database
	topology    []CollectionDefinition
	collections map[string]*Collection
}

// New creates a registry for the named database and registers its cache
// invalidation hook on the executor. Definitions passed here are appended
// to the topology; CreateAll realizes them.
func New(name string, exec *executor.Executor, opts Options, definitions ...CollectionDefinition) *Registry {
	if opts.WaitStep <= 0 {
		opts.WaitStep = defaultWaitStep
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = defaultMaxWait
	}
	if opts.Collector == nil {
		opts.Collector = telemetry.Noop()
	}

	r := &Registry{
		name:          name,
		exec:          exec,
		tower:         semaphore.New("schema:"+exec.Address()+"/"+name, opts.TowerTimeout, opts.Logger),
		logger:        opts.Logger,
		collector:     opts.Collector,
		waitStep:      opts.WaitStep,
		maxWait:       opts.MaxWait,
		strictIndexes: opts.StrictIndexes,
		db:            exec.Database(name),
		collections:   make(map[string]*Collection),
	}
	for _, def := range definitions {
		r.AddCollection(def)
	}
	exec.RegisterHook(r.invalidateCacheHook)
	return r
}

// Name returns the database name.
func (r *Registry) Name() string {
	return r.name
}

// AddCollection appends a definition to the declared topology. No remote
// side effect until CreateAll or CreateCollection.
func (r *Registry) AddCollection(def CollectionDefinition) {
	r.mu.Lock()
	r.topology = append(r.topology, def)
	r.mu.Unlock()
}

// GetCollection returns the realized handle for name.
func (r *Registry) GetCollection(name string) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coll, ok := r.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	return coll, nil
}

// Has reports whether name has been realized.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.collections[name]
	return ok
}

// Ping reports whether this database answers a ping.
func (r *Registry) Ping(ctx context.Context) bool {
	return r.exec.Ping(ctx, r.name)
}

// ListCollectionNames lists collection names present in the database.
func (r *Registry) ListCollectionNames(ctx context.Context) ([]string, error) {
	return r.database().ListCollectionNames(ctx)
}

// Drop drops the whole database.
func (r *Registry) Drop(ctx context.Context) error {
	return r.exec.DropDatabase(ctx, r.name)
}

func (r *Registry) database() docdb.Database {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.db
}

// invalidateCacheHook re-resolves the database and rewrites every cached
// handle's remote reference against the replaced client. Registered on
// the executor at construction; runs under the executor's tower.
func (r *Registry) invalidateCacheHook(source *executor.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.db = source.Database(r.name)
	for _, coll := range r.collections {
		coll.setRef(r.db.Collection(coll.Name()))
	}
	r.logger.Debug().Str("database", r.name).Int("collections", len(r.collections)).Msg("rebound cached handles")
}

// CreateAll realizes the declared topology exactly once across all
// concurrently bootstrapping processes: it serializes in-host through the
// tower, then races on the lock document, creates every declared
// collection in order, and always releases the lock.
func (r *Registry) CreateAll(ctx context.Context, skipExisting bool) error {
	if err := r.tower.Acquire(ctx); err != nil {
		return err
	}
	defer r.tower.Release()

	defer func() {
		if err := r.unlock(ctx); err != nil {
			r.logger.Warn().Err(err).Str("database", r.name).Msg("failed to release bootstrap lock")
		}
	}()

	var waited time.Duration
	for {
		acquired, err := r.lock(ctx)
		if err != nil {
			return fmt.Errorf("bootstrap lock failed: %w", err)
		}
		if acquired {
			break
		}
		r.collector.IncLockWait(r.name)
		r.logger.Debug().Str("database", r.name).Dur("waited", waited).Msg("waiting for bootstrap lock")
		if err := sleep(ctx, r.waitStep); err != nil {
			return err
		}
		waited += r.waitStep
		if waited > r.maxWait {
			// A slow (not dead) holder may still be bootstrapping; we
			// proceed anyway so a crashed holder cannot wedge everyone.
			r.logger.Warn().Str("database", r.name).Dur("waited", waited).Msg("bootstrap lock wait timed out, proceeding without exclusivity")
			if err := r.unlock(ctx); err != nil {
				return fmt.Errorf("bootstrap lock force release failed: %w", err)
			}
			break
		}
	}

	r.mu.RLock()
	topology := make([]CollectionDefinition, len(r.topology))
	copy(topology, r.topology)
	r.mu.RUnlock()

	for _, def := range topology {
		if _, err := r.CreateCollection(ctx, def, skipExisting); err != nil {
			r.logger.Error().Err(err).Str("database", r.name).Str("collection", def.Name).Msg("bootstrap failed")
			return err
		}
	}
	return nil
}

// lock attempts the test-and-set on the lock document. It first realizes
// the lock collection (seeded unlocked) through the ordinary creation
// path, then atomically flips locked from false to true.
func (r *Registry) lock(ctx context.Context) (bool, error) {
	lockColl, err := r.createCollection(ctx, lockDefinition(), true)
	if err != nil {
		return false, err
	}
	before, err := lockColl.FindOneAndUpdate(ctx,
		bson.M{"_id": lockOwnerID, "locked": false},
		bson.M{"$set": bson.M{"locked": true}},
		nil,
	)
	if err != nil {
		if docdb.IsNoDocuments(err) {
			// already locked by another bootstrapper
			return false, nil
		}
		return false, err
	}
	r.logger.Debug().Interface("state", before).Str("database", r.name).Msg("bootstrap lock state before update")
	locked, _ := before["locked"].(bool)
	return !locked, nil
}

// unlock writes the unlocked state unconditionally, creating the document
// when missing.
func (r *Registry) unlock(ctx context.Context) error {
	lockColl := newCollection(LockCollection, r.name, r.exec, r.database().Collection(LockCollection))
	_, err := lockColl.FindOneAndUpdate(ctx,
		bson.M{"_id": lockOwnerID},
		bson.M{"$set": bson.M{"locked": false}},
		&docdb.FindOneAndUpdateOptions{Upsert: true},
	)
	if err != nil && !docdb.IsNoDocuments(err) {
		return err
	}
	return nil
}

// CreateCollection realizes one definition: idempotent on the local
// cache, tolerant of peers racing on remote creation. The returned handle
// is cached and kept valid across reconnects.
func (r *Registry) CreateCollection(ctx context.Context, def CollectionDefinition, skipExisting bool) (*Collection, error) {
	if def.Name == LockCollection {
		return nil, fmt.Errorf("%w: %q", ErrReservedCollection, def.Name)
	}
	return r.createCollection(ctx, def, skipExisting)
}

func (r *Registry) createCollection(ctx context.Context, def CollectionDefinition, skipExisting bool) (*Collection, error) {
	r.mu.RLock()
	existing, ok := r.collections[def.Name]
	r.mu.RUnlock()
	if ok {
		return existing, nil
	}

	ref, isNew, err := r.ensureRemoteCollection(ctx, def)
	if err != nil {
		return nil, err
	}
	coll := newCollection(def.Name, r.name, r.exec, ref)

	if isNew || !skipExisting {
		if err := r.createIndices(ctx, coll, &def); err != nil {
			return nil, err
		}
		if _, err := r.insertDefaults(ctx, coll, def.DefaultDocs); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.collections[def.Name] = coll
	r.mu.Unlock()
	return coll, nil
}

// ensureRemoteCollection resolves the remote collection by name, creating
// it when absent. A creation conflict means another process won the race;
// after a short sleep the existing collection is fetched instead.
func (r *Registry) ensureRemoteCollection(ctx context.Context, def CollectionDefinition) (docdb.Collection, bool, error) {
	db := r.database()
	names, err := db.ListCollectionNames(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, name := range names {
		if name == def.Name {
			r.logger.Debug().Str("database", r.name).Str("collection", def.Name).Msg("fetched existing collection")
			return db.Collection(def.Name), false, nil
		}
	}

	r.logger.Warn().Str("database", r.name).Str("collection", def.Name).Msg("missing collection")
	if err := db.CreateCollection(ctx, def.Name); err != nil {
		switch docdb.KindOf(err) {
		case docdb.KindCollectionExists, docdb.KindWriteConflict, docdb.KindDuplicateKey:
			r.logger.Info().Err(err).Str("collection", def.Name).Msg("skipped creation, probably lost a creation race")
			if serr := sleep(ctx, creationRaceDelay); serr != nil {
				return nil, false, serr
			}
		default:
			return nil, false, err
		}
	} else {
		r.logger.Info().Str("database", r.name).Str("collection", def.Name).Msg("created collection")
	}
	return db.Collection(def.Name), true, nil
}

// createIndices creates each declared index not already present by name.
// Index errors are swallowed unless the registry runs with StrictIndexes.
func (r *Registry) createIndices(ctx context.Context, coll *Collection, def *CollectionDefinition) error {
	def.FillIndexNames()
	if len(def.Indices) == 0 {
		return nil
	}
	existing, err := r.exec.ListIndexNames(ctx, coll)
	if err != nil {
		return err
	}
	present := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		present[name] = struct{}{}
	}
	for _, index := range def.Indices {
		if _, ok := present[index.Name]; ok {
			continue
		}
		// in place check above prevents a few conflicts, not all of them
		if _, err := r.exec.CreateIndex(ctx, coll, index.model()); err != nil {
			r.logger.Warn().Err(err).Str("collection", coll.FullName()).Str("index", index.Name).Msg("failed to create index")
			if r.strictIndexes {
				return err
			}
			continue
		}
		r.logger.Info().Str("collection", coll.FullName()).Str("index", index.Name).Msg("created index")
	}
	return nil
}

// insertDefaults seeds documents whose unique key is not present yet. The
// lookup-then-insert is not atomic; acceptable for seed data.
func (r *Registry) insertDefaults(ctx context.Context, coll *Collection, docs []Document) (int, error) {
	inserted := 0
	for _, doc := range docs {
		_, err := coll.FindOne(ctx, doc.UniqueKey)
		if err == nil {
			continue
		}
		if !docdb.IsNoDocuments(err) {
			return inserted, err
		}
		if _, err := coll.InsertOne(ctx, doc.Data); err != nil {
			return inserted, err
		}
		inserted++
		r.logger.Info().Str("collection", coll.FullName()).Interface("key", doc.UniqueKey).Msg("inserted default document")
	}
	return inserted, nil
}

// sleep waits for the delay or until the context is done.
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
