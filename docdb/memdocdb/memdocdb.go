// Package memdocdb is an in-memory docdb implementation for tests. It
// backs every connected client with one shared store, so a reconnect
// yields a fresh client over the same data, and supports fault injection
// to script connectivity failures and write conflicts.
//
// Decoding supports *bson.M targets, which is what the executor and the
// tests use. Filters match by field equality; updates support $set.
package memdocdb

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoward/mongoward/docdb"
)

// Store is the shared backing state behind every client a Connector
// hands out.
type Store struct {
	mu        sync.Mutex
	databases map[string]*database
	connects  int

	connectFailures []error
	opFailures      []error
}

type database struct {
	collections map[string]*collection
	order       []string
}

type collection struct {
	docs    []bson.M
	indexes []string
	nextID  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{databases: make(map[string]*database)}
}

// FailNextConnects scripts the next n Connect calls to fail with err.
func (s *Store) FailNextConnects(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.connectFailures = append(s.connectFailures, err)
	}
}

// FailNextOps scripts the next n collection operations to fail with err.
func (s *Store) FailNextOps(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.opFailures = append(s.opFailures, err)
	}
}

// ConnectCount reports how many clients were successfully connected.
func (s *Store) ConnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Documents returns a copy of every document in the named collection, in
// insertion order.
func (s *Store) Documents(dbName, collName string) []bson.M {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.database(dbName).collection(collName)
	out := make([]bson.M, 0, len(coll.docs))
	for _, doc := range coll.docs {
		out = append(out, copyDoc(doc))
	}
	return out
}

func (s *Store) takeOpFailure() error {
	if len(s.opFailures) == 0 {
		return nil
	}
	err := s.opFailures[0]
	s.opFailures = s.opFailures[1:]
	return err
}

func (s *Store) database(name string) *database {
	db, ok := s.databases[name]
	if !ok {
		db = &database{collections: make(map[string]*collection)}
		s.databases[name] = db
	}
	return db
}

func (db *database) collection(name string) *collection {
	coll, ok := db.collections[name]
	if !ok {
		coll = &collection{}
		db.collections[name] = coll
		db.order = append(db.order, name)
	}
	return coll
}

func (db *database) has(name string) bool {
	_, ok := db.collections[name]
	return ok
}

// Connector implements docdb.Connector over a shared store.
type Connector struct {
	store *Store
}

// NewConnector creates a connector backed by store.
func NewConnector(store *Store) *Connector {
	return &Connector{store: store}
}

// Address returns a fixed fake address.
func (c *Connector) Address() string {
	return "memdocdb:0"
}

// Connect returns a new client over the shared store, or the next
// scripted connect failure.
func (c *Connector) Connect(_ context.Context) (docdb.Client, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if len(c.store.connectFailures) > 0 {
		err := c.store.connectFailures[0]
		c.store.connectFailures = c.store.connectFailures[1:]
		return nil, err
	}
	c.store.connects++
	return &Client{store: c.store}, nil
}

// Client implements docdb.Client.
type Client struct {
	store        *Store
	mu           sync.Mutex
	disconnected bool
}

// Disconnected reports whether Disconnect was called on this client.
func (c *Client) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Database returns a database handle by name.
func (c *Client) Database(name string) docdb.Database {
	return &Database{store: c.store, name: name}
}

// Ping fails only when a fault is scripted.
func (c *Client) Ping(_ context.Context, _ string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.store.takeOpFailure()
}

// DropDatabase drops the named database.
func (c *Client) DropDatabase(_ context.Context, name string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	delete(c.store.databases, name)
	return nil
}

// Disconnect marks the client closed.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

// Database implements docdb.Database.
type Database struct {
	store *Store
	name  string
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// Collection returns a collection handle by name.
func (d *Database) Collection(name string) docdb.Collection {
	return &Collection{store: d.store, database: d.name, name: name}
}

// CreateCollection creates the collection, failing with a
// collection-exists error when it is already there.
func (d *Database) CreateCollection(_ context.Context, name string) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if err := d.store.takeOpFailure(); err != nil {
		return err
	}
	db := d.store.database(d.name)
	if db.has(name) {
		return docdb.NewError(docdb.KindCollectionExists, 48, fmt.Errorf("collection %q already exists", name))
	}
	db.collection(name)
	return nil
}

// ListCollectionNames lists collection names in creation order.
func (d *Database) ListCollectionNames(_ context.Context) ([]string, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if err := d.store.takeOpFailure(); err != nil {
		return nil, err
	}
	db := d.store.database(d.name)
	names := make([]string, len(db.order))
	copy(names, db.order)
	return names, nil
}

// Drop drops the database.
func (d *Database) Drop(_ context.Context) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	delete(d.store.databases, d.name)
	return nil
}

// Collection implements docdb.Collection.
type Collection struct {
	store    *Store
	database string
	name     string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// DatabaseName returns the owning database name.
func (c *Collection) DatabaseName() string { return c.database }

func (c *Collection) state() *collection {
	return c.store.database(c.database).collection(c.name)
}

// InsertOne inserts a single document.
func (c *Collection) InsertOne(_ context.Context, document interface{}) (interface{}, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return nil, err
	}
	return c.insertLocked(document)
}

// InsertMany inserts multiple documents.
func (c *Collection) InsertMany(_ context.Context, documents []interface{}) ([]interface{}, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return nil, err
	}
	ids := make([]interface{}, 0, len(documents))
	for _, document := range documents {
		id, err := c.insertLocked(document)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Collection) insertLocked(document interface{}) (interface{}, error) {
	doc, err := toDoc(document)
	if err != nil {
		return nil, err
	}
	coll := c.state()
	id, ok := doc["_id"]
	if !ok {
		coll.nextID++
		id = fmt.Sprintf("oid-%d", coll.nextID)
		doc["_id"] = id
	}
	for _, existing := range coll.docs {
		if reflect.DeepEqual(existing["_id"], id) {
			return nil, docdb.NewError(docdb.KindDuplicateKey, 11000, fmt.Errorf("duplicate key %v", id))
		}
	}
	coll.docs = append(coll.docs, doc)
	return id, nil
}

// FindOne finds a single document matching the filter.
func (c *Collection) FindOne(_ context.Context, filter interface{}) docdb.SingleResult {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return &singleResult{err: err}
	}
	for _, doc := range c.state().docs {
		if matches(doc, filter) {
			return &singleResult{doc: copyDoc(doc)}
		}
	}
	return &singleResult{err: docdb.ErrNoDocuments}
}

// Find finds all documents matching the filter.
func (c *Collection) Find(_ context.Context, filter interface{}, opts *docdb.FindOptions) (docdb.Cursor, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return nil, err
	}
	var out []bson.M
	for _, doc := range c.state().docs {
		if matches(doc, filter) {
			out = append(out, copyDoc(doc))
		}
	}
	if opts != nil {
		if opts.Skip > 0 && int(opts.Skip) < len(out) {
			out = out[opts.Skip:]
		} else if opts.Skip > 0 {
			out = nil
		}
		if opts.Limit > 0 && int(opts.Limit) < len(out) {
			out = out[:opts.Limit]
		}
	}
	return &cursor{docs: out, pos: -1}, nil
}

// FindOneAndUpdate atomically updates the first match, returning its
// pre-update state (or post-update with opts.ReturnNew).
func (c *Collection) FindOneAndUpdate(_ context.Context, filter interface{}, update interface{}, opts *docdb.FindOneAndUpdateOptions) docdb.SingleResult {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return &singleResult{err: err}
	}
	coll := c.state()
	for _, doc := range coll.docs {
		if !matches(doc, filter) {
			continue
		}
		before := copyDoc(doc)
		if err := applyUpdate(doc, update); err != nil {
			return &singleResult{err: err}
		}
		if opts != nil && opts.ReturnNew {
			return &singleResult{doc: copyDoc(doc)}
		}
		return &singleResult{doc: before}
	}
	if opts != nil && opts.Upsert {
		doc := bson.M{}
		if filterDoc, err := toDoc(filter); err == nil {
			for key, value := range filterDoc {
				doc[key] = value
			}
		}
		if err := applyUpdate(doc, update); err != nil {
			return &singleResult{err: err}
		}
		if _, err := c.insertLocked(doc); err != nil {
			return &singleResult{err: err}
		}
		if opts.ReturnNew {
			return &singleResult{doc: copyDoc(doc)}
		}
	}
	return &singleResult{err: docdb.ErrNoDocuments}
}

// UpdateOne updates the first document matching the filter.
func (c *Collection) UpdateOne(_ context.Context, filter interface{}, update interface{}) (*docdb.UpdateResult, error) {
	return c.update(filter, update, 1)
}

// UpdateMany updates all documents matching the filter.
func (c *Collection) UpdateMany(_ context.Context, filter interface{}, update interface{}) (*docdb.UpdateResult, error) {
	return c.update(filter, update, -1)
}

func (c *Collection) update(filter interface{}, update interface{}, limit int) (*docdb.UpdateResult, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return nil, err
	}
	result := &docdb.UpdateResult{}
	for _, doc := range c.state().docs {
		if limit >= 0 && result.MatchedCount >= int64(limit) {
			break
		}
		if !matches(doc, filter) {
			continue
		}
		result.MatchedCount++
		if err := applyUpdate(doc, update); err != nil {
			return nil, err
		}
		result.ModifiedCount++
	}
	return result, nil
}

// DeleteOne deletes the first document matching the filter.
func (c *Collection) DeleteOne(_ context.Context, filter interface{}) (*docdb.DeleteResult, error) {
	return c.delete(filter, 1)
}

// DeleteMany deletes all documents matching the filter.
func (c *Collection) DeleteMany(_ context.Context, filter interface{}) (*docdb.DeleteResult, error) {
	return c.delete(filter, -1)
}

func (c *Collection) delete(filter interface{}, limit int) (*docdb.DeleteResult, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return nil, err
	}
	coll := c.state()
	result := &docdb.DeleteResult{}
	kept := coll.docs[:0]
	for _, doc := range coll.docs {
		if (limit < 0 || result.DeletedCount < int64(limit)) && matches(doc, filter) {
			result.DeletedCount++
			continue
		}
		kept = append(kept, doc)
	}
	coll.docs = kept
	return result, nil
}

// Aggregate supports $match stages; anything else fails.
func (c *Collection) Aggregate(_ context.Context, pipeline interface{}) (docdb.Cursor, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return nil, err
	}
	stages, ok := pipeline.([]bson.M)
	if !ok {
		return nil, fmt.Errorf("memdocdb: unsupported pipeline type %T", pipeline)
	}
	var out []bson.M
	for _, doc := range c.state().docs {
		out = append(out, copyDoc(doc))
	}
	for _, stage := range stages {
		match, ok := stage["$match"]
		if !ok {
			return nil, fmt.Errorf("memdocdb: unsupported stage %v", stage)
		}
		var filtered []bson.M
		for _, doc := range out {
			if matches(doc, match) {
				filtered = append(filtered, doc)
			}
		}
		out = filtered
	}
	return &cursor{docs: out, pos: -1}, nil
}

// CountDocuments counts documents matching the filter.
func (c *Collection) CountDocuments(_ context.Context, filter interface{}) (int64, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return 0, err
	}
	var count int64
	for _, doc := range c.state().docs {
		if matches(doc, filter) {
			count++
		}
	}
	return count, nil
}

// CreateIndex records the index name.
func (c *Collection) CreateIndex(_ context.Context, model docdb.IndexModel) (string, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return "", err
	}
	coll := c.state()
	for _, name := range coll.indexes {
		if name == model.Name {
			return "", docdb.NewError(docdb.KindWriteConflict, 85, fmt.Errorf("index %q already exists", model.Name))
		}
	}
	coll.indexes = append(coll.indexes, model.Name)
	return model.Name, nil
}

// ListIndexNames lists recorded index names, sorted.
func (c *Collection) ListIndexNames(_ context.Context) ([]string, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.takeOpFailure(); err != nil {
		return nil, err
	}
	names := make([]string, len(c.state().indexes))
	copy(names, c.state().indexes)
	sort.Strings(names)
	return names, nil
}

type singleResult struct {
	doc bson.M
	err error
}

func (r *singleResult) Decode(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	return decodeInto(r.doc, v)
}

func (r *singleResult) Err() error {
	return r.err
}

type cursor struct {
	docs []bson.M
	pos  int
}

func (c *cursor) Next(_ context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}

func (c *cursor) Decode(v interface{}) error {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return fmt.Errorf("memdocdb: cursor out of range")
	}
	return decodeInto(c.docs[c.pos], v)
}

func (c *cursor) All(_ context.Context, results interface{}) error {
	target, ok := results.(*[]bson.M)
	if !ok {
		return fmt.Errorf("memdocdb: unsupported decode target %T", results)
	}
	*target = append(*target, c.docs[c.pos+1:]...)
	c.pos = len(c.docs)
	return nil
}

func (c *cursor) Err() error { return nil }

func (c *cursor) Close(_ context.Context) error { return nil }

func decodeInto(doc bson.M, v interface{}) error {
	switch target := v.(type) {
	case *bson.M:
		*target = copyDoc(doc)
		return nil
	case *map[string]interface{}:
		*target = copyDoc(doc)
		return nil
	default:
		return fmt.Errorf("memdocdb: unsupported decode target %T", v)
	}
}

func toDoc(v interface{}) (bson.M, error) {
	switch doc := v.(type) {
	case bson.M:
		return copyDoc(doc), nil
	case map[string]interface{}:
		return copyDoc(doc), nil
	default:
		return nil, fmt.Errorf("memdocdb: unsupported document type %T", v)
	}
}

func copyDoc(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for key, value := range doc {
		out[key] = value
	}
	return out
}

// matches applies field-equality matching. A nil or empty filter matches
// every document.
func matches(doc bson.M, filter interface{}) bool {
	if filter == nil {
		return true
	}
	filterDoc, err := toDoc(filter)
	if err != nil {
		return false
	}
	for key, want := range filterDoc {
		got, ok := doc[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// applyUpdate supports $set documents.
func applyUpdate(doc bson.M, update interface{}) error {
	updateDoc, err := toDoc(update)
	if err != nil {
		return err
	}
	for op, value := range updateDoc {
		if op != "$set" {
			return fmt.Errorf("memdocdb: unsupported update operator %q", op)
		}
		fields, err := toDoc(value)
		if err != nil {
			return err
		}
		for key, fieldValue := range fields {
			doc[key] = fieldValue
		}
	}
	return nil
}
