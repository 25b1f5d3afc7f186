// Package executor wraps every database operation with failure
// classification, bounded retry and atomic client replacement. All
// communication with the database should go through an Executor.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mongoward/mongoward/docdb"
	"github.com/mongoward/mongoward/semaphore"
	"github.com/mongoward/mongoward/telemetry"
)

// CollectionRef names a collection and its owning database. The executor
// resolves the reference against the current client on every attempt, so
// holders stay valid across reconnects.
type CollectionRef interface {
	CollectionName() string
	DatabaseName() string
}

// ReconnectHook is invoked synchronously, in registration order, every
// time the client is replaced. Hooks must be idempotent.
type ReconnectHook func(ex *Executor)

// Options tunes the retry budgets. Zero values fall back to defaults;
// negative retry counts and delays disable them.
type Options struct {
	// WriteRetry is how many extra attempts a failed operation gets.
	WriteRetry int
	// WriteRetryDelay is slept before each reconnect in the write path.
	WriteRetryDelay time.Duration
	// ReadRetry and ReadRetryDelay are the shorter budget used by Ping.
	ReadRetry      int
	ReadRetryDelay time.Duration
	// RetryCodes is the set of write conflict codes safe to retry,
	// typically mongodb.DefaultRetryCodes.
	RetryCodes []int32
	// TowerTimeout bounds reconnect/dispose mutual exclusion.
	TowerTimeout time.Duration

	Logger    zerolog.Logger
	Collector telemetry.Collector
}

const (
	defaultWriteRetry      = 3
	defaultWriteRetryDelay = 1300 * time.Millisecond
	defaultReadRetry       = 2
	defaultReadRetryDelay  = 701 * time.Millisecond
)

// Executor owns one live client and the retry machinery around it.
type Executor struct {
	tower     *semaphore.Tower
	logger    zerolog.Logger
	collector telemetry.Collector
	connector docdb.Connector

	writeRetry      int
	writeRetryDelay time.Duration
	readRetry       int
	readRetryDelay  time.Duration
	retryCodes      map[int32]struct{}

	// mu guards client, disposed and hooks so operations can run
	// concurrently with a reconnect; replacement itself is additionally
	// serialized by the tower.
	mu       sync.RWMutex
	client   docdb.Client
	disposed bool
	hooks    []ReconnectHook
}

// New connects and returns a ready executor. The initial connect happens
// under the tower; on failure the error is returned and no executor is
// kept.
func New(ctx context.Context, connector docdb.Connector, opts Options) (*Executor, error) {
	if connector == nil {
		return nil, fmt.Errorf("connector cannot be nil")
	}
	if opts.Collector == nil {
		opts.Collector = telemetry.Noop()
	}
	if opts.WriteRetry == 0 {
		opts.WriteRetry = defaultWriteRetry
	} else if opts.WriteRetry < 0 {
		opts.WriteRetry = 0
	}
	if opts.WriteRetryDelay == 0 {
		opts.WriteRetryDelay = defaultWriteRetryDelay
	} else if opts.WriteRetryDelay < 0 {
		opts.WriteRetryDelay = 0
	}
	if opts.ReadRetry == 0 {
		opts.ReadRetry = defaultReadRetry
	} else if opts.ReadRetry < 0 {
		opts.ReadRetry = 0
	}
	if opts.ReadRetryDelay == 0 {
		opts.ReadRetryDelay = defaultReadRetryDelay
	} else if opts.ReadRetryDelay < 0 {
		opts.ReadRetryDelay = 0
	}

	codes := make(map[int32]struct{}, len(opts.RetryCodes))
	for _, code := range opts.RetryCodes {
		codes[code] = struct{}{}
	}

	ex := &Executor{
		tower:           semaphore.New("executor:"+connector.Address(), opts.TowerTimeout, opts.Logger),
		logger:          opts.Logger,
		collector:       opts.Collector,
		connector:       connector,
		writeRetry:      opts.WriteRetry,
		writeRetryDelay: opts.WriteRetryDelay,
		readRetry:       opts.ReadRetry,
		readRetryDelay:  opts.ReadRetryDelay,
		retryCodes:      codes,
		disposed:        true,
	}

	if err := ex.tower.Acquire(ctx); err != nil {
		return nil, err
	}
	defer ex.tower.Release()

	client, err := connector.Connect(ctx)
	if err != nil {
		ex.logger.Warn().Err(err).Str("address", connector.Address()).Msg("cannot create client")
		return nil, err
	}
	ex.mu.Lock()
	ex.client = client
	ex.disposed = false
	ex.mu.Unlock()
	return ex, nil
}

// Address returns the server address the executor talks to.
func (ex *Executor) Address() string {
	return ex.connector.Address()
}

// Disposed reports whether the executor currently has no usable client.
func (ex *Executor) Disposed() bool {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.disposed
}

func (ex *Executor) currentClient() docdb.Client {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.client
}

// Database returns a handle bound to the current client. Prefer holding
// schema.Collection handles, which survive reconnects.
func (ex *Executor) Database(name string) docdb.Database {
	return ex.currentClient().Database(name)
}

// DropDatabase drops the named database.
func (ex *Executor) DropDatabase(ctx context.Context, name string) error {
	return ex.currentClient().DropDatabase(ctx, name)
}

// RegisterHook appends a reconnect observer. No deduplication is done.
func (ex *Executor) RegisterHook(hook ReconnectHook) {
	ex.mu.Lock()
	ex.hooks = append(ex.hooks, hook)
	ex.mu.Unlock()
}

// Reconnect replaces the client with a fresh one and fires every
// registered hook in order. A connector failure leaves the executor
// disposed and is returned un-retried; retrying is the caller's loop.
func (ex *Executor) Reconnect(ctx context.Context) error {
	if err := ex.tower.Acquire(ctx); err != nil {
		return err
	}
	defer ex.tower.Release()
	return ex.reconnectLocked(ctx)
}

func (ex *Executor) reconnectLocked(ctx context.Context) error {
	ex.logger.Debug().Str("address", ex.Address()).Msg("reconnecting client")

	client, err := ex.connector.Connect(ctx)
	if err != nil {
		ex.logger.Error().Err(err).Str("address", ex.Address()).Msg("cannot reconnect")
		return err
	}

	ex.mu.Lock()
	old := ex.client
	ex.client = client
	ex.disposed = false
	hooks := make([]ReconnectHook, len(ex.hooks))
	copy(hooks, ex.hooks)
	ex.mu.Unlock()

	// fired outside mu so hooks can re-resolve databases through ex
	for _, hook := range hooks {
		hook(ex)
	}
	ex.collector.IncReconnect()
	ex.logger.Info().Str("address", ex.Address()).Msg("reconnected client")

	if old != nil {
		if err := old.Disconnect(ctx); err != nil {
			ex.logger.Debug().Err(err).Msg("cannot close replaced client")
		}
	}
	return nil
}

// Dispose closes the client. Idempotent; close failures are logged and
// swallowed.
func (ex *Executor) Dispose(ctx context.Context) {
	if ex.Disposed() {
		return
	}
	if err := ex.tower.Acquire(ctx); err != nil {
		ex.logger.Debug().Err(err).Msg("dispose could not acquire tower")
		return
	}
	defer ex.tower.Release()

	ex.mu.Lock()
	if ex.disposed {
		ex.mu.Unlock()
		return
	}
	client := ex.client
	ex.disposed = true
	ex.mu.Unlock()

	if err := client.Disconnect(ctx); err != nil {
		ex.logger.Debug().Err(err).Msg("cannot close client")
	}
	ex.logger.Debug().Str("address", ex.Address()).Msg("disconnected")
}

// Ping reports whether the named database is reachable, using the read
// retry budget. Defaults to the admin database. Never returns an error.
func (ex *Executor) Ping(ctx context.Context, database string) bool {
	if database == "" {
		database = "admin"
	}
	retry := ex.readRetry
	if retry < 1 {
		retry = 1
	}
	for attempt := 0; attempt < retry; attempt++ {
		if ex.Disposed() {
			if err := ex.Reconnect(ctx); err != nil {
				continue
			}
		}
		err := ex.currentClient().Ping(ctx, database)
		if err == nil {
			return true
		}
		ex.logger.Info().Err(err).Str("database", database).Msg("failed to ping")
		if docdb.IsConnectivity(err) {
			if err := ex.sleep(ctx, ex.readRetryDelay); err != nil {
				return false
			}
			_ = ex.Reconnect(ctx)
		}
	}
	return false
}

// retryable applies the failure classification: connectivity always
// retries, write conflicts retry only with a configured code.
func (ex *Executor) retryable(err error) bool {
	switch docdb.KindOf(err) {
	case docdb.KindConnectivity:
		return true
	case docdb.KindWriteConflict:
		code, _ := docdb.CodeOf(err)
		_, ok := ex.retryCodes[code]
		return ok
	default:
		return false
	}
}

// sleep waits for the delay or until the context is done.
func (ex *Executor) sleep(ctx context.Context, delay time.Duration) error {
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
