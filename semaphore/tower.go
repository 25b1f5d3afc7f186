// Package semaphore provides the dual-layer mutual exclusion used to
// serialize reconnects and schema bootstrap: a cross-process file lock
// stacked on an in-process mutex, acquired shared layer first and released
// in reverse order.
package semaphore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// ErrTimeout is returned when a layer could not be acquired in time.
var ErrTimeout = fmt.Errorf("semaphore: acquire timed out")

// DefaultTimeout bounds each layer's acquisition when no timeout is given.
const DefaultTimeout = 30 * time.Second

// retryInterval is how often the shared file lock is polled.
const retryInterval = 50 * time.Millisecond

// Tower is a paired cross-process + in-process lock. It is not reentrant;
// every owner (executor, each registry) constructs its own tower so nested
// bootstrap/reconnect paths never re-enter the one they hold.
type Tower struct {
	timeout time.Duration
	logger  zerolog.Logger
	shared  *flock.Flock
	local   chan struct{}
}

// New creates a tower. The cross-process layer locks a file under the OS
// temp dir derived from name, so towers with the same name exclude each
// other across processes on the same host.
func New(name string, timeout time.Duration, logger zerolog.Logger) *Tower {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	digest := sha256.Sum256([]byte(name))
	path := filepath.Join(os.TempDir(), fmt.Sprintf("mongoward-%s.lock", hex.EncodeToString(digest[:8])))

	local := make(chan struct{}, 1)
	local <- struct{}{}

	return &Tower{
		timeout: timeout,
		logger:  logger,
		shared:  flock.New(path),
		local:   local,
	}
}

// Acquire takes the shared layer, then the local layer, each bounded by
// the tower timeout. On any failure the layers already held are released.
func (t *Tower) Acquire(ctx context.Context) error {
	sharedCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	locked, err := t.shared.TryLockContext(sharedCtx, retryInterval)
	if err != nil || !locked {
		if err == nil || sharedCtx.Err() != nil {
			return fmt.Errorf("%w: shared layer (%s)", ErrTimeout, t.shared.Path())
		}
		return fmt.Errorf("semaphore: shared layer: %w", err)
	}

	select {
	case <-t.local:
		return nil
	case <-time.After(t.timeout):
		t.unlockShared()
		return fmt.Errorf("%w: local layer", ErrTimeout)
	case <-ctx.Done():
		t.unlockShared()
		return fmt.Errorf("semaphore: local layer: %w", ctx.Err())
	}
}

// Release releases the local layer, then the shared one.
func (t *Tower) Release() {
	select {
	case t.local <- struct{}{}:
	default:
		// released without being held; tolerated like a double unlock
		t.logger.Warn().Msg("semaphore released while not held")
	}
	t.unlockShared()
}

func (t *Tower) unlockShared() {
	if err := t.shared.Unlock(); err != nil {
		t.logger.Debug().Err(err).Str("path", t.shared.Path()).Msg("failed to release shared lock")
	}
}
