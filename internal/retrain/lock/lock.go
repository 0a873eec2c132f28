// Package lock provides the single-flight guard that keeps two retrain cycles from writing the
// same destination at once.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const module = "lock"

// Lock is a held cycle lock.
type Lock struct {
	path string
	lock *flock.Flock
}

// Path returns the lock file for key below dir. An empty dir means the system temp directory.
func Path(dir, key string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(dir, fmt.Sprintf("retrainer-%s.lock", hex.EncodeToString(sum[:8])))
}

// Acquire takes the lock for key without waiting. A lock held elsewhere fails with ErrLockHeld.
func Acquire(dir, key string) (*Lock, error) {
	p := Path(dir, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("failed to create lock directory for '%s'", p), err, false)
	}
	l := &Lock{path: p, lock: flock.New(p)}
	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("failed to acquire lock '%s'", p), err, false)
	}
	if !ok {
		return nil, exception.Wrap(module, fmt.Sprintf("another cycle holds '%s' for '%s'", p, key), exception.ErrLockHeld, nil)
	}
	logger.Debugf("Acquired cycle lock '%s' for '%s'.", p, key)
	return l, nil
}

// Path returns the lock file of l.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks. The lock file stays in place.
func (l *Lock) Release() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock '%s': %w", l.path, err)
	}
	logger.Debugf("Released cycle lock '%s'.", l.path)
	return nil
}
