// Package lock serialises sync runs across processes with file locks
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/tildaslashalef/tether/internal/loggy"
)

// ErrLocked is returned when another run holds the lock past the timeout
var ErrLocked = errors.New("another sync run holds the lock")

const retryDelay = 100 * time.Millisecond

// Locker hands out per provider and project locks. A run over every project
// of a provider locks the provider exclusively; a single-project run holds the
// provider lock shared and the project lock exclusively.
type Locker struct {
	dir     string
	timeout time.Duration
	logger  *loggy.Logger
}

// New creates a Locker keeping its lock files in dir
func New(dir string, timeout time.Duration, logger *loggy.Logger) *Locker {
	return &Locker{dir: dir, timeout: timeout, logger: logger}
}

// Release unlocks everything an Acquire call took
type Release func() error

// Acquire blocks until the lock for provider and project is held, the
// timeout passes or ctx is done. An empty project locks the whole provider.
func (l *Locker) Acquire(ctx context.Context, provider, project string) (Release, error) {
	if provider == "" {
		return nil, errors.New("lock: provider is required")
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	providerLock := flock.New(l.path(provider, ""))
	if project == "" {
		if err := l.take(ctx, providerLock, false); err != nil {
			return nil, err
		}
		l.logger.Debug("Acquired sync lock", "provider", provider)
		return providerLock.Unlock, nil
	}

	if err := l.take(ctx, providerLock, true); err != nil {
		return nil, err
	}
	projectLock := flock.New(l.path(provider, project))
	if err := l.take(ctx, projectLock, false); err != nil {
		_ = providerLock.Unlock()
		return nil, err
	}

	l.logger.Debug("Acquired sync lock", "provider", provider, "project", project)
	return func() error {
		return errors.Join(projectLock.Unlock(), providerLock.Unlock())
	}, nil
}

func (l *Locker) take(ctx context.Context, fl *flock.Flock, shared bool) error {
	var locked bool
	var err error
	if shared {
		locked, err = fl.TryRLockContext(ctx, retryDelay)
	} else {
		locked, err = fl.TryLockContext(ctx, retryDelay)
	}

	if err != nil || !locked {
		_ = fl.Close()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrLocked, fl.Path())
	case err != nil:
		return fmt.Errorf("acquiring lock %s: %w", fl.Path(), err)
	case !locked:
		return fmt.Errorf("%w: %s", ErrLocked, fl.Path())
	}
	return nil
}

// path maps a provider and project to a lock file name
func (l *Locker) path(provider, project string) string {
	name := sanitize(provider)
	if project != "" {
		name += "--" + sanitize(project)
	}
	return filepath.Join(l.dir, name+".lock")
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, s)
}
