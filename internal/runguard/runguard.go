// Package runguard keeps pipeline runs from overlapping across processes with
// a lock file. A lock older than the staleness threshold is assumed to belong
// to a crashed run and is taken over.
package runguard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Guard is a mutually exclusive, file-based run lock.
type Guard struct {
	path       string
	staleAfter time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
}

// New creates a Guard on path. A nil clock uses real time.
func New(path string, staleAfter time.Duration, clock clockwork.Clock, logger *slog.Logger) *Guard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guard{path: path, staleAfter: staleAfter, clock: clock, logger: logger}
}

// Acquire takes the lock. It returns domain.ErrRunInProgress when a fresh
// lock is held by someone else.
func (g *Guard) Acquire() (release func() error, err error) {
	for range 2 {
		f, err := os.OpenFile(g.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			stamp := g.clock.Now().UTC()
			_, werr := fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), stamp.Format(time.RFC3339Nano))
			cerr := f.Close()
			if err := errors.Join(werr, cerr); err != nil {
				_ = os.Remove(g.path)
				return nil, fmt.Errorf("write lock %s: %w", g.path, err)
			}
			return g.releaseFunc(stamp), nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", g.path, err)
		}

		age, err := g.age()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // released between our attempts
			}
			return nil, err
		}
		if age < g.staleAfter {
			return nil, fmt.Errorf("%w: lock %s held for %s", domain.ErrRunInProgress, g.path, age.Truncate(time.Second))
		}

		g.logger.Warn("removing stale run lock", "path", g.path, "age", age)
		if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock %s: %w", g.path, err)
		}
	}
	return nil, fmt.Errorf("%w: lock %s contended", domain.ErrRunInProgress, g.path)
}

// Run executes fn while holding the lock.
func (g *Guard) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := g.Acquire()
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			g.logger.Error("release run lock", "path", g.path, "error", err)
		}
	}()
	return fn(ctx)
}

// releaseFunc removes the lock only if it is still ours; a holder that went
// stale and was taken over must not delete its successor's lock.
func (g *Guard) releaseFunc(stamp time.Time) func() error {
	return func() error {
		held, err := g.stamp()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err == nil && !held.Equal(stamp) {
			return nil
		}
		if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove lock %s: %w", g.path, err)
		}
		return nil
	}
}

// age reports how long the current lock has been held, from the timestamp
// written into it or, failing that, its modification time.
func (g *Guard) age() (time.Duration, error) {
	stamp, err := g.stamp()
	if errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	if err != nil {
		info, serr := os.Stat(g.path)
		if serr != nil {
			return 0, serr
		}
		stamp = info.ModTime()
	}
	return g.clock.Since(stamp), nil
}

func (g *Guard) stamp() (time.Time, error) {
	raw, err := os.ReadFile(g.path)
	if err != nil {
		return time.Time{}, err
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		return time.Time{}, fmt.Errorf("malformed lock %s", g.path)
	}
	if _, err := strconv.Atoi(lines[0]); err != nil {
		return time.Time{}, fmt.Errorf("malformed lock %s: %w", g.path, err)
	}
	return time.Parse(time.RFC3339Nano, lines[1])
}
