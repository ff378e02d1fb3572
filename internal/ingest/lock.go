// Package ingest owns the document ingestion pipeline: validate, lock,
// checksum, parse, chunk, embed, persist, enrich, finalize.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/scribe-rag/scribe/internal/errors"
)

// DefaultLockTimeout is how long a holder may keep a path lock before it
// is reclaimed. Reclamation indicates a stuck or leaked ingestion.
const DefaultLockTimeout = 300 * time.Second

// LockManager serializes ingestion per document path. Keys are
// case-insensitive so path spelling differences cannot defeat the lock.
// Waiters are served in FIFO order; a held lock is auto-released after the
// timeout with a warning.
type LockManager struct {
	mu      sync.Mutex
	locks   map[string]*pathLock
	timeout time.Duration
	logger  *slog.Logger
}

type pathLock struct {
	held bool
	gen  uint64 // increments per grant; guards stale releases
	// waiters receive the generation of their grant, so their release
	// closures can never free a later grant.
	waiters []chan uint64
	timer   *time.Timer
}

// NewLockManager creates a manager with the given auto-release timeout
// (DefaultLockTimeout when zero).
func NewLockManager(timeout time.Duration, logger *slog.Logger) *LockManager {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LockManager{
		locks:   make(map[string]*pathLock),
		timeout: timeout,
		logger:  logger.With("component", "doc_lock"),
	}
}

// Acquire blocks until the path lock is granted or ctx is done. The
// returned release function is idempotent and safe to call after an
// auto-release.
func (m *LockManager) Acquire(ctx context.Context, path string) (func(), error) {
	key := strings.ToLower(path)

	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &pathLock{}
		m.locks[key] = l
	}
	if !l.held {
		release := m.grantLocked(key, l)
		m.mu.Unlock()
		return release, nil
	}

	ch := make(chan uint64, 1)
	l.waiters = append(l.waiters, ch)
	m.mu.Unlock()

	select {
	case gen := <-ch:
		return func() { m.release(key, gen) }, nil
	case <-ctx.Done():
		m.abandonWaiter(key, ch)
		return nil, errors.Timeout("timed out waiting for document lock: "+path, ctx.Err())
	}
}

// TryAcquire grants the lock only if it is free right now.
func (m *LockManager) TryAcquire(path string) (func(), bool) {
	key := strings.ToLower(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &pathLock{}
		m.locks[key] = l
	}
	if l.held {
		return nil, false
	}
	return m.grantLocked(key, l), true
}

// grantLocked marks the lock held and arms the auto-release timer.
// Callers hold m.mu.
func (m *LockManager) grantLocked(key string, l *pathLock) func() {
	l.held = true
	l.gen++
	gen := l.gen

	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(m.timeout, func() {
		m.logger.Warn("document lock held past timeout, auto-releasing",
			"path", key, "timeout", m.timeout)
		m.release(key, gen)
	})

	return func() { m.release(key, gen) }
}

// release frees the grant identified by gen and hands the lock to the
// oldest waiter, if any.
func (m *LockManager) release(key string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok || !l.held || l.gen != gen {
		// Already released (possibly by the timeout) and maybe regranted.
		return
	}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}

	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		m.grantLocked(key, l)
		next <- l.gen
		return
	}

	l.held = false
	delete(m.locks, key)
}

// abandonWaiter removes a cancelled waiter, re-releasing if the grant
// raced with cancellation.
func (m *LockManager) abandonWaiter(key string, ch chan uint64) {
	m.mu.Lock()
	if l, ok := m.locks[key]; ok {
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				m.mu.Unlock()
				return
			}
		}
	}
	m.mu.Unlock()

	// Not in the waiter list: the grant already fired. Give it back.
	select {
	case gen := <-ch:
		m.release(key, gen)
	default:
	}
}
