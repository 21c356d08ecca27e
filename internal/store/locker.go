package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrSessionBusy is returned when a session's lock cannot be acquired
// before the timeout.
var ErrSessionBusy = fmt.Errorf("store: session busy")

const (
	// DefaultLockTimeout bounds how long a second caller waits for a
	// session already mid-turn.
	DefaultLockTimeout = 30 * time.Second

	// defaultLockTTL is how long a holder may sit on a lock before the
	// janitor assumes its goroutine died and reclaims it.
	defaultLockTTL = 5 * time.Minute

	lockSweepInterval = 30 * time.Second
)

type sessionLock struct {
	sem      chan struct{}
	holder   string
	acquired time.Time
	gen      uint64
	refs     int
}

// SessionLockManager hands out one lock per session id so a session's
// chat turns, feedback writes, and deletion never interleave. Locks are
// created on demand and dropped once nobody holds or waits on them.
type SessionLockManager struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
	ttl   time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSessionLockManager starts the manager and its stale-lock janitor.
// ttl <= 0 uses the default.
func NewSessionLockManager(ttl time.Duration) *SessionLockManager {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	m := &SessionLockManager{
		locks: make(map[string]*sessionLock),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Acquire blocks until the session's lock is free, the context is done,
// or the timeout elapses. On success it returns a release func that is
// safe to call more than once. timeout <= 0 uses DefaultLockTimeout.
func (m *SessionLockManager) Acquire(ctx context.Context, sessionID, holder string, timeout time.Duration) (func(), error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	m.mu.Lock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sessionLock{sem: make(chan struct{}, 1)}
		m.locks[sessionID] = lock
	}
	lock.refs++
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		m.drop(sessionID, lock)
		return nil, ctx.Err()
	case <-timer.C:
		m.mu.Lock()
		current := lock.holder
		m.mu.Unlock()
		m.drop(sessionID, lock)
		return nil, fmt.Errorf("%w: session %s held by %s", ErrSessionBusy, sessionID, current)
	}

	m.mu.Lock()
	lock.holder = holder
	lock.acquired = time.Now()
	lock.gen++
	gen := lock.gen
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// A reclaimed lock belongs to someone else now; only the
			// current generation may return the token.
			if lock.gen == gen {
				lock.holder = ""
				select {
				case <-lock.sem:
				default:
				}
			}
			lock.refs--
			if lock.refs == 0 {
				delete(m.locks, sessionID)
			}
		})
	}
	return release, nil
}

// Holder reports who currently holds the session's lock, if anyone.
func (m *SessionLockManager) Holder(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok || lock.holder == "" {
		return "", false
	}
	return lock.holder, true
}

// Stop halts the janitor. Outstanding locks remain valid.
func (m *SessionLockManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *SessionLockManager) drop(sessionID string, lock *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, sessionID)
	}
}

func (m *SessionLockManager) janitor() {
	ticker := time.NewTicker(lockSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *SessionLockManager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lock := range m.locks {
		if lock.holder == "" || now.Sub(lock.acquired) <= m.ttl {
			continue
		}
		select {
		case <-lock.sem:
		default:
		}
		lock.holder = ""
		lock.acquired = time.Time{}
		lock.gen++
	}
}
