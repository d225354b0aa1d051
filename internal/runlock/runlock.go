// Package runlock provides mutual exclusion for recurrence runs so that two
// triggers (cron and a manual API call, or two worker replicas) do not walk the
// same batch at the same time.
package runlock

import (
	"context"
	"sync"
	"time"
)

// Release frees a held lock.
type Release func(ctx context.Context) error

// Locker acquires a named lock with a TTL. ok is false when another holder
// currently owns the key; err is reserved for backend failures.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release Release, ok bool, err error)
}

func noopRelease(context.Context) error { return nil }

// Nop always grants the lock.
type Nop struct{}

// Acquire implements Locker.
func (Nop) Acquire(context.Context, string, time.Duration) (Release, bool, error) {
	return noopRelease, true, nil
}

// Local is an in-process Locker. Expired holds are reclaimed on the next Acquire.
type Local struct {
	mu   sync.Mutex
	held map[string]localHold
	seq  uint64
	now  func() time.Time
}

type localHold struct {
	token   uint64
	expires time.Time
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]localHold), now: time.Now}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, false, nil
	}

	l.seq++
	token := l.seq
	l.held[key] = localHold{token: token, expires: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.held[key]; ok && h.token == token {
			delete(l.held, key)
		}
		return nil
	}
	return release, true, nil
}

var (
	_ Locker = Nop{}
	_ Locker = (*Local)(nil)
)
