package lockwaiter

import (
	"context"
	"sync"
	"time"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap/errors"
)

// ErrWaitTimeout is returned by Acquire when the lock could not be granted before the timeout or the context
// deadline.
var ErrWaitTimeout = errors.New("lock wait timeout")

// Manager is a table of row locks held by store sessions. Owners are store session ids, keys are encoded row keys.
// A lock request is granted when its strength is compatible with the strength every other owner holds on the key;
// otherwise the requester waits until a holder releases the key.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*entry
	owned map[uint64]map[string]struct{}
}

func NewManager() *Manager {
	return &Manager{
		locks: map[string]*entry{},
		owned: map[uint64]map[string]struct{}{},
	}
}

type entry struct {
	holders map[uint64]lock.Strength
	waiters []*Waiter
}

// grantable reports whether owner may hold strength on this entry.
// it should be used under map lock protection
func (e *entry) grantable(owner uint64, strength lock.Strength) bool {
	for o, held := range e.holders {
		if o == owner {
			continue
		}
		if !lock.Compatible(held, strength) {
			return false
		}
	}
	return true
}

// removeWaiter removes the correspond waiter from pending array
// it should be used under map lock protection
func (e *entry) removeWaiter(w *Waiter) {
	for i, waiter := range e.waiters {
		if waiter == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			break
		}
	}
}

type Waiter struct {
	ch       chan struct{}
	Owner    uint64
	Key      string
	Strength lock.Strength
}

// Acquire blocks until owner holds at least strength on key, the timeout elapses or ctx is done. A zero timeout
// means wait as long as ctx allows. None is granted immediately and never recorded.
func (lw *Manager) Acquire(ctx context.Context, owner uint64, key string, strength lock.Strength, timeout time.Duration) error {
	if strength == lock.None {
		return nil
	}
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		w, granted := lw.tryAcquire(owner, key, strength)
		if granted {
			return nil
		}
		select {
		case <-w.ch:
		case <-timer:
			lw.cleanUp(w)
			log.Infof("lock wait timeout: owner=%d key=%q strength=%v", owner, key, strength)
			return ErrWaitTimeout
		case <-ctx.Done():
			lw.cleanUp(w)
			if ctx.Err() == context.DeadlineExceeded {
				return ErrWaitTimeout
			}
			return errors.Trace(ctx.Err())
		}
	}
}

func (lw *Manager) tryAcquire(owner uint64, key string, strength lock.Strength) (*Waiter, bool) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	e, ok := lw.locks[key]
	if !ok {
		e = &entry{holders: map[uint64]lock.Strength{}}
		lw.locks[key] = e
	}
	if e.grantable(owner, strength) {
		e.holders[owner] = lock.Max(e.holders[owner], strength)
		keys, ok := lw.owned[owner]
		if !ok {
			keys = map[string]struct{}{}
			lw.owned[owner] = keys
		}
		keys[key] = struct{}{}
		return nil, true
	}
	w := &Waiter{ch: make(chan struct{}, 1), Owner: owner, Key: key, Strength: strength}
	e.waiters = append(e.waiters, w)
	return w, false
}

// Held returns the strength owner holds on key.
func (lw *Manager) Held(owner uint64, key string) lock.Strength {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if e, ok := lw.locks[key]; ok {
		return e.holders[owner]
	}
	return lock.None
}

// Release drops owner's lock on key and wakes up the key's waiters.
func (lw *Manager) Release(owner uint64, key string) {
	lw.mu.Lock()
	waiters := lw.release(owner, key)
	lw.mu.Unlock()
	wakeUp(waiters)
}

// ReleaseTo lowers owner's lock on key to strength if it holds more, releasing it entirely for None.
func (lw *Manager) ReleaseTo(owner uint64, key string, strength lock.Strength) {
	if strength == lock.None {
		lw.Release(owner, key)
		return
	}
	lw.mu.Lock()
	var waiters []*Waiter
	if e, ok := lw.locks[key]; ok {
		if held, ok := e.holders[owner]; ok && held > strength {
			e.holders[owner] = strength
			waiters = e.waiters
			e.waiters = nil
		}
	}
	lw.mu.Unlock()
	wakeUp(waiters)
}

// ReleaseAll drops every lock held by owner. Called when a store transaction ends.
func (lw *Manager) ReleaseAll(owner uint64) {
	var waiters []*Waiter
	lw.mu.Lock()
	for key := range lw.owned[owner] {
		waiters = append(waiters, lw.release(owner, key)...)
	}
	delete(lw.owned, owner)
	lw.mu.Unlock()
	if len(waiters) > 0 {
		log.Debugf("owner %d released its locks, waking up %d waiters", owner, len(waiters))
	}
	wakeUp(waiters)
}

// release should be used under map lock protection. Every waiter of the key is returned so it can retry.
func (lw *Manager) release(owner uint64, key string) []*Waiter {
	e, ok := lw.locks[key]
	if !ok {
		return nil
	}
	delete(e.holders, owner)
	if keys, ok := lw.owned[owner]; ok {
		delete(keys, key)
	}
	waiters := e.waiters
	e.waiters = nil
	if len(e.holders) == 0 {
		delete(lw.locks, key)
	}
	return waiters
}

// cleanUp removes a waiter that gave up.
func (lw *Manager) cleanUp(w *Waiter) {
	lw.mu.Lock()
	if e, ok := lw.locks[w.Key]; ok {
		e.removeWaiter(w)
		if len(e.holders) == 0 && len(e.waiters) == 0 {
			delete(lw.locks, w.Key)
		}
	}
	lw.mu.Unlock()
}

func wakeUp(waiters []*Waiter) {
	for _, w := range waiters {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}
