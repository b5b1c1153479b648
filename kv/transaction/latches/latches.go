package latches

import (
	"sync"
)

// Latches serialize the version check and the staging step of single store writes on the same row. They are held for
// one write only and are unrelated to row locks, which a store session holds until its transaction ends.
//
// Every latched key maps to the WaitGroup of the write holding it. A write latches all of its keys at once or none of
// them, so two writes never hold part of each other's keys.
type Latches struct {
	mu   sync.Mutex
	held map[string]*sync.WaitGroup

	// Validation, if set, is called with the keys of every Run while they are latched. Tests only.
	Validation func(keys [][]byte)
}

// NewLatches returns the latch table of one store.
func NewLatches() *Latches {
	return &Latches{held: make(map[string]*sync.WaitGroup)}
}

// AcquireLatches latches every key in keys and returns nil, or returns the WaitGroup of a write holding one of them
// and latches nothing.
func (l *Latches) AcquireLatches(keys [][]byte) *sync.WaitGroup {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		if wg, ok := l.held[string(key)]; ok {
			return wg
		}
	}
	wg := new(sync.WaitGroup)
	wg.Add(1)
	for _, key := range keys {
		l.held[string(key)] = wg
	}
	return nil
}

// ReleaseLatches unlatches keys, which must have been latched by one AcquireLatches call, and wakes the writes
// waiting for them.
func (l *Latches) ReleaseLatches(keys [][]byte) {
	if len(keys) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if wg, ok := l.held[string(keys[0])]; ok {
		wg.Done()
	}
	for _, key := range keys {
		delete(l.held, string(key))
	}
}

// WaitForLatches blocks until it has latched all keys.
func (l *Latches) WaitForLatches(keys [][]byte) {
	for {
		wg := l.AcquireLatches(keys)
		if wg == nil {
			return
		}
		wg.Wait()
	}
}

// Run latches keys, calls fn and releases the latches again. Duplicate keys are latched once.
func (l *Latches) Run(keys [][]byte, fn func() error) error {
	keys = dedup(keys)
	l.WaitForLatches(keys)
	defer l.ReleaseLatches(keys)
	if l.Validation != nil {
		l.Validation(keys)
	}
	return fn()
}

func dedup(keys [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[string(k)]; ok {
			continue
		}
		seen[string(k)] = struct{}{}
		out = append(out, k)
	}
	return out
}
