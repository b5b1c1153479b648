package lockwaiter

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/stretchr/testify/assert"
)

func TestSharedLocksAreCompatible(t *testing.T) {
	lw := NewManager()
	ctx := context.Background()
	assert.Nil(t, lw.Acquire(ctx, 1, "k", lock.Shared, 10*time.Millisecond))
	assert.Nil(t, lw.Acquire(ctx, 2, "k", lock.Shared, 10*time.Millisecond))
	assert.Equal(t, lock.Shared, lw.Held(1, "k"))
	assert.Equal(t, lock.Shared, lw.Held(2, "k"))
}

func TestUpdateLocksAreExclusive(t *testing.T) {
	lw := NewManager()
	ctx := context.Background()
	assert.Nil(t, lw.Acquire(ctx, 1, "k", lock.Update, 10*time.Millisecond))
	assert.Equal(t, ErrWaitTimeout, lw.Acquire(ctx, 2, "k", lock.Update, 10*time.Millisecond))
	assert.Equal(t, ErrWaitTimeout, lw.Acquire(ctx, 2, "k", lock.Shared, 10*time.Millisecond))
	// Reads without locks are never blocked.
	assert.Nil(t, lw.Acquire(ctx, 2, "k", lock.None, 10*time.Millisecond))
	// The owner itself can escalate.
	assert.Nil(t, lw.Acquire(ctx, 1, "k", lock.Exclusive, 10*time.Millisecond))
	assert.Equal(t, lock.Exclusive, lw.Held(1, "k"))
	// Other keys are independent.
	assert.Nil(t, lw.Acquire(ctx, 2, "other", lock.Update, 10*time.Millisecond))
}

func TestWaiterWakesUpOnRelease(t *testing.T) {
	lw := NewManager()
	ctx := context.Background()
	assert.Nil(t, lw.Acquire(ctx, 1, "k", lock.Exclusive, 0))

	done := make(chan error, 1)
	go func() {
		done <- lw.Acquire(ctx, 2, "k", lock.Shared, time.Second)
	}()
	select {
	case <-done:
		t.Fatal("shared lock granted while exclusive lock is held")
	case <-time.After(20 * time.Millisecond):
	}
	lw.ReleaseAll(1)
	assert.Nil(t, <-done)
	assert.Equal(t, lock.None, lw.Held(1, "k"))
}

func TestContextDeadline(t *testing.T) {
	lw := NewManager()
	assert.Nil(t, lw.Acquire(context.Background(), 1, "k", lock.Update, 0))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Equal(t, ErrWaitTimeout, lw.Acquire(ctx, 2, "k", lock.Update, 0))

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	err := lw.Acquire(ctx, 2, "k", lock.Update, 0)
	assert.NotNil(t, err)
	assert.NotEqual(t, ErrWaitTimeout, err)
}

func TestReleaseTo(t *testing.T) {
	lw := NewManager()
	ctx := context.Background()
	assert.Nil(t, lw.Acquire(ctx, 1, "k", lock.Update, 0))
	lw.ReleaseTo(1, "k", lock.Shared)
	assert.Equal(t, lock.Shared, lw.Held(1, "k"))
	assert.Nil(t, lw.Acquire(ctx, 2, "k", lock.Shared, 10*time.Millisecond))
	lw.ReleaseTo(1, "k", lock.None)
	assert.Equal(t, lock.None, lw.Held(1, "k"))
}
