package latches

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireLatches(t *testing.T) {
	l := NewLatches()
	row, other := []byte("t\x00r1"), []byte("t\x00r2")

	assert.Nil(t, l.AcquireLatches([][]byte{row, other}))
	// A write touching either key has to wait.
	wg := l.AcquireLatches([][]byte{other})
	assert.NotNil(t, wg)
	assert.NotNil(t, l.AcquireLatches([][]byte{[]byte("t\x00r3"), row}))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	l.ReleaseLatches([][]byte{row, other})
	<-done
	assert.Nil(t, l.AcquireLatches([][]byte{other}))
	assert.Len(t, l.held, 1)
}

// TestRunSerializes checks that writers of the same row key never overlap.
func TestRunSerializes(t *testing.T) {
	l := NewLatches()
	var validated int
	l.Validation = func(keys [][]byte) {
		validated++
		assert.Len(t, keys, 1)
	}
	var (
		wg      sync.WaitGroup
		inside  int
		counter int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Run([][]byte{{7}, {7}}, func() error {
				inside++
				assert.Equal(t, 1, inside)
				counter++
				inside--
				return nil
			})
			assert.Nil(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
	assert.Equal(t, 20, validated)
}
