package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/jobala/kcore/util"
	"github.com/stretchr/testify/assert"
)

func TestSpinLock(t *testing.T) {
	t.Run("serializes critical sections", func(t *testing.T) {
		var lk SpinLock
		counter := 0

		var wg sync.WaitGroup
		for n := 0; n < 8; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < 1000; n++ {
					lk.Acquire()
					counter++
					lk.Release()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 8000, counter)
	})

	t.Run("try acquire fails while held", func(t *testing.T) {
		var lk SpinLock

		lk.Acquire()
		assert.False(t, lk.TryAcquire())

		lk.Release()
		assert.True(t, lk.TryAcquire())
		lk.Release()
	})

	t.Run("releasing an unheld lock is fatal", func(t *testing.T) {
		var lk SpinLock

		assert.PanicsWithError(t, "spinlock: release of unheld lock", func() {
			lk.Release()
		})
	})
}

func TestSleepLock(t *testing.T) {
	t.Run("blocks a second acquirer until release", func(t *testing.T) {
		lk := NewSleepLock()
		lk.Acquire()

		acquired := make(chan struct{})
		go func() {
			lk.Acquire()
			close(acquired)
		}()

		select {
		case <-acquired:
			t.Fatal("second acquire succeeded while lock was held")
		case <-time.After(20 * time.Millisecond):
		}

		lk.Release()
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("waiter was never woken")
		}
		lk.Release()
	})

	t.Run("holding reflects lock state", func(t *testing.T) {
		lk := NewSleepLock()
		assert.False(t, lk.Holding())

		lk.Acquire()
		assert.True(t, lk.Holding())

		lk.Release()
		assert.False(t, lk.Holding())
	})

	t.Run("releasing an unheld lock is fatal", func(t *testing.T) {
		lk := NewSleepLock()

		defer func() {
			err, ok := recover().(*util.FatalError)
			assert.True(t, ok)
			assert.ErrorContains(t, err, "unheld lock")
		}()
		lk.Release()
	})
}
